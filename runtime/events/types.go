package events

import "time"

// EventType identifies the type of event emitted by the engine.
type EventType string

const (
	// EventTurnStarted marks the start of turn processing.
	EventTurnStarted EventType = "turn.started"
	// EventTurnCompleted marks a turn whose context update was committed or attempted.
	EventTurnCompleted EventType = "turn.completed"
	// EventTurnFailed marks a turn that degraded to the fallback response.
	EventTurnFailed EventType = "turn.failed"

	// EventReferenceResolved marks a reference resolution attempt.
	EventReferenceResolved EventType = "reference.resolved"
	// EventTopicClassified marks a topic classification.
	EventTopicClassified EventType = "topic.classified"
	// EventTopicSwitched marks a detected topic switch.
	EventTopicSwitched EventType = "topic.switched"
	// EventEntitiesTracked marks extraction of mentions and cart deltas.
	EventEntitiesTracked EventType = "entities.tracked"

	// EventContextPersisted marks a successful save of the session context.
	EventContextPersisted EventType = "context.persisted"
	// EventPersistenceConflict marks a lost optimistic-concurrency race that will be retried.
	EventPersistenceConflict EventType = "context.conflict"
	// EventPersistenceFailed marks a save that could not be completed.
	EventPersistenceFailed EventType = "context.persistence_failed"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a turn event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	TurnID    string
	Data      EventData
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// TurnStartedData contains data for turn start events.
type TurnStartedData struct {
	baseEventData
	MessageLength int `json:"message_length"`
}

// TurnCompletedData contains data for turn completion events.
type TurnCompletedData struct {
	baseEventData
	Topic     string        `json:"topic"`
	ToolsUsed []string      `json:"tools_used"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Persisted bool          `json:"persisted"`
}

// TurnFailedData contains data for failed turns.
type TurnFailedData struct {
	baseEventData
	Stage    string        `json:"stage"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

// ReferenceResolvedData contains data for reference resolution events.
type ReferenceResolvedData struct {
	baseEventData
	Applied       bool   `json:"applied"`
	Ambiguous     bool   `json:"ambiguous,omitempty"`
	Substitutions int    `json:"substitutions"`
	EntityID      string `json:"entity_id,omitempty"`
	FellBack      bool   `json:"fell_back,omitempty"`
}

// TopicClassifiedData contains data for topic classification events.
type TopicClassifiedData struct {
	baseEventData
	Topic         string  `json:"topic"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
	Tie           bool    `json:"tie,omitempty"`
	Greeting      bool    `json:"greeting,omitempty"`
}

// TopicSwitchedData contains data for topic switch events.
type TopicSwitchedData struct {
	baseEventData
	From        string  `json:"from"`
	To          string  `json:"to"`
	Confidence  float64 `json:"confidence"`
	SwitchCount int     `json:"switch_count"`
}

// EntitiesTrackedData contains data for entity extraction events.
type EntitiesTrackedData struct {
	baseEventData
	Products   int `json:"products"`
	Orders     int `json:"orders"`
	CartDeltas int `json:"cart_deltas"`
	Issues     int `json:"issues"`
}

// ContextPersistedData contains data for successful saves.
type ContextPersistedData struct {
	baseEventData
	Version  int64         `json:"version"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
}

// PersistenceConflictData contains data for optimistic-concurrency conflicts.
type PersistenceConflictData struct {
	baseEventData
	Attempt int `json:"attempt"`
}

// PersistenceFailedData contains data for failed saves.
type PersistenceFailedData struct {
	baseEventData
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}
