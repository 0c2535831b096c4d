package events

import "time"

// Emitter publishes turn events stamped with the session and turn they belong to.
// A nil Emitter, or one without a bus, drops every event.
type Emitter struct {
	bus       *EventBus
	sessionID string
	turnID    string
}

// NewEmitter creates a new event emitter.
func NewEmitter(bus *EventBus, sessionID, turnID string) *Emitter {
	return &Emitter{
		bus:       bus,
		sessionID: sessionID,
		turnID:    turnID,
	}
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}

	e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		TurnID:    e.turnID,
		Data:      data,
	})
}

// TurnStarted emits the turn.started event.
func (e *Emitter) TurnStarted(messageLength int) {
	e.emit(EventTurnStarted, TurnStartedData{MessageLength: messageLength})
}

// TurnCompleted emits the turn.completed event.
func (e *Emitter) TurnCompleted(topic string, tools []string, duration time.Duration, attempts int, persisted bool) {
	e.emit(EventTurnCompleted, TurnCompletedData{
		Topic:     topic,
		ToolsUsed: tools,
		Duration:  duration,
		Attempts:  attempts,
		Persisted: persisted,
	})
}

// TurnFailed emits the turn.failed event.
func (e *Emitter) TurnFailed(stage string, err error, duration time.Duration) {
	data := TurnFailedData{Stage: stage, Duration: duration}
	if err != nil {
		data.Error = err.Error()
	}
	e.emit(EventTurnFailed, data)
}

// ReferenceResolved emits the reference.resolved event.
func (e *Emitter) ReferenceResolved(data ReferenceResolvedData) {
	e.emit(EventReferenceResolved, data)
}

// TopicClassified emits the topic.classified event.
func (e *Emitter) TopicClassified(data TopicClassifiedData) {
	e.emit(EventTopicClassified, data)
}

// TopicSwitched emits the topic.switched event.
func (e *Emitter) TopicSwitched(from, to string, confidence float64, switchCount int) {
	e.emit(EventTopicSwitched, TopicSwitchedData{
		From:        from,
		To:          to,
		Confidence:  confidence,
		SwitchCount: switchCount,
	})
}

// EntitiesTracked emits the entities.tracked event.
func (e *Emitter) EntitiesTracked(products, orders, cartDeltas, issues int) {
	e.emit(EventEntitiesTracked, EntitiesTrackedData{
		Products:   products,
		Orders:     orders,
		CartDeltas: cartDeltas,
		Issues:     issues,
	})
}

// ContextPersisted emits the context.persisted event.
func (e *Emitter) ContextPersisted(version int64, attempt int, duration time.Duration) {
	e.emit(EventContextPersisted, ContextPersistedData{
		Version:  version,
		Attempt:  attempt,
		Duration: duration,
	})
}

// PersistenceConflict emits the context.conflict event.
func (e *Emitter) PersistenceConflict(attempt int) {
	e.emit(EventPersistenceConflict, PersistenceConflictData{Attempt: attempt})
}

// PersistenceFailed emits the context.persistence_failed event.
func (e *Emitter) PersistenceFailed(err error, attempts int) {
	data := PersistenceFailedData{Attempts: attempts}
	if err != nil {
		data.Error = err.Error()
	}
	e.emit(EventPersistenceFailed, data)
}
