package prometheus

import (
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/events"
)

// Status and outcome constants for metric labels.
const (
	statusSuccess     = "success"
	statusFailed      = "failed"
	statusUnpersisted = "unpersisted"

	outcomeApplied    = "applied"
	outcomeAmbiguous  = "ambiguous"
	outcomeNotApplied = "not_applied"
	outcomeFallback   = "fallback"
)

// MetricsListener records turn events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch data := event.Data.(type) {
	case events.TurnStartedData:
		RecordTurnStart()
	case events.TurnCompletedData:
		status := statusSuccess
		if !data.Persisted {
			status = statusUnpersisted
		}
		RecordTurnEnd(data.Topic, status, data.Duration.Seconds())
	case events.TurnFailedData:
		RecordTurnEnd("", statusFailed, data.Duration.Seconds())
	case events.TopicClassifiedData:
		RecordTopicConfidence(data.Topic, data.Confidence)
	case events.TopicSwitchedData:
		RecordTopicSwitch(data.From, data.To)
	case events.ReferenceResolvedData:
		RecordResolution(resolutionOutcome(data))
	case events.EntitiesTrackedData:
		RecordEntities(data.Products, data.Orders, data.CartDeltas, data.Issues)
	case events.PersistenceConflictData:
		RecordPersistenceConflict()
	case events.PersistenceFailedData:
		RecordPersistenceFailure()
	case events.ContextPersistedData:
		RecordSave(data.Duration.Seconds())
	default:
		// Ignore events that don't have metrics
	}
}

func resolutionOutcome(data events.ReferenceResolvedData) string {
	switch {
	case data.FellBack:
		return outcomeFallback
	case !data.Applied:
		return outcomeNotApplied
	case data.Ambiguous:
		return outcomeAmbiguous
	default:
		return outcomeApplied
	}
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
