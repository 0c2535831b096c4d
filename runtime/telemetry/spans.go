package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanTurn    = "ctxengine.turn"
	SpanTools   = "ctxengine.tools"
	SpanCommit  = "ctxengine.commit"
	SpanContext = "ctxengine.get_context"
)

// Attribute keys.
const (
	AttrSessionID       = attribute.Key("ctxengine.session_id")
	AttrTurnID          = attribute.Key("ctxengine.turn_id")
	AttrTopic           = attribute.Key("ctxengine.topic")
	AttrPreviousTopic   = attribute.Key("ctxengine.previous_topic")
	AttrTopicSwitch     = attribute.Key("ctxengine.topic_switch")
	AttrConfidence      = attribute.Key("ctxengine.topic_confidence")
	AttrResolved        = attribute.Key("ctxengine.reference_resolved")
	AttrToolsUsed       = attribute.Key("ctxengine.tools_used")
	AttrAttempts        = attribute.Key("ctxengine.commit_attempts")
	AttrPersisted       = attribute.Key("ctxengine.persisted")
	AttrContextVersion  = attribute.Key("ctxengine.context_version")
	AttrTurnFailed      = attribute.Key("ctxengine.turn_failed")
	AttrStoreOperation  = attribute.Key("ctxengine.store_operation")
	AttrHistoryLength   = attribute.Key("ctxengine.history_length")
	AttrMentionedEntity = attribute.Key("ctxengine.entity_id")
)

// StartTurnSpan starts the root span for one turn.
func StartTurnSpan(ctx context.Context, tracer trace.Tracer, sessionID, turnID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanTurn,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrSessionID.String(sessionID),
			AttrTurnID.String(turnID),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
