package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/entities"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/statestore"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/telemetry"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/topic"
)

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestProcessTurn_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	eng := newTestEngine(t, statestore.NewMemoryStore(), WithTracerProvider(tp))
	agent := newScriptedAgent(map[string][]entities.ToolResult{"Show me Sony headphones": {sonySearch}})

	res, err := eng.ProcessTurn(context.Background(), "s1", "Show me Sony headphones", agent.callback)
	require.NoError(t, err)
	_, err = eng.GetContext(context.Background(), "s1")
	require.NoError(t, err)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range recorder.Ended() {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, telemetry.SpanTurn)
	require.Contains(t, byName, telemetry.SpanTools)
	require.Contains(t, byName, telemetry.SpanCommit)
	require.Contains(t, byName, telemetry.SpanContext)

	turn := byName[telemetry.SpanTurn]
	for _, child := range []string{telemetry.SpanTools, telemetry.SpanCommit} {
		assert.Equal(t, turn.SpanContext().SpanID(), byName[child].Parent().SpanID(), child)
	}

	attrs := spanAttrs(turn)
	assert.Equal(t, "s1", attrs[telemetry.AttrSessionID].AsString())
	assert.Equal(t, res.TurnID, attrs[telemetry.AttrTurnID].AsString())
	assert.Equal(t, topic.Products, attrs[telemetry.AttrTopic].AsString())
	assert.True(t, attrs[telemetry.AttrPersisted].AsBool())
	assert.Equal(t, int64(1), attrs[telemetry.AttrContextVersion].AsInt64())
	assert.Equal(t, []string{"search_products"}, attrs[telemetry.AttrToolsUsed].AsStringSlice())
	assert.NotEqual(t, codes.Error, turn.Status().Code)

	ctxAttrs := spanAttrs(byName[telemetry.SpanContext])
	assert.Equal(t, int64(1), ctxAttrs[telemetry.AttrHistoryLength].AsInt64())
}

func TestProcessTurn_FailedStoreMarksSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	store := &faultyStore{Store: statestore.NewMemoryStore(), saveErr: assert.AnError}
	eng := newTestEngine(t, store, WithTracerProvider(tp))

	_, err := eng.ProcessTurn(context.Background(), "s1", "hello", newScriptedAgent(nil).callback)
	require.ErrorIs(t, err, ErrPersistence)

	for _, s := range recorder.Ended() {
		if s.Name() == telemetry.SpanTurn || s.Name() == telemetry.SpanCommit {
			assert.Equal(t, codes.Error, s.Status().Code, s.Name())
		}
	}
}
