package engine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/entities"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/logger"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/topic"
)

func TestApply_MergesTurn(t *testing.T) {
	prev := sessionctx.New("s1")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next := Apply(prev, TurnUpdate{
		TurnID:        "t1",
		Input:         "Add those headphones to my cart",
		ResolvedInput: "Add Sony WH-1000XM5 to my cart",
		Response:      "Added!",
		ToolsUsed:     []string{"add_to_cart"},
		Topic:         topic.Result{Topic: topic.Cart},
		Entities: entities.Extraction{
			Products:   []sessionctx.ProductRef{{ID: "sony", Name: "Sony WH-1000XM5"}},
			Orders:     []sessionctx.OrderRef{{ID: "ORD001"}},
			CartDeltas: []sessionctx.CartDelta{{ProductID: "sony", QuantityDelta: 2, UnitPrice: 349}},
		},
		ProcessingTime: 40 * time.Millisecond,
		Timestamp:      ts,
	})

	assert.Equal(t, topic.Cart, next.CurrentTopic)
	assert.Empty(t, next.PreviousTopic, "first topic is not a switch")
	assert.Zero(t, next.ContextSwitchCount)
	require.Len(t, next.MentionedProducts, 1)
	require.Len(t, next.MentionedOrders, 1)
	assert.Equal(t, 2, next.CartItems["sony"].Quantity)

	require.Len(t, next.ConversationHistory, 1)
	rec := next.ConversationHistory[0]
	assert.Equal(t, "t1", rec.TurnID)
	assert.Equal(t, "Add Sony WH-1000XM5 to my cart", rec.ResolvedInput)
	assert.Equal(t, topic.Cart, rec.Topic)
	assert.Equal(t, []string{"add_to_cart"}, rec.ToolsUsed)
	assert.Equal(t, 40*time.Millisecond, rec.ProcessingTime)
	assert.Equal(t, "Add those headphones to my cart", next.LastQuery)
	assert.Equal(t, "Added!", next.LastResponse)
	assert.Equal(t, ts, next.UpdatedAt)

	assert.Empty(t, prev.ConversationHistory, "prev is not modified")
	assert.Empty(t, prev.CartItems)
	assert.Empty(t, prev.CurrentTopic)
}

func TestApply_LogsInvalidCartDelta(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(nil) })

	next := Apply(sessionctx.New("s1"), TurnUpdate{
		TurnID: "t1",
		Input:  "add that",
		Entities: entities.Extraction{CartDeltas: []sessionctx.CartDelta{
			{QuantityDelta: 1},
			{ProductID: "sony", QuantityDelta: 1, UnitPrice: 349},
		}},
	})

	require.Len(t, next.CartItems, 1)
	assert.Equal(t, 1, next.CartItems["sony"].Quantity)
	assert.Contains(t, buf.String(), "cart delta skipped")
	assert.Contains(t, buf.String(), "turn_id=t1")
}

func TestApply_SwitchDerivedFromPrevious(t *testing.T) {
	prev := sessionctx.New("s1")
	prev.SetTopic(topic.Products, false)

	// A stale classification that believed the topic was already orders.
	next := Apply(prev, TurnUpdate{Topic: topic.Result{Topic: topic.Orders, PreviousTopic: topic.Orders}})
	assert.Equal(t, topic.Orders, next.CurrentTopic)
	assert.Equal(t, topic.Products, next.PreviousTopic)
	assert.Equal(t, 1, next.ContextSwitchCount)

	same := Apply(next, TurnUpdate{Topic: topic.Result{Topic: topic.Orders, IsSwitch: true}})
	assert.Equal(t, 1, same.ContextSwitchCount)
}

func TestApply_FailedTurnOnlyAppendsRecord(t *testing.T) {
	prev := sessionctx.New("s1")
	prev.SetTopic(topic.Products, false)

	next := Apply(prev, TurnUpdate{
		TurnID:    "t2",
		Input:     "Track order ORD001",
		Response:  DefaultFallbackResponse,
		ToolsUsed: []string{"track_order"},
		Topic:     topic.Result{Topic: topic.Orders, IsSwitch: true},
		Entities:  entities.Extraction{Orders: []sessionctx.OrderRef{{ID: "ORD001"}}},
		Failed:    true,
	})

	assert.Equal(t, topic.Products, next.CurrentTopic)
	assert.Zero(t, next.ContextSwitchCount)
	assert.Empty(t, next.MentionedOrders)
	require.Len(t, next.ConversationHistory, 1)
	rec := next.ConversationHistory[0]
	assert.True(t, rec.Failed)
	assert.Empty(t, rec.ToolsUsed)
	assert.Empty(t, rec.Topic)
	assert.Equal(t, DefaultFallbackResponse, next.LastResponse)
}

func TestSessionLocks(t *testing.T) {
	locks := newSessionLocks()

	unlock, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)
	other, err := locks.acquire(context.Background(), "b")
	require.NoError(t, err, "distinct sessions do not block each other")
	assert.Equal(t, 2, locks.size())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	other()
	assert.Zero(t, locks.size())

	again, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)
	again()
}
