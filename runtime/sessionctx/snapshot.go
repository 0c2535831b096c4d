package sessionctx

import (
	"slices"
	"time"
)

// Snapshot is a read-only view of a Context for agents, debugging and monitoring tools.
type Snapshot struct {
	SessionID          string       `json:"session_id"`
	Version            int64        `json:"version"`
	CurrentTopic       string       `json:"current_topic,omitempty"`
	PreviousTopic      string       `json:"previous_topic,omitempty"`
	ContextSwitchCount int          `json:"context_switch_count"`
	MentionedProducts  []ProductRef `json:"mentioned_products"`
	MentionedOrders    []OrderRef   `json:"mentioned_orders"`
	Cart               []CartItem   `json:"cart"`
	CartItemCount      int          `json:"cart_item_count"`
	CartTotal          float64      `json:"cart_total"`
	HistoryLength      int          `json:"history_length"`
	LastQuery          string       `json:"last_query,omitempty"`
	LastResponse       string       `json:"last_response,omitempty"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Snapshot returns a copy of the context's observable state.
func (c *Context) Snapshot() Snapshot {
	cart := c.sortedCart()
	count := 0
	for _, item := range cart {
		count += item.Quantity
	}
	return Snapshot{
		SessionID:          c.SessionID,
		Version:            c.Version,
		CurrentTopic:       c.CurrentTopic,
		PreviousTopic:      c.PreviousTopic,
		ContextSwitchCount: c.ContextSwitchCount,
		MentionedProducts:  slices.Clone(c.MentionedProducts),
		MentionedOrders:    slices.Clone(c.MentionedOrders),
		Cart:               cart,
		CartItemCount:      count,
		CartTotal:          c.CartTotal(),
		HistoryLength:      len(c.ConversationHistory),
		LastQuery:          c.LastQuery,
		LastResponse:       c.LastResponse,
		UpdatedAt:          c.UpdatedAt,
	}
}
