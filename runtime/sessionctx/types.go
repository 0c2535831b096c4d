// Package sessionctx defines the per-session conversation context tracked across turns:
// topic state, mentioned products and orders, cart contents and the turn history.
//
// A Context is a value object. It is mutated only through the merge operations in this
// package, and only by the turn orchestrator; everything else works on Snapshots.
package sessionctx

import (
	"errors"
	"time"
)

// SchemaVersion is the version of the persisted Context record layout.
// Stores refuse to load records whose major version differs.
const SchemaVersion = "1.0.0"

// ErrInvalidDelta is returned when a cart delta does not name a product.
var ErrInvalidDelta = errors.New("cart delta has no product id")

// ProductRef is a product that was surfaced to the user during the conversation.
type ProductRef struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	MentionedAt time.Time `json:"mentioned_at"`
}

// OrderRef is an order that was surfaced to the user during the conversation.
type OrderRef struct {
	ID          string    `json:"id"`
	Status      string    `json:"status,omitempty"`
	MentionedAt time.Time `json:"mentioned_at"`
}

// DisplayName returns the text used when the order is substituted into a message.
func (o OrderRef) DisplayName() string {
	return "order " + o.ID
}

// CartItem is one line of the session's cart. Quantity is always >= 1.
type CartItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Subtotal returns Quantity * UnitPrice.
func (c CartItem) Subtotal() float64 {
	return float64(c.Quantity) * c.UnitPrice
}

// CartDelta is an additive change to the cart. A negative QuantityDelta removes units;
// an item whose quantity drops to zero or below is removed entirely. RemoveAll drops
// the line regardless of QuantityDelta.
type CartDelta struct {
	ProductID     string  `json:"product_id"`
	Name          string  `json:"name,omitempty"`
	QuantityDelta int     `json:"quantity_delta"`
	UnitPrice     float64 `json:"unit_price,omitempty"`
	RemoveAll     bool    `json:"remove_all,omitempty"`
}

// TurnRecord is one processed turn. Records are never modified once appended.
type TurnRecord struct {
	TurnID         string        `json:"turn_id"`
	Input          string        `json:"input"`
	ResolvedInput  string        `json:"resolved_input,omitempty"`
	Output         string        `json:"output"`
	ToolsUsed      []string      `json:"tools_used"`
	Topic          string        `json:"topic,omitempty"`
	Failed         bool          `json:"failed,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Context is the structured state tracked for one session.
//
// An empty CurrentTopic means no topic has been classified yet. Version is the
// optimistic-concurrency token maintained by the state store: zero means the
// context has never been persisted.
type Context struct {
	SessionID     string `json:"session_id"`
	SchemaVersion string `json:"schema_version"`
	Version       int64  `json:"version"`

	CurrentTopic       string `json:"current_topic,omitempty"`
	PreviousTopic      string `json:"previous_topic,omitempty"`
	ContextSwitchCount int    `json:"context_switch_count"`

	MentionedProducts []ProductRef        `json:"mentioned_products"`
	MentionedOrders   []OrderRef          `json:"mentioned_orders"`
	CartItems         map[string]CartItem `json:"cart_items"`

	ConversationHistory []TurnRecord `json:"conversation_history"`
	LastQuery           string       `json:"last_query,omitempty"`
	LastResponse        string       `json:"last_response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
