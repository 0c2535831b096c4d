// Package entities extracts product mentions, order mentions and cart changes from the
// results of the tools an agent ran during a turn.
//
// Extraction is driven by per-tool rules: JMESPath expressions locate the items in a
// tool's JSON output and the fields within each item. Rules can be loaded from a
// K8s-style YAML manifest, and a tool's output can be checked against a JSON schema
// before anything is extracted from it.
package entities

import (
	"encoding/json"
	"fmt"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

// ToolResult is the outcome of one tool invocation during a turn.
type ToolResult struct {
	Tool   string          `json:"tool"`
	Output json.RawMessage `json:"output,omitempty"`
	// Internal marks results the agent consulted but did not surface to the user.
	// Internal results never produce mentions or cart changes.
	Internal bool `json:"internal,omitempty"`
	// Error is set when the tool call failed.
	Error string `json:"error,omitempty"`
}

// Extraction is everything a turn's tool results contribute to the session context.
// Products and Orders are in the order they should be recorded, most relevant last.
type Extraction struct {
	Products   []sessionctx.ProductRef `json:"products,omitempty"`
	Orders     []sessionctx.OrderRef   `json:"orders,omitempty"`
	CartDeltas []sessionctx.CartDelta  `json:"cart_deltas,omitempty"`
	// Issues are non-fatal problems: unparseable output, schema violations, bad expressions.
	Issues []error `json:"-"`
}

// Empty reports whether the extraction carries no entity or cart change.
func (e Extraction) Empty() bool {
	return len(e.Products) == 0 && len(e.Orders) == 0 && len(e.CartDeltas) == 0
}

// ValidationError is returned when a tool's output does not match its rule's schema.
type ValidationError struct {
	Tool   string `json:"tool"`
	Detail string `json:"detail"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s output invalid: %s", e.Tool, e.Detail)
}
