// Package engine is the turn orchestrator of the context engine.
//
// ProcessTurn is the only path that mutates a session's context. Each turn loads the
// context, resolves references in the user's message, hands the resolved message to
// the agent's tool callback, extracts mentioned entities from the tool results,
// classifies the topic and commits the merged context with a compare-and-swap save.
// Turns for the same session are serialized; turns for different sessions run in
// parallel.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/entities"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/resolver"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/topic"
)

// DefaultFallbackResponse is returned to the user when a turn cannot be processed.
const DefaultFallbackResponse = "I'm sorry, something went wrong while handling your request. Please try again in a moment."

// ErrPersistence is returned by ProcessTurn when the session store could not be read or
// written. The TurnResult is still returned, with Persisted set to false.
var ErrPersistence = errors.New("session context persistence failed")

// ErrTurnFailed wraps failures of an individual turn stage. It never escapes
// ProcessTurn; it is attached to failed turn records and events.
var ErrTurnFailed = errors.New("turn processing failed")

// ErrNilCallback is returned when ProcessTurn is called without a tool callback.
var ErrNilCallback = errors.New("tool callback is required")

// Stage names used in logs and turn.failed events.
const (
	StageLoad     = "load"
	StageResolve  = "resolve"
	StageTools    = "tools"
	StageTrack    = "track"
	StageClassify = "classify"
	StageCommit   = "commit"
)

// ToolRequest is what the agent layer receives for one turn.
type ToolRequest struct {
	SessionID string
	TurnID    string
	// Message is the message the agent should act on: the resolved message, or the
	// original one when the engine falls back after an unproductive resolution.
	Message string
	// Original is the raw user message.
	Original string
	// Context is a read-only view of the session before this turn.
	Context sessionctx.Snapshot
}

// AgentResult is the agent's answer for one turn.
type AgentResult struct {
	Response    string
	ToolResults []entities.ToolResult
}

// ToolCallback runs the agent's tools for a turn and produces the user-facing response.
type ToolCallback func(ctx context.Context, req ToolRequest) (*AgentResult, error)

// TurnResult is returned by ProcessTurn.
type TurnResult struct {
	TurnID          string              `json:"turn_id"`
	Response        string              `json:"response"`
	ResolvedMessage string              `json:"resolved_message"`
	Resolution      resolver.Result     `json:"resolution"`
	FellBack        bool                `json:"fell_back,omitempty"`
	Topic           topic.Result        `json:"topic"`
	ToolsUsed       []string            `json:"tools_used"`
	Context         sessionctx.Snapshot `json:"context"`
	Persisted       bool                `json:"persisted"`
	Failed          bool                `json:"failed,omitempty"`
	Attempts        int                 `json:"attempts"`
	Duration        time.Duration       `json:"duration"`
	// Issues lists tool results whose payload could not be used for entity tracking.
	Issues []error `json:"-"`
}

// TurnUpdate is everything a turn contributes to a session's context.
type TurnUpdate struct {
	TurnID         string
	Input          string
	ResolvedInput  string
	Response       string
	ToolsUsed      []string
	Topic          topic.Result
	Entities       entities.Extraction
	ProcessingTime time.Duration
	Timestamp      time.Time
	// Failed turns contribute only their history record.
	Failed bool
}
