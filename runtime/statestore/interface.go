// Package statestore persists per-session conversation contexts.
//
// A Store never reports a missing session: Load returns a fresh context for ids it
// has not seen. Save is the commit point of a turn and is a compare-and-swap on the
// context's Version, so concurrent writers for the same session get ErrConflict
// instead of silently overwriting each other's deltas.
package statestore

import (
	"context"
	"errors"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

// Store defines the interface for persistent session context storage.
type Store interface {
	// Load retrieves the context for a session, or a new empty context if none exists.
	Load(ctx context.Context, id string) (*sessionctx.Context, error)

	// Save persists the context if the stored version still equals c.Version.
	// On success c.Version is advanced to the committed version.
	Save(ctx context.Context, c *sessionctx.Context) error
}

// Lister is implemented by stores that can enumerate stored sessions.
type Lister interface {
	List(ctx context.Context, opts ListOptions) ([]string, error)
}

// Deleter is implemented by stores that support explicit removal.
// The turn engine never deletes; this exists for external expiry policies and tooling.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// ListOptions provides sorting and pagination options for listing sessions.
type ListOptions struct {
	// Limit is the maximum number of session IDs to return.
	// If 0, a default limit of 100 is applied.
	Limit int

	// Offset is the number of sessions to skip.
	Offset int

	// SortBy specifies the field to sort by: "created_at" or "updated_at".
	// If empty, implementation-specific default ordering is used.
	SortBy string

	// SortOrder specifies sort direction: "asc" or "desc" (default).
	SortOrder string
}

// ErrNotFound is returned by Delete when the session doesn't exist.
var ErrNotFound = errors.New("session not found")

// ErrInvalidID is returned when an empty session ID is provided.
var ErrInvalidID = errors.New("invalid session ID")

// ErrInvalidState is returned when a nil context is saved.
var ErrInvalidState = errors.New("invalid session context")

// ErrConflict is returned by Save when another writer committed first.
// Callers should reload and re-apply their update.
var ErrConflict = errors.New("session context version conflict")

// ErrIncompatibleSchema is returned when a stored record was written with an
// incompatible schema major version.
var ErrIncompatibleSchema = errors.New("incompatible session context schema")
