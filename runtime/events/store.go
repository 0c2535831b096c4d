package events

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// File system constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
	scannerBufSize  = 1024 * 1024 // 1MB buffer for large events
)

// EventStore persists events for later inspection.
type EventStore interface {
	// Append adds an event to the store.
	Append(ctx context.Context, event *Event) error

	// Query returns stored events for a session matching the filter, oldest first.
	Query(ctx context.Context, filter *EventFilter) ([]*StoredEvent, error)

	// Close releases any resources held by the store.
	Close() error
}

// EventFilter specifies criteria for querying events.
type EventFilter struct {
	SessionID string
	TurnID    string
	Types     []EventType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// StoredEvent is the JSON form of an Event. Data keeps the payload as raw JSON
// because the concrete payload type is not recoverable from the file.
type StoredEvent struct {
	Sequence  int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FileEventStore implements EventStore using one JSON Lines file per session.
type FileEventStore struct {
	dir      string
	mu       sync.Mutex
	files    map[string]*os.File
	sequence atomic.Int64
}

// NewFileEventStore creates a file-based event store in dir.
func NewFileEventStore(dir string) (*FileEventStore, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create event store directory: %w", err)
	}
	return &FileEventStore{
		dir:   dir,
		files: make(map[string]*os.File),
	}, nil
}

// Append adds an event to its session's journal.
func (s *FileEventStore) Append(ctx context.Context, event *Event) error {
	if event == nil || event.SessionID == "" {
		return fmt.Errorf("event has no session ID")
	}

	stored := StoredEvent{
		Sequence:  s.sequence.Add(1),
		Type:      event.Type,
		Timestamp: event.Timestamp,
		SessionID: event.SessionID,
		TurnID:    event.TurnID,
	}
	if event.Data != nil {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("serialize event data: %w", err)
		}
		stored.Data = data
	}

	line, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.getOrCreateFile(event.SessionID)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Query returns events matching the filter. A session without a journal has no events.
func (s *FileEventStore) Query(ctx context.Context, filter *EventFilter) ([]*StoredEvent, error) {
	if filter == nil || filter.SessionID == "" {
		return nil, fmt.Errorf("session ID required for query")
	}

	f, err := os.Open(s.sessionPath(filter.SessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var events []*StoredEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return events, err
		}

		var stored StoredEvent
		if err := json.Unmarshal(scanner.Bytes(), &stored); err != nil {
			continue // Skip malformed lines
		}
		if !filter.matches(&stored) {
			continue
		}
		events = append(events, &stored)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	return events, scanner.Err()
}

// Close syncs and closes every open journal.
func (s *FileEventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, f := range s.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files = make(map[string]*os.File)
	return errors.Join(errs...)
}

// Recorder returns a bus listener that appends every event to the store.
// Append errors are passed to onError when it is non-nil.
func (s *FileEventStore) Recorder(onError func(error)) Listener {
	return func(e *Event) {
		if err := s.Append(context.Background(), e); err != nil && onError != nil {
			onError(err)
		}
	}
}

// sessionPath returns the journal path for a session. Session IDs are opaque, so
// they are encoded rather than used as file names directly.
func (s *FileEventStore) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(sessionID))+".jsonl")
}

// getOrCreateFile returns the file for a session, creating it if needed.
// Caller must hold s.mu.
func (s *FileEventStore) getOrCreateFile(sessionID string) (*os.File, error) {
	if f, ok := s.files[sessionID]; ok {
		return f, nil
	}

	f, err := os.OpenFile(s.sessionPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("create session file: %w", err)
	}
	s.files[sessionID] = f
	return f, nil
}

func (f *EventFilter) matches(e *StoredEvent) bool {
	if f.TurnID != "" && e.TurnID != f.TurnID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, e.Type)
}

// Ensure FileEventStore implements EventStore.
var _ EventStore = (*FileEventStore)(nil)
