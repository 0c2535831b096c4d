package statestore

import (
	"context"
	"sort"
	"sync"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

// memoryRecord is one serialized session context.
type memoryRecord struct {
	version int64
	data    []byte
}

// MemoryStore provides an in-memory implementation of the Store interface.
// It is thread-safe and suitable for development, testing, and single-instance deployments.
// For distributed systems, use RedisStore or SQLiteStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
	}
}

// Load retrieves a session context by ID, or a new context if the session is unknown.
// Records are kept serialized, so every Load returns an independent copy.
func (s *MemoryStore) Load(ctx context.Context, id string) (*sessionctx.Context, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	rec, exists := s.records[id]
	s.mu.RUnlock()

	if !exists {
		return sessionctx.New(id), nil
	}
	return decodeContext(id, rec.data)
}

// Save commits the context if nobody else committed since it was loaded.
func (s *MemoryStore) Save(ctx context.Context, c *sessionctx.Context) error {
	if c == nil {
		return ErrInvalidState
	}
	if c.SessionID == "" {
		return ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := nextRecord(c)
	data, err := encodeContext(next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[c.SessionID].version != c.Version {
		return ErrConflict
	}
	s.records[c.SessionID] = memoryRecord{version: next.Version, data: data}

	committed(c, next)
	return nil
}

// Delete removes a session context by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// List returns stored session IDs.
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]string, error) {
	s.mu.RLock()
	snapshot := make(map[string][]byte, len(s.records))
	for id, rec := range s.records {
		snapshot[id] = rec.data
	}
	s.mu.RUnlock()

	if opts.SortBy == "" {
		ids := make([]string, 0, len(snapshot))
		for id := range snapshot {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return paginate(ids, opts.Offset, opts.Limit), nil
	}

	ctxs := make([]*sessionctx.Context, 0, len(snapshot))
	for id, data := range snapshot {
		c, err := decodeContext(id, data)
		if err != nil {
			return nil, err
		}
		ctxs = append(ctxs, c)
	}
	sort.Slice(ctxs, func(i, j int) bool { return ctxs[i].SessionID < ctxs[j].SessionID })
	sortContexts(ctxs, opts.SortBy, opts.SortOrder)

	ids := make([]string, len(ctxs))
	for i, c := range ctxs {
		ids[i] = c.SessionID
	}
	return paginate(ids, opts.Offset, opts.Limit), nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
