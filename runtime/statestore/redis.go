package statestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

// RedisStore provides a Redis-backed implementation of the Store interface.
// Each session is one JSON record with a TTL; Save runs inside WATCH/MULTI so that
// a concurrent commit for the same session aborts with ErrConflict.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for session contexts.
// The TTL is refreshed on every save. Default is 24 hours. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "ctxengine".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed state store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24 * time.Hour),
//	    WithPrefix("support"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTLHours * time.Hour,
		prefix: "ctxengine",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Load retrieves a session context by ID from Redis.
func (s *RedisStore) Load(ctx context.Context, id string) (*sessionctx.Context, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessionctx.New(id), nil
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	return decodeContext(id, data)
}

// Save persists a session context with optimistic locking on its version.
func (s *RedisStore) Save(ctx context.Context, c *sessionctx.Context) error {
	if c == nil {
		return ErrInvalidState
	}
	if c.SessionID == "" {
		return ErrInvalidID
	}

	next := nextRecord(c)
	data, err := encodeContext(next)
	if err != nil {
		return err
	}

	key := s.sessionKey(c.SessionID)
	txf := func(tx *redis.Tx) error {
		current, err := s.currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != c.Version {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.SAdd(ctx, s.indexKey(), c.SessionID)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, redis.TxFailedErr) {
			return ErrConflict
		}
		return fmt.Errorf("redis transaction failed: %w", err)
	}

	committed(c, next)
	return nil
}

// currentVersion reads the committed version of a watched key. A missing key is version 0.
func (s *RedisStore) currentVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return storedVersion(data)
}

// Delete removes a session context from Redis.
// Uses a pipeline to batch the DEL and index cleanup.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	pipe := s.client.Pipeline()
	delCmd := pipe.Del(ctx, s.sessionKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	if delCmd.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns session IDs from the session index. Index entries whose record
// has expired are pruned as a side effect.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return []string{}, nil
	}

	ctxs, stale, err := s.pipelinedLoad(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		members := make([]interface{}, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		if err := s.client.SRem(ctx, s.indexKey(), members...).Err(); err != nil {
			return nil, fmt.Errorf("redis srem failed: %w", err)
		}
	}

	if opts.SortBy != "" {
		sortContexts(ctxs, opts.SortBy, opts.SortOrder)
	}

	live := make([]string, len(ctxs))
	for i, c := range ctxs {
		live[i] = c.SessionID
	}
	return paginate(live, opts.Offset, opts.Limit), nil
}

// pipelinedLoad fetches multiple session contexts using a single pipelined GET.
// IDs with no record are returned as stale.
func (s *RedisStore) pipelinedLoad(ctx context.Context, ids []string) ([]*sessionctx.Context, []string, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	ctxs := make([]*sessionctx.Context, 0, len(ids))
	var stale []string
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, nil, fmt.Errorf("redis get failed: %w", err)
		}
		c, err := decodeContext(ids[i], data)
		if err != nil {
			return nil, nil, err
		}
		ctxs = append(ctxs, c)
	}
	return ctxs, stale, nil
}

// sessionKey generates the Redis key for a session context.
func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

// indexKey generates the Redis key for the set of known session IDs.
func (s *RedisStore) indexKey() string {
	return fmt.Sprintf("%s:sessions", s.prefix)
}
