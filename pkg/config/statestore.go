package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/statestore"
)

// State store types.
const (
	StateStoreMemory = "memory"
	StateStoreRedis  = "redis"
	StateStoreSQLite = "sqlite"
)

const defaultStateStoreType = StateStoreMemory

// StateStoreConfig selects and configures the session store.
type StateStoreConfig struct {
	// Type is "memory" (default), "redis" or "sqlite".
	Type string `yaml:"type"`

	// Redis configuration (only used when Type is "redis").
	Redis *RedisConfig `yaml:"redis,omitempty"`

	// SQLite configuration (only used when Type is "sqlite").
	SQLite *SQLiteConfig `yaml:"sqlite,omitempty"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	// Address of the Redis server (e.g., "localhost:6379").
	Address string `yaml:"address"`

	// Password for Redis authentication (optional).
	Password string `yaml:"password,omitempty"`

	// Database number (0-15, default is 0).
	Database int `yaml:"database,omitempty"`

	// TTL for session contexts, e.g. "24h" or "7d". Default is "24h"; "0" disables expiry.
	TTL string `yaml:"ttl,omitempty"`

	// Prefix for Redis keys (default is "ctxengine").
	Prefix string `yaml:"prefix,omitempty"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path of the database file; relative paths resolve against the config directory.
	Path string `yaml:"path"`
}

// Validate checks the store section.
func (c *StateStoreConfig) Validate() error {
	switch c.Type {
	case "", StateStoreMemory:
	case StateStoreRedis:
		if c.Redis == nil || c.Redis.Address == "" {
			return &ValidationError{Field: "state_store.redis.address", Message: "is required for redis"}
		}
		if c.Redis.Database < 0 || c.Redis.Database > 15 {
			return &ValidationError{
				Field:   "state_store.redis.database",
				Message: "must be between 0 and 15",
				Value:   strconv.Itoa(c.Redis.Database),
			}
		}
		if _, err := ParseTTL(c.Redis.TTL); err != nil {
			return &ValidationError{Field: "state_store.redis.ttl", Message: err.Error(), Value: c.Redis.TTL}
		}
	case StateStoreSQLite:
		if c.SQLite == nil || c.SQLite.Path == "" {
			return &ValidationError{Field: "state_store.sqlite.path", Message: "is required for sqlite"}
		}
	default:
		return &ValidationError{
			Field:   "state_store.type",
			Message: "must be one of: memory, redis, sqlite",
			Value:   c.Type,
		}
	}
	return nil
}

// GetStateStoreType returns the configured state store type, defaulting to "memory".
func (c *EngineConfig) GetStateStoreType() string {
	if c.Spec.StateStore == nil || c.Spec.StateStore.Type == "" {
		return defaultStateStoreType
	}
	return c.Spec.StateStore.Type
}

// GetStateStoreConfig returns the state store configuration, defaulting to memory.
func (c *EngineConfig) GetStateStoreConfig() *StateStoreConfig {
	if c.Spec.StateStore == nil {
		return &StateStoreConfig{Type: defaultStateStoreType}
	}
	if c.Spec.StateStore.Type == "" {
		c.Spec.StateStore.Type = defaultStateStoreType
	}
	return c.Spec.StateStore
}

// BuildStateStore opens the configured store. The returned close function releases
// connections and files; it is never nil.
func (c *EngineConfig) BuildStateStore() (statestore.Store, func() error, error) {
	sc := c.GetStateStoreConfig()
	if err := sc.Validate(); err != nil {
		return nil, nil, err
	}

	switch sc.Type {
	case StateStoreRedis:
		ttl, _ := ParseTTL(sc.Redis.TTL)
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Address,
			Password: sc.Redis.Password,
			DB:       sc.Redis.Database,
		})
		opts := []statestore.RedisOption{statestore.WithTTL(ttl)}
		if sc.Redis.Prefix != "" {
			opts = append(opts, statestore.WithPrefix(sc.Redis.Prefix))
		}
		return statestore.NewRedisStore(client, opts...), client.Close, nil
	case StateStoreSQLite:
		store, err := statestore.NewSQLiteStore(c.ResolvePath(sc.SQLite.Path))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return statestore.NewMemoryStore(), func() error { return nil }, nil
	}
}

// defaultTTL matches the Redis store's default.
const defaultTTL = 24 * time.Hour

// ParseTTL parses a Go duration with an additional "d" (days) unit. Empty means the
// default of 24h; "0" disables expiry.
func ParseTTL(s string) (time.Duration, error) {
	if s == "" {
		return defaultTTL, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
