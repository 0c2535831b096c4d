package statestore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

// Sort field constants for ListOptions.SortBy.
const (
	SortByCreatedAt = "created_at"
	SortByUpdatedAt = "updated_at"
)

// defaultTTLHours is the default TTL for session contexts (24 hours).
const defaultTTLHours = 24

// defaultListLimit is applied when ListOptions.Limit is zero.
const defaultListLimit = 100

var currentSchema = semver.MustParse(sessionctx.SchemaVersion)

// checkSchema rejects records written by a different schema major version.
// Records without a version predate versioning and are accepted.
func checkSchema(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrIncompatibleSchema, version, err)
	}
	if v.Major() != currentSchema.Major() {
		return fmt.Errorf("%w: record %s, engine %s", ErrIncompatibleSchema, v, currentSchema)
	}
	return nil
}

// encodeContext serializes a context record.
func encodeContext(c *sessionctx.Context) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	return data, nil
}

// decodeContext deserializes a context record and validates its schema version.
func decodeContext(id string, data []byte) (*sessionctx.Context, error) {
	var c sessionctx.Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if err := checkSchema(c.SchemaVersion); err != nil {
		return nil, err
	}
	if c.SessionID == "" {
		c.SessionID = id
	}
	c.Normalize()
	return &c, nil
}

// storedVersion extracts only the version field from a record.
func storedVersion(data []byte) (int64, error) {
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("failed to unmarshal context version: %w", err)
	}
	return head.Version, nil
}

// nextRecord is the record a successful Save of c commits: the next version,
// stamped now. The first commit also sets CreatedAt.
func nextRecord(c *sessionctx.Context) *sessionctx.Context {
	next := c.Clone()
	next.Version = c.Version + 1
	next.UpdatedAt = time.Now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}
	return next
}

// committed copies the store-assigned fields of next back onto the caller's context.
func committed(c, next *sessionctx.Context) {
	c.Version = next.Version
	c.CreatedAt = next.CreatedAt
	c.UpdatedAt = next.UpdatedAt
}

// sortContexts orders contexts by the given field and direction.
func sortContexts(ctxs []*sessionctx.Context, sortBy, sortOrder string) {
	var key func(*sessionctx.Context) time.Time
	switch sortBy {
	case SortByCreatedAt:
		key = func(c *sessionctx.Context) time.Time { return c.CreatedAt }
	case SortByUpdatedAt, "":
		key = func(c *sessionctx.Context) time.Time { return c.UpdatedAt }
	default:
		return
	}
	ascending := strings.EqualFold(sortOrder, "asc")
	sort.SliceStable(ctxs, func(i, j int) bool {
		if ascending {
			return key(ctxs[i]).Before(key(ctxs[j]))
		}
		return key(ctxs[j]).Before(key(ctxs[i]))
	})
}

// paginate applies offset and limit to a list of IDs. A negative offset counts as zero.
func paginate(ids []string, offset, limit int) []string {
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset = max(offset, 0)
	if offset >= len(ids) {
		return []string{}
	}
	end := min(offset+limit, len(ids))
	return ids[offset:end]
}
