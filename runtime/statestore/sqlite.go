package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_context (
	session_id TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	record     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_context_updated ON session_context(updated_at);
`

// SQLiteStore persists session contexts in a SQLite table.
// Save is a version-guarded UPDATE (or INSERT for new sessions), so a lost race
// affects zero rows and is reported as ErrConflict.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create session_context schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load retrieves a session context by ID, or a new context if the session is unknown.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*sessionctx.Context, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM session_context WHERE session_id = ?`, id,
	).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sessionctx.New(id), nil
		}
		return nil, fmt.Errorf("sqlite select failed: %w", err)
	}

	return decodeContext(id, []byte(record))
}

// Save commits the context if the stored version still equals c.Version.
func (s *SQLiteStore) Save(ctx context.Context, c *sessionctx.Context) error {
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

	var res sql.Result
	if c.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO session_context (session_id, version, record, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id) DO NOTHING`,
			c.SessionID, next.Version, string(data), next.CreatedAt.UnixNano(), next.UpdatedAt.UnixNano(),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE session_context SET version = ?, record = ?, updated_at = ?
			 WHERE session_id = ? AND version = ?`,
			next.Version, string(data), next.UpdatedAt.UnixNano(), c.SessionID, c.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("sqlite write failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}

	committed(c, next)
	return nil
}

// Delete removes a session context by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM session_context WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns stored session IDs, ordered in SQL.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	order := "session_id ASC"
	direction := "DESC"
	if opts.SortOrder == "asc" || opts.SortOrder == "ASC" {
		direction = "ASC"
	}
	switch opts.SortBy {
	case SortByCreatedAt:
		order = "created_at " + direction + ", session_id ASC"
	case SortByUpdatedAt:
		order = "updated_at " + direction + ", session_id ASC"
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM session_context ORDER BY `+order+` LIMIT ? OFFSET ?`,
		limit, max(opts.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite list failed: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
