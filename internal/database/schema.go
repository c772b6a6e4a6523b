package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of *pgxpool.Pool used for DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema creates the session journal table. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_events (
		session_id UUID        NOT NULL,
		seq        BIGINT      NOT NULL,
		at         TIMESTAMPTZ NOT NULL,
		kind       TEXT        NOT NULL,
		state      TEXT        NOT NULL,
		attempt    INTEGER     NOT NULL DEFAULT 0,
		close_code INTEGER,
		reason     TEXT,
		PRIMARY KEY (session_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS session_events_at_idx ON session_events (at)`,
}

// EnsureSchema creates the session_events table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
