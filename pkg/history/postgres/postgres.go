// Package postgres provides a PostgreSQL-backed [history.Store] on a pgx
// connection pool. [New] bootstraps the schema idempotently, so no external
// migration tooling is required.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nova-voice/callengine/pkg/history"
)

// Compile-time assertion that Store satisfies history.Store.
var _ history.Store = (*Store)(nil)

const ddlConversationTurns = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id              BIGSERIAL    PRIMARY KEY,
    session_id      TEXT         NOT NULL,
    conversation_id TEXT         NOT NULL,
    role            TEXT         NOT NULL,
    text            TEXT         NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_conversation
    ON conversation_turns (conversation_id, created_at);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session
    ON conversation_turns (session_id);
`

// Store is a PostgreSQL-backed history store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlConversationTurns); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: bootstrap schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, entry history.Entry) error {
	const q = `
		INSERT INTO conversation_turns
		    (session_id, conversation_id, role, text, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		entry.SessionID,
		entry.ConversationID,
		entry.Role,
		entry.Text,
		entry.Confidence,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history postgres: append: %w", err)
	}
	return nil
}

// Recent implements history.Store. Turns are returned oldest first so they
// can be passed to the text-generation stage as-is.
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]history.Entry, error) {
	const q = `
		SELECT session_id, conversation_id, role, text, confidence, created_at
		FROM (
		    SELECT *
		    FROM   conversation_turns
		    WHERE  conversation_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) sub
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("history postgres: recent: %w", err)
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var e history.Entry
		if err := rows.Scan(&e.SessionID, &e.ConversationID, &e.Role, &e.Text, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history postgres: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history postgres: rows: %w", err)
	}
	return out, nil
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("history postgres: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool. Safe to call more than once.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
