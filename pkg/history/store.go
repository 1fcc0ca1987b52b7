// Package history defines the conversation-persistence interface consumed by
// the voice pipeline. Persistence itself is an external collaborator of the
// engine; this package provides the contract plus a PostgreSQL implementation
// (history/postgres) and a test double (history/mock).
package history

import (
	"context"
	"time"
)

// Entry is one persisted conversation turn.
type Entry struct {
	// SessionID identifies the call session that produced the turn.
	SessionID string

	// ConversationID ties the turn to the user's ongoing conversation.
	ConversationID string

	// Role is "user" or "assistant".
	Role string

	// Text is the turn's content: the final transcript for user turns, the
	// generated response for assistant turns.
	Text string

	// Confidence is the STT confidence for user turns; zero for assistant turns.
	Confidence float64

	// CreatedAt is when the turn completed.
	CreatedAt time.Time
}

// Store persists conversation turns and serves recent context to the
// text-generation stage.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists one turn. Persistence failures must not end the call;
	// callers log and continue.
	Append(ctx context.Context, entry Entry) error

	// Recent returns up to limit turns of the conversation, oldest first.
	Recent(ctx context.Context, conversationID string, limit int) ([]Entry, error)

	// Close releases the store's resources. Safe to call more than once.
	Close() error
}
