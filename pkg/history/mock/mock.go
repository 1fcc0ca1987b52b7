// Package mock provides a test double for the history package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/nova-voice/callengine/pkg/history"
)

// Store is an in-memory mock implementation of history.Store.
type Store struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned by every Append call.
	AppendErr error

	// RecentErr, if non-nil, is returned by every Recent call.
	RecentErr error

	// Entries holds everything appended, in order.
	Entries []history.Entry

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Append records the entry and returns AppendErr.
func (s *Store) Append(_ context.Context, entry history.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.Entries = append(s.Entries, entry)
	return nil
}

// Recent returns up to limit stored entries for conversationID, oldest first.
func (s *Store) Recent(_ context.Context, conversationID string, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	var out []history.Entry
	for _, e := range s.Entries {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close records the call.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// All returns a snapshot of stored entries. Thread-safe.
func (s *Store) All() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Entry, len(s.Entries))
	copy(out, s.Entries)
	return out
}

// Ensure Store implements history.Store at compile time.
var _ history.Store = (*Store)(nil)
