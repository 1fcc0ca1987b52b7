// Package call owns the lifecycle of a voice call: the session identity, the
// controller that wires capture, detection, transport, and playback together,
// and the facade the application talks to.
package call

import (
	"time"

	"github.com/google/uuid"
)

// Session is the identity and budget of one voice call.
type Session struct {
	// ID uniquely identifies this call.
	ID string

	// UserID identifies the person on the call. The gateway uses it to
	// scope the session server-side; may be empty for anonymous calls.
	UserID string

	// ConversationID groups turns across calls; history persistence and
	// LLM context are keyed by it.
	ConversationID string

	// StartedAt is when the session went active.
	StartedAt time.Time

	// MaxDuration is the hard cap on session length. Zero means no cap.
	MaxDuration time.Duration
}

// NewSession creates a session with a fresh UUID. A missing conversation ID
// gets one of its own, so a one-off call still has a history key.
func NewSession(userID, conversationID string, maxDuration time.Duration) *Session {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	return &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		StartedAt:      time.Now(),
		MaxDuration:    maxDuration,
	}
}

// Expired reports whether the session has outlived its duration cap.
func (s *Session) Expired(now time.Time) bool {
	return s.MaxDuration > 0 && now.Sub(s.StartedAt) >= s.MaxDuration
}

// Status is the externally visible state of a call.
type Status string

const (
	// StatusIdle is the state before Start.
	StatusIdle Status = "idle"

	// StatusInitializing covers transport dialing, device acquisition, and
	// ambient calibration.
	StatusInitializing Status = "initializing"

	// Active sub-states, one per pipeline stage.
	StatusListening    Status = "listening"
	StatusTranscribing Status = "transcribing"
	StatusThinking     Status = "thinking"
	StatusSpeaking     Status = "speaking"

	// StatusReconnecting means the streaming link is down and being
	// re-established.
	StatusReconnecting Status = "reconnecting"

	// StatusEnded is terminal and reachable from every other state.
	StatusEnded Status = "ended"
)

// EventType discriminates the [Event] union.
type EventType int

const (
	// EventStatusChange reports a state-machine transition.
	EventStatusChange EventType = iota

	// EventTranscript carries user or assistant text for display.
	EventTranscript

	// EventError reports a failure. When followed by StatusEnded the error
	// was terminal.
	EventError
)

// Transcript is display text from either side of the conversation.
type Transcript struct {
	Text       string
	Final      bool
	Confidence float64
	Role       string
}

// Event is one controller output.
type Event struct {
	Type       EventType
	Status     Status
	Transcript Transcript
	Err        error
}
