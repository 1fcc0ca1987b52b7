// Package transport defines the interface between a call session and the
// speech service, plus the event stream both implementations emit.
//
// Two implementations exist: chunked (internal/transport/chunked) records
// whole utterances and runs the transcribe → respond → synthesize pipeline
// per utterance; streaming (internal/transport/streaming) keeps a WebSocket
// open and pushes capture frames continuously. The session controller is
// written against this interface and does not care which one is active.
package transport

import (
	"context"

	"github.com/nova-voice/callengine/pkg/audio"
)

// Status is the processing stage reported by a transport.
type Status string

const (
	StatusListening    Status = "listening"
	StatusTranscribing Status = "transcribing"
	StatusThinking     Status = "thinking"
	StatusSpeaking     Status = "speaking"
	StatusReconnecting Status = "reconnecting"
)

// EventType discriminates the [Event] union.
type EventType int

const (
	// EventTranscript carries a partial or final transcript of user speech.
	EventTranscript EventType = iota

	// EventAudio carries one synthesized response chunk.
	EventAudio

	// EventStatus reports a processing-stage change.
	EventStatus

	// EventError reports a failure. Terminal errors (per callerr.IsTerminal)
	// end the session; others are informational.
	EventError
)

// Transcript is the payload of an EventTranscript event.
type Transcript struct {
	// Text is the transcribed speech.
	Text string

	// Final reports whether this transcript is stable. Streaming emits
	// partials with Final=false; chunked only emits finals.
	Final bool

	// Confidence is the recognizer's confidence, when known.
	Confidence float64

	// Role is "user" for transcribed speech, "assistant" for the generated
	// response text.
	Role string
}

// Audio is the payload of an EventAudio event.
type Audio struct {
	// Seq is the chunk's position in the response, starting at 0.
	Seq uint64

	// Payload is encoded audio (WAV or Opus).
	Payload []byte
}

// Event is one transport output.
type Event struct {
	Type       EventType
	Transcript Transcript
	Audio      Audio
	Status     Status
	Err        error
}

// Transport moves user audio to the speech service and response artifacts
// back. Implementations must be safe for concurrent use: SendAudio is called
// from the capture loop while Interrupt and FinalizeUtterance arrive from
// the controller goroutine.
type Transport interface {
	// Start establishes the transport. For streaming this dials the
	// gateway; for chunked it verifies the pipeline providers are set.
	Start(ctx context.Context) error

	// SendAudio feeds one capture frame. Chunked buffers it into the
	// current utterance; streaming forwards it immediately. Frames sent
	// while muted are dropped by the caller, not the transport.
	SendAudio(frame audio.Frame) error

	// FinalizeUtterance marks the current utterance complete and triggers
	// processing. Streaming endpoints detect utterance boundaries
	// server-side, so its implementation is a no-op.
	FinalizeUtterance() error

	// Interrupt abandons the response in flight because the user started
	// speaking over it.
	Interrupt() error

	// Events returns the transport's output stream. Closed by Close.
	Events() <-chan Event

	// Close releases the transport. Safe to call more than once.
	Close() error
}
