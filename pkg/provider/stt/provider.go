// Package stt defines the Provider interface for speech-to-text backends.
//
// The chunked transport submits one complete utterance per call, so the
// interface is request/response rather than streaming: Transcribe accepts a
// bounded PCM16 buffer and returns a single [Result]. Backends include an
// HTTP speech service (httpapi) and a local whisper.cpp model (whisper).
//
// Implementations must be safe for concurrent use and must classify their
// errors with [callerr] kinds at origin.
package stt

import (
	"context"
	"time"
)

// Config describes the audio format and recognition hints for a transcription.
type Config struct {
	// SampleRate is the audio sample rate in Hz. The speech pipeline captures
	// at 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty lets the backend auto-detect where supported.
	Language string
}

// Result is a finished transcription of one utterance.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or configured language.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// backend does not report confidence.
	Confidence float64

	// AudioDuration is the length of the transcribed audio as reported by
	// the backend.
	AudioDuration time.Duration
}

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts one finalized utterance of raw little-endian PCM16
	// mono audio to text. Errors carry a callerr classification; callers retry
	// only those marked retryable.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (Result, error)
}
