// Package tts defines the Provider interface for speech-synthesis backends.
//
// The chunked transport submits one response text per call and receives one
// encoded audio payload (WAV, or Opus for bandwidth-constrained tiers);
// decoding is the playback queue's concern.
//
// Implementations must be safe for concurrent use and classify errors with
// callerr kinds at origin.
package tts

import "context"

// VoiceProfile selects the synthesis voice and quality tier.
type VoiceProfile struct {
	// ID is the backend-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Quality selects the synthesis tier ("standard", "premium"). Higher
	// tiers trade latency for fidelity; subscription gating happens upstream.
	Quality string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = default).
	SpeedFactor float64
}

// Provider is the abstraction over any speech-synthesis backend.
type Provider interface {
	// Synthesize converts text to one encoded audio payload using the given
	// voice profile.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)
}
