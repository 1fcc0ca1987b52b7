// Package audio defines the types and interfaces for audio capture and
// playback within Callengine.
//
// The two primary abstractions are:
//
//   - [CaptureSource] — acquires a microphone (or other input) stream and
//     delivers a continuous sequence of [Frame] values.
//   - [PlaybackSink] — accepts decoded PCM and plays it through the local
//     output device.
//
// Implementations are provided by platform adapter packages (audio/portaudio
// for native capture, audio/mock for tests). The interfaces are intentionally
// narrow so the call controller stays decoupled from device details.
//
// This package lives under pkg/ because external code (alternative platform
// adapters) is expected to implement [CaptureSource] and [PlaybackSink].
package audio

import "context"

// CaptureSource acquires an audio input stream and exposes it as a channel of
// frames. A source is single-use: Start may be called once, and Close releases
// the underlying device.
//
// Implementations must be safe for concurrent use.
type CaptureSource interface {
	// Start opens the device and begins delivering frames. The supplied ctx
	// governs the capture lifetime; cancelling it stops delivery. Returns an
	// error if the device cannot be opened (no microphone, permission refused).
	Start(ctx context.Context) error

	// Frames returns the channel delivering captured frames. The channel is
	// closed when capture stops. The capture path never blocks on a slow
	// consumer: when the channel buffer is full the oldest frame is dropped.
	Frames() <-chan Frame

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}

// PlaybackSink plays decoded PCM audio through the local output device.
//
// Implementations must be safe for concurrent use. Play calls are serialized
// by the playback queue; Stop may race with an in-flight Play.
type PlaybackSink interface {
	// Play blocks until the given PCM16 payload has finished playing or ctx is
	// cancelled. sampleRate is the rate of the supplied samples.
	Play(ctx context.Context, pcm []byte, sampleRate int) error

	// Stop aborts any in-flight Play immediately. It does not release the
	// device; further Play calls are allowed.
	Stop()

	// Close stops playback and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}
