package audio

import "time"

// Frame represents a single unit of captured audio flowing through the
// pipeline. Frames are the atomic unit of transport — captured from the
// input device, analysed by VAD, and forwarded to the active transport.
type Frame struct {
	// Data is raw little-endian PCM16 audio.
	Data []byte

	// SampleRate in Hz (16000 for the speech pipeline).
	SampleRate int

	// Channels: 1 for mono capture.
	Channels int

	// Seq is the monotonically increasing capture index within a session.
	// Frames are never replayed out of order.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock length of the frame's audio.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Profile describes per-device capture sizing. Frame sample counts must be a
// power of two because malformed sizes are rejected by the remote audio
// pipeline; mobile devices use smaller buffers for lower latency.
type Profile struct {
	// Name identifies the profile ("desktop", "mobile").
	Name string

	// BufferSamples is the capture buffer size in samples. Must be a power
	// of two.
	BufferSamples int
}

// Predefined capture profiles.
var (
	ProfileDesktop = Profile{Name: "desktop", BufferSamples: 4096}
	ProfileMobile  = Profile{Name: "mobile", BufferSamples: 2048}
)

// Valid reports whether the profile's buffer size is a non-zero power of two.
func (p Profile) Valid() bool {
	return p.BufferSamples > 0 && p.BufferSamples&(p.BufferSamples-1) == 0
}
