// Package codec decodes synthesized-speech payloads into raw PCM16 for
// playback. WAV is the primary wire format; Opus is supported as the
// alternate decode path used when a payload fails WAV parsing.
package codec

import (
	"errors"
	"fmt"
)

// ErrUnknownFormat is returned by [Decode] when a payload matches neither the
// WAV nor the Opus decode path.
var ErrUnknownFormat = errors.New("codec: unknown audio format")

// Decoded holds the result of a successful decode.
type Decoded struct {
	// PCM is interleaved little-endian PCM16.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count of the decoded audio.
	Channels int
}

// Decoder decodes payloads arriving from either transport. It holds the
// stateful Opus decoder used for the alternate path, so one Decoder must be
// created per session and must not be shared across goroutines.
type Decoder struct {
	opus *opusDecoder

	// opusRate and opusChannels configure the alternate path lazily.
	opusRate     int
	opusChannels int
}

// NewDecoder creates a Decoder whose Opus alternate path is configured for
// the given sample rate and channel count.
func NewDecoder(sampleRate, channels int) *Decoder {
	return &Decoder{opusRate: sampleRate, opusChannels: channels}
}

// Decode attempts the WAV path first and falls back to Opus. It returns
// [ErrUnknownFormat] (wrapping both underlying errors) when neither path
// succeeds; callers treat that as a non-fatal playback error.
func (d *Decoder) Decode(payload []byte) (Decoded, error) {
	dec, wavErr := DecodeWAV(payload)
	if wavErr == nil {
		return dec, nil
	}

	if d.opus == nil {
		od, err := newOpusDecoder(d.opusRate, d.opusChannels)
		if err != nil {
			return Decoded{}, fmt.Errorf("%w: wav: %v; opus init: %v", ErrUnknownFormat, wavErr, err)
		}
		d.opus = od
	}

	pcm, opusErr := d.opus.decode(payload)
	if opusErr != nil {
		return Decoded{}, fmt.Errorf("%w: wav: %v; opus: %v", ErrUnknownFormat, wavErr, opusErr)
	}
	return Decoded{PCM: pcm, SampleRate: d.opusRate, Channels: d.opusChannels}, nil
}
