package codec

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameSize bounds the per-channel sample count of a single Opus
// packet (120 ms at 48 kHz, the codec maximum).
const maxOpusFrameSize = 5760

// opusDecoder wraps a gopus decoder. Opus decoders are stateful across
// consecutive packets, so one instance is kept per session.
type opusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

func newOpusDecoder(sampleRate, channels int) (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, channels: channels}, nil
}

// decode decodes a single Opus packet into interleaved little-endian PCM16.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, maxOpusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
