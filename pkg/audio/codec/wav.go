package codec

import (
	"encoding/binary"
	"fmt"
)

// wavHeaderSize is the byte length of a canonical PCM WAV header.
const wavHeaderSize = 44

// DecodeWAV parses a PCM WAV payload and returns its raw sample data.
// Only uncompressed 16-bit PCM is accepted; everything the speech-synthesis
// services emit falls in that class.
func DecodeWAV(b []byte) (Decoded, error) {
	if len(b) < wavHeaderSize {
		return Decoded{}, fmt.Errorf("codec: wav payload too short (%d bytes)", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Decoded{}, fmt.Errorf("codec: missing RIFF/WAVE magic")
	}

	// Walk chunks: fmt must precede data.
	var (
		sampleRate int
		channels   int
		bits       int
		haveFmt    bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Decoded{}, fmt.Errorf("codec: truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(b[body:])
			if format != 1 {
				return Decoded{}, fmt.Errorf("codec: unsupported wav format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			bits = int(binary.LittleEndian.Uint16(b[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Decoded{}, fmt.Errorf("codec: data chunk before fmt chunk")
			}
			if bits != 16 {
				return Decoded{}, fmt.Errorf("codec: unsupported bit depth %d", bits)
			}
			return Decoded{
				PCM:        b[body : body+size],
				SampleRate: sampleRate,
				Channels:   channels,
			}, nil
		}
		// Chunk sizes are word-aligned.
		if size%2 == 1 {
			size++
		}
		off = body + size
	}
	return Decoded{}, fmt.Errorf("codec: no data chunk found")
}

// EncodeWAV wraps raw PCM16 samples in a canonical WAV header. Used by tests
// and by the HTTP synthesis adapter when a service returns bare PCM.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	dataLen := len(pcm)
	out := make([]byte, wavHeaderSize+dataLen)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*channels*2)) // byte rate
	binary.LittleEndian.PutUint16(out[32:], uint16(channels*2))            // block align
	binary.LittleEndian.PutUint16(out[34:], 16)                            // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataLen))
	copy(out[wavHeaderSize:], pcm)
	return out
}
