package audio

import (
	"encoding/binary"
	"math"
)

// RMSLevel computes the normalized root-mean-square amplitude of a PCM16
// buffer. The result is in [0, 1], where 1 corresponds to a full-scale
// sine input. Odd trailing bytes are ignored.
func RMSLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
