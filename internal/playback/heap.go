// Package playback provides the ordered response-audio queue. Synthesized
// chunks arrive with sequence numbers, possibly out of order; the queue
// buffers them in a min-heap and plays them in strictly ascending sequence
// order, never skipping ahead of a gap.
package playback

// Chunk is one synthesized audio chunk awaiting playback.
type Chunk struct {
	// Seq is the chunk's position in the response, starting at 0.
	Seq uint64

	// Payload is the encoded audio (WAV or Opus).
	Payload []byte
}

// chunkHeap implements container/heap.Interface as a min-heap on Seq, so the
// next playable chunk is always at the root.
type chunkHeap []Chunk

func (h chunkHeap) Len() int           { return len(h) }
func (h chunkHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h chunkHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push appends x. Called by container/heap; callers must not invoke directly.
func (h *chunkHeap) Push(x any) {
	*h = append(*h, x.(Chunk))
}

// Pop removes and returns the last element. Called by container/heap.
func (h *chunkHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
