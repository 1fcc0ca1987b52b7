package playback

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nova-voice/callengine/pkg/audio"
	"github.com/nova-voice/callengine/pkg/audio/codec"
	"github.com/nova-voice/callengine/pkg/callerr"
)

const defaultQueueCap = 16

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithChunkObserver registers a callback invoked with the outcome of every
// chunk: "played", "skipped" (undecodable or playback failure), or
// "flushed" (discarded by an interrupt). Used to feed metrics.
func WithChunkObserver(fn func(status string)) Option {
	return func(q *Queue) { q.observe = fn }
}

// WithQueueCapacity sets the initial capacity hint for the internal heap.
func WithQueueCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.queue = make(chunkHeap, 0, n)
		}
	}
}

// Queue buffers synthesized audio chunks and plays them through a
// [audio.PlaybackSink] in strictly ascending sequence order. A gap in the
// sequence stalls dispatch until the missing chunk arrives; chunks older
// than the playback position are dropped.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	sink    audio.PlaybackSink
	dec     *codec.Decoder
	observe func(status string)

	mu     sync.Mutex
	queue  chunkHeap
	next   uint64 // next sequence number to play
	closed bool

	playing atomic.Bool

	notify chan struct{}
	done   chan struct{}
}

// New creates a Queue playing through sink. Decoded audio is expected at
// sampleRate/channels when the payload is Opus; WAV payloads carry their own
// format. The dispatch goroutine starts immediately; call [Queue.Close] to
// stop it.
func New(sink audio.PlaybackSink, sampleRate, channels int, opts ...Option) *Queue {
	q := &Queue{
		sink:   sink,
		dec:    codec.NewDecoder(sampleRate, channels),
		queue:  make(chunkHeap, 0, defaultQueueCap),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	heap.Init(&q.queue)
	go q.dispatch()
	return q
}

// Enqueue adds a chunk. Chunks may arrive in any order; playback still
// follows ascending sequence numbers. Chunks behind the playback position
// are dropped.
func (q *Queue) Enqueue(c Chunk) {
	q.mu.Lock()
	if q.closed || c.Seq < q.next {
		q.mu.Unlock()
		if !q.closed {
			slog.Debug("playback: dropping stale chunk", "seq", c.Seq)
			q.report("skipped")
		}
		return
	}
	heap.Push(&q.queue, c)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Active reports whether response audio is audible or pending. The voice
// detector uses this to decide whether a speech start is a barge-in.
func (q *Queue) Active() bool {
	if q.playing.Load() {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len() > 0
}

// Interrupt stops the chunk currently playing, discards everything queued,
// and resets the sequence position to zero for the next response.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	flushed := q.queue.Len()
	q.queue = q.queue[:0]
	q.next = 0
	q.mu.Unlock()

	q.sink.Stop()
	for i := 0; i < flushed; i++ {
		q.report("flushed")
	}
}

// Reset discards queued chunks and rewinds the sequence position without
// touching the chunk currently playing. Called between responses.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.queue = q.queue[:0]
	q.next = 0
	q.mu.Unlock()
}

// Close stops the dispatch goroutine, halts playback, and releases the sink.
// Idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.queue = q.queue[:0]
	q.mu.Unlock()

	close(q.done)
	q.sink.Stop()
	return q.sink.Close()
}

// dispatch pulls in-order chunks and plays them until Close.
func (q *Queue) dispatch() {
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			c, ok := q.dequeueNext()
			if !ok {
				break
			}
			q.play(c)
		}
	}
}

// dequeueNext pops the root chunk only when it matches the next expected
// sequence number. A gap leaves the heap untouched until the missing chunk
// arrives.
func (q *Queue) dequeueNext() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Chunk{}, false
	}
	// Drop anything stale that sorted to the root.
	for q.queue.Len() > 0 && q.queue[0].Seq < q.next {
		heap.Pop(&q.queue)
		q.report("skipped")
	}
	if q.queue.Len() == 0 || q.queue[0].Seq != q.next {
		return Chunk{}, false
	}
	c := heap.Pop(&q.queue).(Chunk)
	q.next++
	return c, true
}

// play decodes and plays one chunk. Decode and playback failures skip the
// chunk; the call continues.
func (q *Queue) play(c Chunk) {
	decoded, err := q.dec.Decode(c.Payload)
	if err != nil {
		slog.Warn("playback: undecodable chunk, skipping",
			"seq", c.Seq,
			"error", callerr.New(callerr.KindPlayback, err))
		q.report("skipped")
		return
	}

	q.playing.Store(true)
	err = q.sink.Play(context.Background(), decoded.PCM, decoded.SampleRate)
	q.playing.Store(false)

	if err != nil {
		slog.Warn("playback: sink error, skipping chunk",
			"seq", c.Seq,
			"error", callerr.New(callerr.KindPlayback, err))
		q.report("skipped")
		return
	}
	q.report("played")
}

func (q *Queue) report(status string) {
	if q.observe != nil {
		q.observe(status)
	}
}
