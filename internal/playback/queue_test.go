package playback

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/nova-voice/callengine/pkg/audio/codec"
	audiomock "github.com/nova-voice/callengine/pkg/audio/mock"
)

// wavChunk builds a valid WAV payload whose PCM is filled with marker, so
// tests can tell chunks apart after decoding.
func wavChunk(seq uint64, marker byte) Chunk {
	pcm := make([]byte, 64)
	for i := range pcm {
		pcm[i] = marker
	}
	return Chunk{Seq: seq, Payload: codec.EncodeWAV(pcm, 16000, 1)}
}

// waitForPlays polls the sink until want chunks have played or the timeout
// expires.
func waitForPlays(t *testing.T, sink *audiomock.Sink, want int) []audiomock.PlayCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := sink.Played(); len(calls) >= want {
			return calls
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d played chunks, got %d", want, len(sink.Played()))
	return nil
}

func TestQueue_PlaysInOrder(t *testing.T) {
	sink := audiomock.NewSink()
	q := New(sink, 16000, 1)
	defer q.Close()

	q.Enqueue(wavChunk(0, 'a'))
	q.Enqueue(wavChunk(1, 'b'))
	q.Enqueue(wavChunk(2, 'c'))

	calls := waitForPlays(t, sink, 3)
	for i, want := range []byte{'a', 'b', 'c'} {
		if calls[i].PCM[0] != want {
			t.Errorf("chunk %d marker = %c, want %c", i, calls[i].PCM[0], want)
		}
	}
}

func TestQueue_ReordersOutOfOrderArrival(t *testing.T) {
	sink := audiomock.NewSink()
	q := New(sink, 16000, 1)
	defer q.Close()

	// Arrival order 2, 0, 1 — playback must still be 0, 1, 2.
	q.Enqueue(wavChunk(2, 'c'))
	q.Enqueue(wavChunk(0, 'a'))
	q.Enqueue(wavChunk(1, 'b'))

	calls := waitForPlays(t, sink, 3)
	for i, want := range []byte{'a', 'b', 'c'} {
		if calls[i].PCM[0] != want {
			t.Errorf("chunk %d marker = %c, want %c", i, calls[i].PCM[0], want)
		}
	}
}

func TestQueue_StallsOnGapUntilMissingChunkArrives(t *testing.T) {
	sink := audiomock.NewSink()
	q := New(sink, 16000, 1)
	defer q.Close()

	q.Enqueue(wavChunk(0, 'a'))
	q.Enqueue(wavChunk(2, 'c'))

	waitForPlays(t, sink, 1)
	time.Sleep(20 * time.Millisecond)
	if got := len(sink.Played()); got != 1 {
		t.Fatalf("played %d chunks before gap filled, want 1", got)
	}

	q.Enqueue(wavChunk(1, 'b'))
	calls := waitForPlays(t, sink, 3)
	if calls[1].PCM[0] != 'b' || calls[2].PCM[0] != 'c' {
		t.Errorf("order after gap fill = %c,%c, want b,c", calls[1].PCM[0], calls[2].PCM[0])
	}
}

func TestQueue_DropsStaleChunks(t *testing.T) {
	var mu sync.Mutex
	var statuses []string
	sink := audiomock.NewSink()
	q := New(sink, 16000, 1, WithChunkObserver(func(s string) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}))
	defer q.Close()

	q.Enqueue(wavChunk(0, 'a'))
	q.Enqueue(wavChunk(1, 'b'))
	waitForPlays(t, sink, 2)

	// Sequence 0 is behind the playback position now.
	q.Enqueue(wavChunk(0, 'x'))
	time.Sleep(20 * time.Millisecond)

	if got := len(sink.Played()); got != 2 {
		t.Fatalf("played %d chunks, want 2 (stale chunk must not play)", got)
	}
	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, s := range statuses {
		if s == "skipped" {
			found = true
		}
	}
	if !found {
		t.Error("stale chunk was not reported as skipped")
	}
}

func TestQueue_InterruptFlushesAndRewinds(t *testing.T) {
	sink := audiomock.NewSink()
	sink.BlockPlay = make(chan struct{})
	q := New(sink, 16000, 1)
	defer q.Close()

	q.Enqueue(wavChunk(0, 'a'))
	q.Enqueue(wavChunk(1, 'b'))
	q.Enqueue(wavChunk(2, 'c'))
	waitForPlays(t, sink, 1) // chunk 0 is blocked mid-play

	q.Interrupt()

	// The interrupt unblocks the sink; nothing else may play from the old
	// response.
	time.Sleep(20 * time.Millisecond)
	if got := len(sink.Played()); got != 1 {
		t.Fatalf("played %d chunks after interrupt, want 1", got)
	}

	// A new response starts at sequence zero again.
	close(sink.BlockPlay)
	q.Enqueue(wavChunk(0, 'z'))
	calls := waitForPlays(t, sink, 2)
	if calls[1].PCM[0] != 'z' {
		t.Errorf("first chunk after interrupt = %c, want z", calls[1].PCM[0])
	}
}

func TestQueue_ActiveReflectsPlayback(t *testing.T) {
	sink := audiomock.NewSink()
	sink.BlockPlay = make(chan struct{})
	q := New(sink, 16000, 1)
	defer q.Close()

	if q.Active() {
		t.Error("Active = true on empty queue")
	}

	q.Enqueue(wavChunk(0, 'a'))
	waitForPlays(t, sink, 1)
	if !q.Active() {
		t.Error("Active = false while a chunk is playing")
	}

	close(sink.BlockPlay)
	time.Sleep(20 * time.Millisecond)
	if q.Active() {
		t.Error("Active = true after playback finished")
	}
}

func TestQueue_SkipsUndecodableChunk(t *testing.T) {
	var mu sync.Mutex
	var statuses []string
	sink := audiomock.NewSink()
	q := New(sink, 16000, 1, WithChunkObserver(func(s string) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}))
	defer q.Close()

	q.Enqueue(Chunk{Seq: 0, Payload: []byte("definitely not audio")})
	q.Enqueue(wavChunk(1, 'b'))

	calls := waitForPlays(t, sink, 1)
	if calls[0].PCM[0] != 'b' {
		t.Errorf("played marker = %c, want b (bad chunk skipped)", calls[0].PCM[0])
	}
	mu.Lock()
	defer mu.Unlock()
	if len(statuses) == 0 || statuses[0] != "skipped" {
		t.Errorf("statuses = %v, want skipped first", statuses)
	}
}

func TestQueue_CloseStopsSink(t *testing.T) {
	sink := audiomock.NewSink()
	q := New(sink, 16000, 1)

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sink.CloseCallCount != 1 {
		t.Errorf("sink Close calls = %d, want 1", sink.CloseCallCount)
	}
}

// Sanity check that wavChunk produces decodable WAV.
func TestWAVChunkHelper(t *testing.T) {
	c := wavChunk(0, 'a')
	if !bytes.HasPrefix(c.Payload, []byte("RIFF")) {
		t.Fatal("helper did not produce a RIFF payload")
	}
	if !bytes.Contains(c.Payload[:12], []byte("WAVE")) {
		t.Fatal("missing WAVE marker")
	}
}
