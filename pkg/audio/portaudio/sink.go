package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// sinkBufferSamples is the output buffer size per write.
const sinkBufferSamples = 2048

// Sink is a speaker [audio.PlaybackSink] on the default output device.
// A fresh output stream is opened per Play call so that sample rates may
// differ between chunks; the speech services emit a constant rate in
// practice, making this cheap.
type Sink struct {
	mu     sync.Mutex
	abort  chan struct{}
	closed bool
}

// NewSink creates a playback sink. The output device is opened lazily on the
// first Play call.
func NewSink() (*Sink, error) {
	if err := initPortAudio(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Sink{abort: make(chan struct{})}, nil
}

// Play blocks until pcm has been written to the device, ctx is cancelled, or
// Stop is called.
func (s *Sink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("portaudio: sink is closed")
	}
	abort := s.abort
	s.mu.Unlock()

	buf := make([]int16, sinkBufferSamples)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	samples := len(pcm) / 2
	for off := 0; off < samples; off += len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-abort:
			return nil
		default:
		}

		n := min(len(buf), samples-off)
		for i := 0; i < n; i++ {
			buf[i] = int16(pcm[(off+i)*2]) | int16(pcm[(off+i)*2+1])<<8
		}
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write output: %w", err)
		}
	}
	return nil
}

// Stop aborts any in-flight Play. Further Play calls are allowed.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.abort)
	s.abort = make(chan struct{})
}

// Close releases the sink. Safe to call repeatedly.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.abort)
	return nil
}
