// Package mock provides test doubles for the audio package interfaces.
//
// Use [Source] to script frame delivery into the pipeline and [Sink] to
// inspect what was played. Both record their calls for assertions.
package mock

import (
	"context"
	"sync"

	"github.com/nova-voice/callengine/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureSource = (*Source)(nil)
	_ audio.PlaybackSink  = (*Sink)(nil)
)

// Source is a mock [audio.CaptureSource]. Tests push frames via [Source.Emit].
type Source struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StartCallCount is the number of times Start was called.
	StartCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	frames chan audio.Frame
	closed bool
}

// NewSource creates a Source with a buffered frame channel.
func NewSource() *Source {
	return &Source{frames: make(chan audio.Frame, 256)}
}

// Start records the call and returns StartErr.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCallCount++
	return s.StartErr
}

// Frames returns the scripted frame channel.
func (s *Source) Frames() <-chan audio.Frame {
	return s.frames
}

// Emit delivers a frame to the pipeline. Non-blocking; drops when full.
// Frames emitted after Close are discarded.
func (s *Source) Emit(frame audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
	}
}

// Close records the call and closes the frame channel exactly once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// PlayCall records a single invocation of Sink.Play.
type PlayCall struct {
	// PCM is a copy of the payload passed to Play.
	PCM []byte

	// SampleRate is the rate passed to Play.
	SampleRate int
}

// Sink is a mock [audio.PlaybackSink].
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// BlockPlay, if non-nil, makes Play block until the channel is closed,
	// Stop is called, or the context is cancelled. Use it to test interrupt
	// behaviour.
	BlockPlay chan struct{}

	// PlayCalls records every Play invocation in order.
	PlayCalls []PlayCall

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	abort chan struct{}
}

// NewSink creates a Sink.
func NewSink() *Sink {
	return &Sink{abort: make(chan struct{})}
}

// Play records the call, optionally blocks, and returns PlayErr.
func (s *Sink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	s.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.PlayCalls = append(s.PlayCalls, PlayCall{PCM: cp, SampleRate: sampleRate})
	block := s.BlockPlay
	abort := s.abort
	err := s.PlayErr
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-abort:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Stop records the call and unblocks any blocked Play.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCallCount++
	close(s.abort)
	s.abort = make(chan struct{})
}

// Close records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Played returns a snapshot of recorded Play calls. Thread-safe.
func (s *Sink) Played() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}
