// Package portaudio provides native microphone capture and speaker playback
// backed by PortAudio. It implements [audio.CaptureSource] and
// [audio.PlaybackSink] for desktop deployments; browser deployments use their
// own capture path and talk to the engine over the streaming transport.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/nova-voice/callengine/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureSource = (*Capture)(nil)
	_ audio.PlaybackSink  = (*Sink)(nil)
)

const (
	// captureSampleRate is the fixed capture rate of the speech pipeline.
	captureSampleRate = 16000

	// frameChannelBuffer is the depth of the frame delivery channel. When it
	// fills (slow consumer), the oldest frame is dropped so the real-time
	// callback never blocks.
	frameChannelBuffer = 64
)

var initOnce sync.Once

// initPortAudio initialises the PortAudio runtime exactly once per process.
func initPortAudio() error {
	var err error
	initOnce.Do(func() {
		err = portaudio.Initialize()
	})
	return err
}

// Capture is a microphone [audio.CaptureSource].
type Capture struct {
	profile audio.Profile

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  chan audio.Frame
	seq     uint64
	started time.Time
	closed  bool
}

// NewCapture creates a capture source sized by the given device profile.
// Returns an error if the profile's buffer size is not a power of two.
func NewCapture(profile audio.Profile) (*Capture, error) {
	if !profile.Valid() {
		return nil, fmt.Errorf("portaudio: buffer size %d is not a power of two", profile.BufferSamples)
	}
	return &Capture{
		profile: profile,
		frames:  make(chan audio.Frame, frameChannelBuffer),
	}, nil
}

// Start opens the default input device and begins delivering frames.
// A failure to open the device is surfaced as-is so the caller can classify
// it as a permission error.
func (c *Capture) Start(ctx context.Context) error {
	if err := initPortAudio(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("portaudio: capture is closed")
	}
	if c.stream != nil {
		return errors.New("portaudio: capture already started")
	}

	buf := make([]int16, c.profile.BufferSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(captureSampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}
	c.stream = stream
	c.started = time.Now()

	go c.readLoop(ctx, stream, buf)
	return nil
}

// readLoop pulls buffers from the device and forwards them as frames.
// It owns the frames channel and closes it on exit.
func (c *Capture) readLoop(ctx context.Context, stream *portaudio.Stream, buf []int16) {
	defer close(c.frames)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := stream.Read(); err != nil {
			// Device gone or stream stopped by Close.
			return
		}

		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			data[i*2] = byte(s)
			data[i*2+1] = byte(s >> 8)
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.seq++
		frame := audio.Frame{
			Data:       data,
			SampleRate: captureSampleRate,
			Channels:   1,
			Seq:        c.seq,
			Timestamp:  time.Since(c.started),
		}
		c.mu.Unlock()

		select {
		case c.frames <- frame:
		default:
			// Buffer full: drop the oldest frame to keep the capture path
			// non-blocking.
			select {
			case <-c.frames:
			default:
			}
			select {
			case c.frames <- frame:
			default:
			}
		}
	}
}

// Frames returns the frame delivery channel.
func (c *Capture) Frames() <-chan audio.Frame {
	return c.frames
}

// Close stops capture and releases the input device. Safe to call repeatedly.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.stream != nil {
		_ = c.stream.Stop()
		err := c.stream.Close()
		c.stream = nil
		if err != nil {
			return fmt.Errorf("portaudio: close input stream: %w", err)
		}
	}
	return nil
}
