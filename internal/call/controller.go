package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nova-voice/callengine/internal/observe"
	"github.com/nova-voice/callengine/internal/playback"
	"github.com/nova-voice/callengine/internal/transport"
	"github.com/nova-voice/callengine/internal/vad"
	"github.com/nova-voice/callengine/pkg/audio"
	"github.com/nova-voice/callengine/pkg/callerr"
)

// muter is implemented by transports that track mute state server-side.
type muter interface {
	SetMuted(muted bool) error
}

// ControllerConfig wires a [Controller].
type ControllerConfig struct {
	Session   *Session
	Source    audio.CaptureSource
	Sink      audio.PlaybackSink
	Transport transport.Transport

	// VAD tunes the voice detector. PlaybackActive is overwritten to track
	// the playback queue.
	VAD vad.Config

	// Playback decode format for Opus payloads.
	SampleRate int
	Channels   int

	// DurationCheckInterval is how often the duration cap is checked.
	// Default: 30s.
	DurationCheckInterval time.Duration

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Controller runs one call session: it pumps capture frames into the voice
// detector and the transport, turns detector events into transport actions,
// and turns transport events into playback and status updates. A controller
// is single-use.
type Controller struct {
	cfg      ControllerConfig
	session  *Session
	events   chan Event
	queue    *playback.Queue
	detector *vad.Detector

	muted      atomic.Bool
	calibrated atomic.Bool
	running    atomic.Bool

	statusMu sync.Mutex
	status   Status

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewController creates a controller in the idle state.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.DurationCheckInterval <= 0 {
		cfg.DurationCheckInterval = 30 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Controller{
		cfg:     cfg,
		session: cfg.Session,
		events:  make(chan Event, 32),
		status:  StatusIdle,
		stopped: make(chan struct{}),
	}
}

// Events returns the controller's output stream. Closed after Stop completes;
// the final event is the Ended status.
func (c *Controller) Events() <-chan Event { return c.events }

// Status returns the current state.
func (c *Controller) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// Start brings the session up: transport first (so a dial failure leaves
// nothing to tear down), then playback, capture, and detection.
func (c *Controller) Start(ctx context.Context) error {
	c.setStatus(StatusInitializing)

	if err := c.cfg.Transport.Start(ctx); err != nil {
		return fmt.Errorf("call: transport start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	var chunkObserver playback.Option = func(*playback.Queue) {}
	if c.cfg.Metrics != nil {
		m := c.cfg.Metrics
		chunkObserver = playback.WithChunkObserver(func(status string) {
			m.RecordPlaybackChunk(context.Background(), status)
		})
	}
	c.queue = playback.New(c.cfg.Sink, c.cfg.SampleRate, c.cfg.Channels, chunkObserver)

	if err := c.cfg.Source.Start(runCtx); err != nil {
		cancel()
		c.cfg.Transport.Close()
		c.queue.Close()
		if callerr.KindOf(err) == callerr.KindInternal {
			err = callerr.New(callerr.KindPermissionDenied, err)
		}
		return fmt.Errorf("call: capture start: %w", err)
	}

	vadCfg := c.cfg.VAD
	vadCfg.PlaybackActive = c.queue.Active
	c.detector = vad.New(vadCfg)

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveSessions.Add(runCtx, 1)
	}

	c.wg.Add(4)
	go func() { defer c.wg.Done(); c.detector.Run(runCtx) }()
	go func() { defer c.wg.Done(); c.captureLoop() }()
	go func() { defer c.wg.Done(); c.vadLoop() }()
	go func() { defer c.wg.Done(); c.transportLoop() }()
	if c.session != nil && c.session.MaxDuration > 0 {
		c.wg.Add(1)
		go func() { defer c.wg.Done(); c.durationLoop(runCtx) }()
	}

	c.running.Store(true)
	go c.supervise()

	slog.Info("call session started",
		"session", c.sessionID(),
		"conversation", c.conversationID())
	return nil
}

// Stop tears the session down. Safe to call concurrently and repeatedly;
// every caller blocks until teardown has finished.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		slog.Info("call session stopping", "session", c.sessionID())
		if c.cancel != nil {
			c.cancel()
		}
		c.cfg.Source.Close()
		c.cfg.Transport.Close()
		if c.queue != nil {
			c.queue.Close()
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
		}
		if !c.running.Load() {
			// Never came up; no supervisor will close the channels.
			c.setStatus(StatusEnded)
			close(c.events)
			close(c.stopped)
		}
	})
	<-c.stopped
}

// SetMuted suspends (or resumes) the capture path: the detector stops
// tracking levels, frames stop flowing to the transport, and a mute-aware
// transport is told so server-side detection stays clean.
func (c *Controller) SetMuted(muted bool) {
	c.muted.Store(muted)
	if c.detector != nil {
		c.detector.SetMuted(muted)
	}
	if m, ok := c.cfg.Transport.(muter); ok {
		if err := m.SetMuted(muted); err != nil {
			slog.Warn("call: transport mute failed", "muted", muted, "error", err)
		}
	}
	slog.Debug("call mute changed", "session", c.sessionID(), "muted", muted)
}

// supervise waits for the loops to drain, then emits the terminal status and
// closes the event stream.
func (c *Controller) supervise() {
	c.wg.Wait()
	c.setStatus(StatusEnded)
	c.emit(Event{Type: EventStatusChange, Status: StatusEnded})
	close(c.events)
	close(c.stopped)
}

// captureLoop pumps frames from the device into the detector and transport.
func (c *Controller) captureLoop() {
	for frame := range c.cfg.Source.Frames() {
		c.detector.Feed(frame)
		if c.muted.Load() {
			continue
		}
		if err := c.cfg.Transport.SendAudio(frame); err != nil {
			slog.Debug("call: frame send failed", "error", err)
		}
	}
}

// vadLoop turns detector events into transport actions.
func (c *Controller) vadLoop() {
	for evt := range c.detector.Events() {
		switch evt.Type {
		case vad.EventCalibrated:
			c.calibrated.Store(true)
			c.setStatus(StatusListening)
			c.emit(Event{Type: EventStatusChange, Status: StatusListening})

		case vad.EventCalibrationFailed:
			// No ambient signal ever arrived; the capture path is dead and
			// the session cannot proceed.
			slog.Error("ambient calibration failed, ending call", "session", c.sessionID())
			c.emit(Event{Type: EventError, Err: callerr.Newf(callerr.KindPermissionDenied,
				"call: ambient calibration timed out with no capture signal")})
			go c.Stop()

		case vad.EventSpeechEnd:
			slog.Debug("utterance complete", "duration", evt.Duration)
			if err := c.cfg.Transport.FinalizeUtterance(); err != nil {
				slog.Warn("call: finalize failed", "error", err)
			}

		case vad.EventTooShort:
			slog.Debug("speech burst too short, ignoring", "duration", evt.Duration)

		case vad.EventInterrupt:
			slog.Info("barge-in: interrupting playback", "session", c.sessionID())
			c.queue.Interrupt()
			if err := c.cfg.Transport.Interrupt(); err != nil {
				slog.Warn("call: transport interrupt failed", "error", err)
			}
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.Interrupts.Add(context.Background(), 1)
			}
		}
	}
}

// transportLoop turns transport events into playback and status updates.
func (c *Controller) transportLoop() {
	for evt := range c.cfg.Transport.Events() {
		switch evt.Type {
		case transport.EventStatus:
			c.handleTransportStatus(evt.Status)

		case transport.EventTranscript:
			c.emit(Event{Type: EventTranscript, Transcript: Transcript{
				Text:       evt.Transcript.Text,
				Final:      evt.Transcript.Final,
				Confidence: evt.Transcript.Confidence,
				Role:       evt.Transcript.Role,
			}})

		case transport.EventAudio:
			c.queue.Enqueue(playback.Chunk{Seq: evt.Audio.Seq, Payload: evt.Audio.Payload})

		case transport.EventError:
			c.emit(Event{Type: EventError, Err: evt.Err})
			if callerr.IsTerminal(evt.Err) {
				go c.Stop()
			}
		}
	}
}

// handleTransportStatus maps a transport status onto the call state machine.
func (c *Controller) handleTransportStatus(s transport.Status) {
	// Listening before calibration finishes is still "initializing" to the
	// application.
	if s == transport.StatusListening && !c.calibrated.Load() {
		return
	}
	// A new response is about to start; rewind the playback position.
	if s == transport.StatusSpeaking {
		c.queue.Reset()
	}
	status := Status(s)
	c.setStatus(status)
	c.emit(Event{Type: EventStatusChange, Status: status})
}

// durationLoop force-ends the session when it outlives its cap. The stop
// path is once-only, so a racing user Stop cannot double-teardown.
func (c *Controller) durationLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.DurationCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !c.session.Expired(now) {
				continue
			}
			slog.Info("session duration cap reached, ending call",
				"session", c.sessionID(), "cap", c.session.MaxDuration)
			c.emit(Event{Type: EventError, Err: callerr.Newf(callerr.KindDurationExceeded,
				"call: session exceeded %s cap", c.session.MaxDuration)})
			go c.Stop()
			return
		}
	}
}

func (c *Controller) setStatus(s Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// emit sends without blocking; the channel is closed only after every
// producer goroutine has exited.
func (c *Controller) emit(evt Event) {
	select {
	case c.events <- evt:
	default:
		slog.Warn("call event dropped, consumer not keeping up")
	}
}

func (c *Controller) sessionID() string {
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

func (c *Controller) conversationID() string {
	if c.session == nil {
		return ""
	}
	return c.session.ConversationID
}
