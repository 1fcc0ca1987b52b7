package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nova-voice/callengine/internal/config"
	"github.com/nova-voice/callengine/internal/observe"
	"github.com/nova-voice/callengine/internal/transport"
	"github.com/nova-voice/callengine/internal/transport/chunked"
	"github.com/nova-voice/callengine/internal/transport/streaming"
	"github.com/nova-voice/callengine/internal/vad"
	"github.com/nova-voice/callengine/pkg/audio"
	"github.com/nova-voice/callengine/pkg/history"
	"github.com/nova-voice/callengine/pkg/provider/llm"
	"github.com/nova-voice/callengine/pkg/provider/stt"
	"github.com/nova-voice/callengine/pkg/provider/tts"
)

// FacadeConfig collects everything a call needs, for both transports. The
// facade picks the transport per the configured mode and falls back from
// streaming to chunked when the gateway is unreachable at startup.
type FacadeConfig struct {
	// Mode selects the transport. Default: chunked.
	Mode config.TransportMode

	// UserID identifies the caller; the streaming gateway scopes the
	// session by it. May be empty.
	UserID string

	// ConversationID keys history across calls. Empty gets a fresh one.
	ConversationID string

	// MaxDuration caps the session. Zero disables the cap.
	MaxDuration time.Duration

	// Profile sizes the capture buffer.
	Profile audio.Profile

	Source audio.CaptureSource
	Sink   audio.PlaybackSink

	// Chunked pipeline stages.
	STT          stt.Provider
	LLM          llm.Provider
	TTS          tts.Provider
	History      history.Store
	Voice        tts.VoiceProfile
	SystemPrompt string
	HistoryTurns int

	// Streaming gateway.
	GatewayURL     string
	APIKey         string
	StrictProtocol bool

	// VAD tuning; zero values take the detector defaults.
	VAD vad.Config

	SampleRate int
	Channels   int

	DurationCheckInterval time.Duration
	Metrics               *observe.Metrics
}

// Facade is the single entry point the application uses to run a voice call.
// It hides which transport is active behind the shared status vocabulary.
type Facade struct {
	cfg FacadeConfig

	mu      sync.Mutex
	ctrl    *Controller
	session *Session
	events  chan Event
}

// NewFacade creates a facade in the idle state.
func NewFacade(cfg FacadeConfig) *Facade {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if !cfg.Profile.Valid() {
		cfg.Profile = audio.ProfileDesktop
	}
	return &Facade{
		cfg:    cfg,
		events: make(chan Event, 32),
	}
}

// Start begins a call. With streaming configured, a gateway that cannot be
// reached at startup degrades the call to the chunked transport instead of
// failing it.
func (f *Facade) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctrl != nil {
		return errors.New("call: already started")
	}

	session := NewSession(f.cfg.UserID, f.cfg.ConversationID, f.cfg.MaxDuration)

	mode := f.cfg.Mode
	if mode == "" {
		mode = config.TransportChunked
	}

	if mode == config.TransportStreaming {
		// A failed Start cleans up after itself; the dead controller is
		// simply dropped.
		ctrl := f.newController(session, f.newStreamingTransport(session))
		if err := ctrl.Start(ctx); err != nil {
			slog.Warn("streaming transport unavailable, falling back to chunked",
				"gateway", f.cfg.GatewayURL, "error", err)
			mode = config.TransportChunked
		} else {
			f.adopt(session, ctrl)
			return nil
		}
	}

	if f.cfg.STT == nil || f.cfg.LLM == nil || f.cfg.TTS == nil {
		return errors.New("call: chunked transport needs stt, llm, and tts providers")
	}
	ctrl := f.newController(session, f.newChunkedTransport(session))
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("call: start: %w", err)
	}
	f.adopt(session, ctrl)
	return nil
}

// Stop ends the call. Safe to call repeatedly and before Start.
func (f *Facade) Stop() {
	f.mu.Lock()
	ctrl := f.ctrl
	f.mu.Unlock()
	if ctrl != nil {
		ctrl.Stop()
	}
}

// Mute suspends the capture path.
func (f *Facade) Mute() { f.setMuted(true) }

// Unmute resumes the capture path.
func (f *Facade) Unmute() { f.setMuted(false) }

// Status returns the current call state.
func (f *Facade) Status() Status {
	f.mu.Lock()
	ctrl := f.ctrl
	f.mu.Unlock()
	if ctrl == nil {
		return StatusIdle
	}
	return ctrl.Status()
}

// Session returns the active session, or nil before Start.
func (f *Facade) Session() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Events returns the call's event stream. Closed after the session ends.
func (f *Facade) Events() <-chan Event { return f.events }

func (f *Facade) setMuted(muted bool) {
	f.mu.Lock()
	ctrl := f.ctrl
	f.mu.Unlock()
	if ctrl != nil {
		ctrl.SetMuted(muted)
	}
}

// adopt installs the live controller and starts forwarding its events.
func (f *Facade) adopt(session *Session, ctrl *Controller) {
	f.session = session
	f.ctrl = ctrl
	go func() {
		for evt := range ctrl.Events() {
			select {
			case f.events <- evt:
			default:
				slog.Warn("call event dropped, consumer not keeping up")
			}
		}
		close(f.events)
	}()
}

func (f *Facade) newController(session *Session, tr transport.Transport) *Controller {
	return NewController(ControllerConfig{
		Session:               session,
		Source:                f.cfg.Source,
		Sink:                  f.cfg.Sink,
		Transport:             tr,
		VAD:                   f.cfg.VAD,
		SampleRate:            f.cfg.SampleRate,
		Channels:              f.cfg.Channels,
		DurationCheckInterval: f.cfg.DurationCheckInterval,
		Metrics:               f.cfg.Metrics,
	})
}

func (f *Facade) newChunkedTransport(session *Session) transport.Transport {
	return chunked.New(chunked.Config{
		STT:            f.cfg.STT,
		LLM:            f.cfg.LLM,
		TTS:            f.cfg.TTS,
		History:        f.cfg.History,
		Voice:          f.cfg.Voice,
		SystemPrompt:   f.cfg.SystemPrompt,
		HistoryTurns:   f.cfg.HistoryTurns,
		SessionID:      session.ID,
		ConversationID: session.ConversationID,
		SampleRate:     f.cfg.SampleRate,
		Metrics:        f.cfg.Metrics,
	})
}

func (f *Facade) newStreamingTransport(session *Session) transport.Transport {
	return streaming.New(streaming.Config{
		URL:            f.cfg.GatewayURL,
		APIKey:         f.cfg.APIKey,
		SessionID:      session.ID,
		UserID:         session.UserID,
		ConversationID: session.ConversationID,
		SampleRate:     f.cfg.SampleRate,
		Channels:       f.cfg.Channels,
		FrameSamples:   f.cfg.Profile.BufferSamples,
		StrictProtocol: f.cfg.StrictProtocol,
		Metrics:        f.cfg.Metrics,
	})
}
