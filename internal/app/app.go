// Package app wires the call engine's subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the call and the operational HTTP endpoints, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithCaptureSource, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nova-voice/callengine/internal/call"
	"github.com/nova-voice/callengine/internal/config"
	"github.com/nova-voice/callengine/internal/health"
	"github.com/nova-voice/callengine/internal/observe"
	"github.com/nova-voice/callengine/pkg/audio"
	"github.com/nova-voice/callengine/pkg/audio/portaudio"
	"github.com/nova-voice/callengine/pkg/history"
	historypg "github.com/nova-voice/callengine/pkg/history/postgres"
	"github.com/nova-voice/callengine/pkg/provider/llm"
	"github.com/nova-voice/callengine/pkg/provider/stt"
	"github.com/nova-voice/callengine/pkg/provider/tts"
)

// Providers holds one interface value per pipeline stage. Populated by
// main via the config registry. The LLM slot may hold a fallback chain.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	history history.Store
	source  audio.CaptureSource
	sink    audio.PlaybackSink
	metrics *observe.Metrics
	facade  *call.Facade
	httpSrv *http.Server

	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of connecting to
// PostgreSQL from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithCaptureSource injects a capture source instead of opening the default
// input device.
func WithCaptureSource(s audio.CaptureSource) Option {
	return func(a *App) { a.source = s }
}

// WithPlaybackSink injects a playback sink instead of opening the default
// output device.
func WithPlaybackSink(s audio.PlaybackSink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects a metrics instance instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}
	a.initFacade()
	a.initHTTP()

	return a, nil
}

// initHistory connects the PostgreSQL store, or runs without persistence
// when no DSN is configured.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil // injected
	}
	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		slog.Info("no postgres_dsn configured, conversation history disabled")
		return nil
	}

	store, err := historypg.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, store.Close)
	a.checkers = append(a.checkers, health.Checker{Name: "history", Check: store.Ping})
	slog.Info("conversation history enabled")
	return nil
}

// initAudio opens the capture and playback devices unless doubles were
// injected.
func (a *App) initAudio() error {
	if a.source == nil {
		capture, err := portaudio.NewCapture(a.profile())
		if err != nil {
			return fmt.Errorf("open capture device: %w", err)
		}
		a.source = capture
		a.closers = append(a.closers, capture.Close)
	}
	if a.sink == nil {
		sink, err := portaudio.NewSink()
		if err != nil {
			return fmt.Errorf("open playback device: %w", err)
		}
		a.sink = sink
		a.closers = append(a.closers, sink.Close)
	}
	return nil
}

// initFacade assembles the call facade from config and providers.
func (a *App) initFacade() {
	a.facade = call.NewFacade(call.FacadeConfig{
		Mode:        a.cfg.Call.Transport,
		UserID:      a.cfg.Call.UserID,
		MaxDuration: a.cfg.Call.MaxDuration,
		Profile:     a.profile(),

		Source: a.source,
		Sink:   a.sink,

		STT:          a.providers.STT,
		LLM:          a.providers.LLM,
		TTS:          a.providers.TTS,
		History:      a.history,
		Voice:        a.voiceProfile(),
		SystemPrompt: a.cfg.Call.SystemPrompt,
		HistoryTurns: a.cfg.Call.HistoryTurns,

		GatewayURL:     a.cfg.Streaming.GatewayURL,
		APIKey:         a.cfg.Streaming.APIKey,
		StrictProtocol: a.cfg.Streaming.StrictProtocol,

		Metrics: a.metrics,
	})
}

// initHTTP builds the operational endpoint server: health, readiness, and
// the Prometheus scrape target, all behind the telemetry middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	h := health.New(a.checkers, health.WithEngineStatus(func() string {
		return string(a.facade.Status())
	}))
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Facade exposes the call facade, mainly for tests.
func (a *App) Facade() *call.Facade { return a.facade }

// Run starts the call and the operational HTTP server, then consumes call
// events until the session ends or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.facade.Start(ctx); err != nil {
		return fmt.Errorf("app: start call: %w", err)
	}
	session := a.facade.Session()
	slog.Info("call started",
		"session", session.ID,
		"conversation", session.ConversationID,
		"transport", a.cfg.Call.Transport)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("operational endpoints listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// When the call ends, release the server goroutine so Wait returns.
		defer func() {
			sdCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = a.httpSrv.Shutdown(sdCtx)
		}()

		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case evt, ok := <-a.facade.Events():
				if !ok {
					slog.Info("call ended", "session", session.ID)
					return nil
				}
				a.logEvent(evt)
			}
		}
	})

	return g.Wait()
}

// logEvent surfaces call events in the log stream. In a full deployment the
// browser client consumes these over its own channel; the engine log is the
// operator's view.
func (a *App) logEvent(evt call.Event) {
	switch evt.Type {
	case call.EventStatusChange:
		slog.Info("call status", "status", evt.Status)
	case call.EventTranscript:
		if evt.Transcript.Final {
			slog.Info("transcript",
				"role", evt.Transcript.Role,
				"text", evt.Transcript.Text)
		} else {
			slog.Debug("partial transcript", "text", evt.Transcript.Text)
		}
	case call.EventError:
		slog.Error("call error", "err", evt.Err)
	}
}

// Shutdown tears everything down: the call first, then the HTTP server, then
// the closers in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.facade.Stop()

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) profile() audio.Profile {
	if a.cfg.Call.Profile == config.ProfileMobile {
		return audio.ProfileMobile
	}
	return audio.ProfileDesktop
}

func (a *App) voiceProfile() tts.VoiceProfile {
	return tts.VoiceProfile{
		ID:          a.cfg.Voice.VoiceID,
		Quality:     a.cfg.Voice.Quality,
		SpeedFactor: a.cfg.Voice.SpeedFactor,
	}
}
