// Package chunked implements the utterance-at-a-time transport: the voice
// detector delimits an utterance, the buffered capture audio runs through
// transcribe → respond → synthesize, and the synthesized response comes back
// as a single sequence-zero audio chunk.
//
// Each pipeline stage retries transient failures with bounded backoff.
// Utterances that arrive while a pipeline is already running are discarded;
// half-duplex is the contract here, barge-in is handled by [Transport.Interrupt].
package chunked

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nova-voice/callengine/internal/observe"
	"github.com/nova-voice/callengine/internal/resilience"
	"github.com/nova-voice/callengine/internal/transport"
	"github.com/nova-voice/callengine/pkg/audio"
	"github.com/nova-voice/callengine/pkg/callerr"
	"github.com/nova-voice/callengine/pkg/history"
	"github.com/nova-voice/callengine/pkg/provider/llm"
	"github.com/nova-voice/callengine/pkg/provider/stt"
	"github.com/nova-voice/callengine/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Transport)(nil)

// MinUtteranceBytes is the default minimum utterance payload: about half a
// second of 16 kHz mono PCM16. Anything shorter is treated as noise.
const MinUtteranceBytes = 16000

// Config wires a chunked Transport.
type Config struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// History persists turns and serves conversation context. Optional;
	// nil disables persistence and context.
	History history.Store

	// Voice is the synthesis voice profile.
	Voice tts.VoiceProfile

	// SystemPrompt is injected into every response-generation request.
	SystemPrompt string

	// HistoryTurns caps the conversation context sent to the LLM.
	// Default: 20.
	HistoryTurns int

	// SessionID and ConversationID label persisted turns.
	SessionID      string
	ConversationID string

	// SampleRate of the buffered capture audio. Default: 16000.
	SampleRate int

	// Language hint for transcription. Optional.
	Language string

	// MinUtteranceBytes overrides the discard threshold. Default:
	// [MinUtteranceBytes].
	MinUtteranceBytes int

	// RetryDelays overrides the per-stage backoff schedule. Default:
	// [resilience.RetryDelays].
	RetryDelays []time.Duration

	// Metrics records stage latencies and utterance counters. Optional.
	Metrics *observe.Metrics
}

// Transport is the chunked transport implementation.
type Transport struct {
	cfg    Config
	events chan transport.Event

	mu       sync.Mutex
	buf      []byte
	busy     bool
	cancel   context.CancelFunc // cancels the pipeline in flight
	baseCtx  context.Context
	started  bool
	closed   bool
	closeOne sync.Once

	wg sync.WaitGroup
}

// New creates a chunked Transport. Call Start before sending audio.
func New(cfg Config) *Transport {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 20
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MinUtteranceBytes <= 0 {
		cfg.MinUtteranceBytes = MinUtteranceBytes
	}
	return &Transport{
		cfg:    cfg,
		events: make(chan transport.Event, 32),
	}
}

// Start implements transport.Transport. It validates the pipeline wiring;
// there is no connection to establish.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.STT == nil || t.cfg.LLM == nil || t.cfg.TTS == nil {
		return errors.New("chunked: stt, llm, and tts providers are all required")
	}
	t.mu.Lock()
	t.baseCtx = ctx
	t.started = true
	t.mu.Unlock()
	t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusListening})
	return nil
}

// SendAudio buffers one capture frame into the current utterance.
func (t *Transport) SendAudio(frame audio.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.closed {
		return errors.New("chunked: transport not started")
	}
	t.buf = append(t.buf, frame.Data...)
	return nil
}

// FinalizeUtterance closes the current utterance and runs the pipeline on
// it. Too-small utterances are dropped quietly; utterances arriving while a
// pipeline is running are discarded.
func (t *Transport) FinalizeUtterance() error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return errors.New("chunked: transport not started")
	}
	utterance := t.buf
	t.buf = nil

	if t.busy {
		t.mu.Unlock()
		slog.Debug("chunked: pipeline busy, discarding utterance", "bytes", len(utterance))
		t.discard("busy")
		return nil
	}
	if len(utterance) < t.cfg.MinUtteranceBytes {
		t.mu.Unlock()
		slog.Debug("chunked: utterance below minimum, discarding",
			"bytes", len(utterance), "min", t.cfg.MinUtteranceBytes)
		t.discard("too_small")
		return nil
	}

	ctx, cancel := context.WithCancel(t.baseCtx)
	t.busy = true
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.process(ctx, utterance)
		t.mu.Lock()
		t.busy = false
		t.cancel = nil
		t.mu.Unlock()
	}()
	return nil
}

// Interrupt abandons the pipeline in flight, if any.
func (t *Transport) Interrupt() error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event { return t.events }

// Close implements transport.Transport. Idempotent.
func (t *Transport) Close() error {
	t.closeOne.Do(func() {
		t.mu.Lock()
		t.closed = true
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		t.wg.Wait()
		close(t.events)
	})
	return nil
}

// process runs the three-stage pipeline on one utterance.
func (t *Transport) process(ctx context.Context, utterance []byte) {
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordUtterance(ctx, "chunked")
	}
	turnStart := time.Now()

	// Transcribe.
	t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusTranscribing})
	sttStart := time.Now()
	result, err := resilience.Retry(ctx, "stt", t.cfg.RetryDelays, func(ctx context.Context) (stt.Result, error) {
		return t.cfg.STT.Transcribe(ctx, utterance, stt.Config{
			SampleRate: t.cfg.SampleRate,
			Language:   t.cfg.Language,
		})
	})
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	}
	if err != nil {
		t.fail(ctx, "stt", err)
		return
	}
	if result.Text == "" {
		slog.Debug("chunked: empty transcript, nothing to answer")
		t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusListening})
		return
	}
	t.emit(transport.Event{Type: transport.EventTranscript, Transcript: transport.Transcript{
		Text:       result.Text,
		Final:      true,
		Confidence: result.Confidence,
		Role:       "user",
	}})
	t.persist(ctx, "user", result.Text, result.Confidence)

	// Respond.
	t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusThinking})
	llmStart := time.Now()
	reply, err := resilience.Retry(ctx, "llm", t.cfg.RetryDelays, func(ctx context.Context) (string, error) {
		return t.cfg.LLM.Complete(ctx, llm.Request{
			ConversationID: t.cfg.ConversationID,
			SystemPrompt:   t.cfg.SystemPrompt,
			Messages:       t.contextMessages(ctx, result.Text),
		})
	})
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	}
	if err != nil {
		t.fail(ctx, "llm", err)
		return
	}
	t.emit(transport.Event{Type: transport.EventTranscript, Transcript: transport.Transcript{
		Text:  reply,
		Final: true,
		Role:  "assistant",
	}})
	t.persist(ctx, "assistant", reply, 0)

	// Synthesize.
	t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusSpeaking})
	ttsStart := time.Now()
	speech, err := resilience.Retry(ctx, "tts", t.cfg.RetryDelays, func(ctx context.Context) ([]byte, error) {
		return t.cfg.TTS.Synthesize(ctx, reply, t.cfg.Voice)
	})
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
	}
	if err != nil {
		t.fail(ctx, "tts", err)
		return
	}
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	}

	// A chunked response is one chunk, always sequence zero. The consumer
	// resets its playback position before enqueueing it.
	t.emit(transport.Event{Type: transport.EventAudio, Audio: transport.Audio{Seq: 0, Payload: speech}})
	t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusListening})
}

// contextMessages builds the LLM message list: recent history plus the
// current user turn.
func (t *Transport) contextMessages(ctx context.Context, userText string) []llm.Message {
	var msgs []llm.Message
	if t.cfg.History != nil {
		recent, err := t.cfg.History.Recent(ctx, t.cfg.ConversationID, t.cfg.HistoryTurns)
		if err != nil {
			slog.Warn("chunked: history lookup failed, continuing without context", "error", err)
		}
		for _, e := range recent {
			msgs = append(msgs, llm.Message{Role: e.Role, Content: e.Text})
		}
	}
	return append(msgs, llm.Message{Role: "user", Content: userText})
}

// persist appends one turn to history. Failures are logged, never fatal.
func (t *Transport) persist(ctx context.Context, role, text string, confidence float64) {
	if t.cfg.History == nil {
		return
	}
	err := t.cfg.History.Append(ctx, history.Entry{
		SessionID:      t.cfg.SessionID,
		ConversationID: t.cfg.ConversationID,
		Role:           role,
		Text:           text,
		Confidence:     confidence,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		slog.Warn("chunked: failed to persist turn", "role", role, "error", err)
	}
}

// fail reports a stage failure. An interrupt cancels the pipeline context;
// that is not an error worth surfacing.
func (t *Transport) fail(ctx context.Context, stage string, err error) {
	if errors.Is(err, context.Canceled) {
		slog.Debug("chunked: pipeline interrupted", "stage", stage)
		t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusListening})
		return
	}
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordProviderError(ctx, stage, callerr.KindOf(err).String())
	}
	t.emit(transport.Event{Type: transport.EventError, Err: fmt.Errorf("chunked %s: %w", stage, err)})
	if !callerr.IsTerminal(err) {
		t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusListening})
	}
}

// discard counts a dropped utterance.
func (t *Transport) discard(reason string) {
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordDiscard(context.Background(), reason)
	}
}

// emit delivers an event unless the transport is closed.
func (t *Transport) emit(evt transport.Event) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	select {
	case t.events <- evt:
	default:
		slog.Warn("chunked: event dropped, consumer not keeping up")
	}
}
