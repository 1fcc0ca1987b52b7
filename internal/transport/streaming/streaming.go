// Package streaming implements the continuous transport: a WebSocket to the
// speech gateway carries raw binary capture frames outbound and JSON control
// envelopes in both directions. Utterance boundaries are detected
// server-side; transcripts, response audio chunks, and status changes stream
// back as they are produced.
//
// The connection is supervised: an application-level ping/pong heartbeat
// detects dead links, and a lost connection is re-dialed with doubling
// backoff. At most one reconnection attempt is outstanding at any time.
package streaming

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/nova-voice/callengine/internal/observe"
	"github.com/nova-voice/callengine/internal/transport"
	"github.com/nova-voice/callengine/pkg/audio"
	"github.com/nova-voice/callengine/pkg/callerr"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Transport)(nil)

// Defaults for the connection supervisor.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultPongGrace         = 10 * time.Second
	DefaultReconnectBase     = time.Second
	DefaultReconnectMax      = 30 * time.Second
	DefaultReconnectAttempts = 10
)

// Config wires a streaming Transport.
type Config struct {
	// URL is the gateway WebSocket endpoint.
	URL string

	// APIKey is sent as a bearer token on every dial. Optional.
	APIKey string

	// SessionID identifies the call in session_start envelopes.
	SessionID string

	// UserID and ConversationID scope the session server-side; the gateway
	// keys auth checks and history on them. Sent in every session_start,
	// including after a reconnect. Either may be empty.
	UserID         string
	ConversationID string

	// Capture format advertised in session_start.
	SampleRate   int
	Channels     int
	FrameSamples int

	// StrictProtocol validates every inbound envelope against the protocol
	// schema; violations are logged and dropped.
	StrictProtocol bool

	// HeartbeatInterval is the ping cadence; PongGrace is the extra wait
	// beyond one interval before the connection is declared dead.
	HeartbeatInterval time.Duration
	PongGrace         time.Duration

	// ReconnectBase doubles per failed attempt up to ReconnectMax, for at
	// most ReconnectAttempts attempts.
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	// Metrics counts reconnect outcomes. Optional.
	Metrics *observe.Metrics
}

// Transport is the streaming transport implementation.
type Transport struct {
	cfg    Config
	events chan transport.Event

	// writeMu serializes websocket writes; conn is nil mid-reconnect.
	writeMu sync.Mutex
	conn    *websocket.Conn

	lastPong atomic.Int64 // unix nanos of the last pong received

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a streaming Transport. Call Start to dial.
func New(cfg Config) *Transport {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PongGrace <= 0 {
		cfg.PongGrace = DefaultPongGrace
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Transport{
		cfg:    cfg,
		events: make(chan transport.Event, 32),
	}
}

// Start dials the gateway and begins the session. A dial failure is returned
// directly so the caller can fall back to another transport.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.URL == "" {
		return errors.New("streaming: gateway url is required")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	conn, err := t.dial(t.ctx)
	if err != nil {
		t.cancel()
		return err
	}
	t.setConn(conn)
	if err := t.sendSessionStart(); err != nil {
		conn.Close(websocket.StatusInternalError, "session_start failed")
		t.cancel()
		return fmt.Errorf("streaming: session_start: %w", err)
	}

	t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusListening})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(conn)
	}()
	return nil
}

// SendAudio forwards one capture frame as a binary websocket frame. Frames
// arriving mid-reconnect are dropped.
func (t *Transport) SendAudio(frame audio.Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Write(t.ctx, websocket.MessageBinary, frame.Data); err != nil {
		return fmt.Errorf("streaming: send frame: %w", err)
	}
	return nil
}

// FinalizeUtterance is a no-op: the gateway detects utterance boundaries.
func (t *Transport) FinalizeUtterance() error { return nil }

// Interrupt tells the gateway to abandon the response in flight.
func (t *Transport) Interrupt() error {
	return t.sendControl(clientMessage{Type: "interrupt"})
}

// SetMuted tells the gateway to start or stop ignoring inbound frames. The
// capture side also stops sending; this keeps server-side VAD state clean.
func (t *Transport) SetMuted(muted bool) error {
	typ := "mute"
	if !muted {
		typ = "unmute"
	}
	return t.sendControl(clientMessage{Type: typ})
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event { return t.events }

// Close implements transport.Transport. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.cancel != nil {
			t.cancel()
		}
		t.writeMu.Lock()
		conn := t.conn
		t.conn = nil
		t.writeMu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "session ended")
		}
		t.wg.Wait()
		close(t.events)
	})
	return nil
}

// run supervises the connection: serve until it dies, reconnect, repeat.
func (t *Transport) run(conn *websocket.Conn) {
	for {
		err := t.serve(conn)
		if t.ctx.Err() != nil {
			return
		}
		if callerr.IsTerminal(err) {
			t.emit(transport.Event{Type: transport.EventError, Err: err})
			return
		}
		slog.Warn("streaming: connection lost, reconnecting", "error", err)

		next, rerr := t.reconnect()
		if rerr != nil {
			if t.ctx.Err() == nil {
				t.emit(transport.Event{Type: transport.EventError, Err: rerr})
			}
			return
		}
		conn = next
	}
}

// serve runs one connection's reader and heartbeat until either fails.
func (t *Transport) serve(conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()

	t.lastPong.Store(time.Now().UnixNano())

	// The reader emits events, so Close must wait for it before closing the
	// events channel.
	readErr := make(chan error, 1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		readErr <- t.readLoop(ctx, conn)
	}()

	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			deadline := t.cfg.HeartbeatInterval + t.cfg.PongGrace
			if since := time.Since(time.Unix(0, t.lastPong.Load())); since > deadline {
				conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
				return callerr.Newf(callerr.KindTransientNetwork,
					"streaming: no pong for %s", since.Round(time.Millisecond))
			}
			if err := t.sendControl(clientMessage{Type: "ping"}); err != nil {
				slog.Debug("streaming: ping failed", "error", err)
			}
		}
	}
}

// readLoop reads envelopes until the connection dies or a terminal error
// arrives from the server.
func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(8 << 20) // response audio chunks are large
	for {
		typ, raw, err := conn.Read(ctx)
		if err != nil {
			return callerr.New(callerr.KindTransientNetwork, err)
		}
		if typ != websocket.MessageText {
			slog.Debug("streaming: ignoring non-text frame from server")
			continue
		}
		msg, err := parseServerMessage(raw, t.cfg.StrictProtocol)
		if err != nil {
			slog.Warn("streaming: dropping invalid envelope", "error", err)
			continue
		}
		if err := t.handle(msg); err != nil {
			return err
		}
	}
}

// handle dispatches one inbound envelope. A returned error ends the
// connection; terminal errors end the session.
func (t *Transport) handle(msg serverMessage) error {
	switch msg.Type {
	case "connected", "session_started", "audio_received":
		slog.Debug("streaming: gateway ack", "type", msg.Type)

	case "pong":
		t.lastPong.Store(time.Now().UnixNano())

	case "partial_transcript":
		t.emit(transport.Event{Type: transport.EventTranscript, Transcript: transport.Transcript{
			Text: msg.Text, Final: false, Role: "user",
		}})

	case "final_transcript":
		t.emit(transport.Event{Type: transport.EventTranscript, Transcript: transport.Transcript{
			Text: msg.Text, Final: true, Confidence: msg.Confidence, Role: "user",
		}})

	case "audio_chunk":
		payload, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			slog.Warn("streaming: undecodable audio chunk, dropping", "seq", msg.Seq, "error", err)
			return nil
		}
		t.emit(transport.Event{Type: transport.EventAudio, Audio: transport.Audio{
			Seq: msg.Seq, Payload: payload,
		}})

	case "status":
		s := transport.Status(msg.Status)
		switch s {
		case transport.StatusListening, transport.StatusTranscribing,
			transport.StatusThinking, transport.StatusSpeaking:
			t.emit(transport.Event{Type: transport.EventStatus, Status: s})
		default:
			slog.Debug("streaming: unknown status from gateway", "status", msg.Status)
		}

	case "error":
		err := callerr.New(classifyServerCode(msg.Code),
			fmt.Errorf("streaming: gateway error %s: %s", msg.Code, msg.Message))
		if callerr.IsTerminal(err) {
			return err
		}
		t.emit(transport.Event{Type: transport.EventError, Err: err})

	default:
		slog.Debug("streaming: unknown envelope type", "type", msg.Type)
	}
	return nil
}

// reconnect re-dials with doubling backoff. Only this method schedules
// reconnect timers, so at most one is ever pending.
func (t *Transport) reconnect() (*websocket.Conn, error) {
	t.setConn(nil)
	delay := t.cfg.ReconnectBase

	for attempt := 1; attempt <= t.cfg.ReconnectAttempts; attempt++ {
		t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusReconnecting})
		slog.Info("streaming: reconnect scheduled",
			"attempt", attempt, "of", t.cfg.ReconnectAttempts, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return nil, t.ctx.Err()
		case <-timer.C:
		}

		conn, err := t.dial(t.ctx)
		if err != nil {
			t.recordReconnect("failed")
			if callerr.IsTerminal(err) {
				return nil, err
			}
			slog.Warn("streaming: reconnect failed", "attempt", attempt, "error", err)
			delay = min(delay*2, t.cfg.ReconnectMax)
			continue
		}

		t.setConn(conn)
		if err := t.sendSessionStart(); err != nil {
			slog.Warn("streaming: session_start after reconnect failed", "error", err)
			conn.Close(websocket.StatusInternalError, "session_start failed")
			t.setConn(nil)
			t.recordReconnect("failed")
			delay = min(delay*2, t.cfg.ReconnectMax)
			continue
		}

		t.recordReconnect("ok")
		slog.Info("streaming: reconnected", "attempt", attempt)
		t.emit(transport.Event{Type: transport.EventStatus, Status: transport.StatusListening})
		return conn, nil
	}

	return nil, callerr.New(callerr.KindTransientNetwork,
		fmt.Errorf("streaming: gave up after %d reconnect attempts", t.cfg.ReconnectAttempts)).NonRetryable()
}

// dial opens the websocket with bearer auth. HTTP 401/403 during the
// handshake is an authentication failure, which is terminal.
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if t.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + t.cfg.APIKey}}
	}
	conn, resp, err := websocket.Dial(ctx, t.cfg.URL, opts)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, callerr.New(callerr.KindAuthentication,
				fmt.Errorf("streaming: gateway rejected credentials (HTTP %d)", resp.StatusCode))
		}
		return nil, callerr.New(callerr.KindTransientNetwork, fmt.Errorf("streaming: dial %s: %w", t.cfg.URL, err))
	}
	return conn, nil
}

func (t *Transport) sendSessionStart() error {
	return t.sendControl(clientMessage{
		Type:           "session_start",
		SessionID:      t.cfg.SessionID,
		UserID:         t.cfg.UserID,
		ConversationID: t.cfg.ConversationID,
		SampleRate:     t.cfg.SampleRate,
		Channels:       t.cfg.Channels,
		FrameSamples:   t.cfg.FrameSamples,
	})
}

// sendControl writes one JSON control envelope. Silently dropped while no
// connection is up.
func (t *Transport) sendControl(msg clientMessage) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("streaming: marshal %s: %w", msg.Type, err)
	}
	if err := t.conn.Write(t.ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("streaming: send %s: %w", msg.Type, err)
	}
	return nil
}

func (t *Transport) setConn(conn *websocket.Conn) {
	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()
}

func (t *Transport) recordReconnect(result string) {
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.RecordReconnect(context.Background(), result)
	}
}

// classifyServerCode maps a gateway error code to the error taxonomy.
func classifyServerCode(code string) callerr.Kind {
	switch code {
	case "unauthorized", "auth_failed", "invalid_token", "forbidden":
		return callerr.KindAuthentication
	case "overloaded", "timeout", "unavailable":
		return callerr.KindTransientNetwork
	default:
		return callerr.KindInternal
	}
}

// emit delivers an event unless the transport is closed.
func (t *Transport) emit(evt transport.Event) {
	if t.closed.Load() {
		return
	}
	select {
	case t.events <- evt:
	default:
		slog.Warn("streaming: event dropped, consumer not keeping up")
	}
}
