package chunked

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nova-voice/callengine/internal/transport"
	"github.com/nova-voice/callengine/pkg/audio"
	"github.com/nova-voice/callengine/pkg/callerr"
	"github.com/nova-voice/callengine/pkg/history"
	historymock "github.com/nova-voice/callengine/pkg/history/mock"
	llmmock "github.com/nova-voice/callengine/pkg/provider/llm/mock"
	"github.com/nova-voice/callengine/pkg/provider/stt"
	sttmock "github.com/nova-voice/callengine/pkg/provider/stt/mock"
	ttsmock "github.com/nova-voice/callengine/pkg/provider/tts/mock"
)

// frame builds a capture frame of n bytes.
func frame(n int) audio.Frame {
	return audio.Frame{Data: make([]byte, n), SampleRate: 16000, Channels: 1}
}

// waitEvent pulls the next event or fails the test.
func waitEvent(t *testing.T, ch <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return transport.Event{}
}

// waitStatus pulls events until the given status arrives, failing the test on
// anything unexpected in between except transcripts and audio.
func waitStatus(t *testing.T, ch <-chan transport.Event, want transport.Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed")
			}
			if evt.Type == transport.EventError {
				t.Fatalf("unexpected error event: %v", evt.Err)
			}
			if evt.Type == transport.EventStatus && evt.Status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

// blockingSTT blocks Transcribe until released or the context ends.
type blockingSTT struct {
	release chan struct{}
	started chan struct{}
}

func newBlockingSTT() *blockingSTT {
	return &blockingSTT{release: make(chan struct{}), started: make(chan struct{}, 8)}
}

func (b *blockingSTT) Transcribe(ctx context.Context, _ []byte, _ stt.Config) (stt.Result, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return stt.Result{Text: "released"}, nil
	case <-ctx.Done():
		return stt.Result{}, ctx.Err()
	}
}

// flakySTT fails with a transient error a fixed number of times, then
// succeeds.
type flakySTT struct {
	failures int
	result   stt.Result
	calls    atomic.Int32
}

func (f *flakySTT) Transcribe(_ context.Context, _ []byte, _ stt.Config) (stt.Result, error) {
	n := f.calls.Add(1)
	if int(n) <= f.failures {
		return stt.Result{}, callerr.New(callerr.KindTransientNetwork, errors.New("connection reset"))
	}
	return f.result, nil
}

func newPipeline() (*sttmock.Provider, *llmmock.Provider, *ttsmock.Provider) {
	return &sttmock.Provider{Result: stt.Result{Text: "hello there", Confidence: 0.92}},
		&llmmock.Provider{Response: "hi, how are you feeling today?"},
		&ttsmock.Provider{Audio: []byte("synth-audio")}
}

func TestTransport_FullTurn(t *testing.T) {
	sttp, llmp, ttsp := newPipeline()
	store := &historymock.Store{}
	tr := New(Config{
		STT: sttp, LLM: llmp, TTS: ttsp,
		History:        store,
		SystemPrompt:   "be kind",
		SessionID:      "sess-1",
		ConversationID: "conv-1",
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()

	evt := waitEvent(t, tr.Events())
	if evt.Status != transport.StatusListening {
		t.Fatalf("first status = %q, want listening", evt.Status)
	}

	for i := 0; i < 10; i++ {
		if err := tr.SendAudio(frame(3200)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if err := tr.FinalizeUtterance(); err != nil {
		t.Fatalf("FinalizeUtterance: %v", err)
	}

	var statuses []transport.Status
	var transcripts []transport.Transcript
	var chunks []transport.Audio
	deadline := time.After(2 * time.Second)
	for len(statuses) == 0 || statuses[len(statuses)-1] != transport.StatusListening {
		select {
		case evt := <-tr.Events():
			switch evt.Type {
			case transport.EventStatus:
				statuses = append(statuses, evt.Status)
			case transport.EventTranscript:
				transcripts = append(transcripts, evt.Transcript)
			case transport.EventAudio:
				chunks = append(chunks, evt.Audio)
			case transport.EventError:
				t.Fatalf("unexpected error event: %v", evt.Err)
			}
		case <-deadline:
			t.Fatalf("turn did not complete, statuses so far: %v", statuses)
		}
	}

	wantStatuses := []transport.Status{
		transport.StatusTranscribing,
		transport.StatusThinking,
		transport.StatusSpeaking,
		transport.StatusListening,
	}
	if len(statuses) != len(wantStatuses) {
		t.Fatalf("statuses = %v, want %v", statuses, wantStatuses)
	}
	for i := range wantStatuses {
		if statuses[i] != wantStatuses[i] {
			t.Errorf("status[%d] = %q, want %q", i, statuses[i], wantStatuses[i])
		}
	}

	if len(transcripts) != 2 {
		t.Fatalf("got %d transcripts, want 2", len(transcripts))
	}
	if transcripts[0].Role != "user" || transcripts[0].Text != "hello there" || !transcripts[0].Final {
		t.Errorf("user transcript = %+v", transcripts[0])
	}
	if transcripts[1].Role != "assistant" || transcripts[1].Text != "hi, how are you feeling today?" {
		t.Errorf("assistant transcript = %+v", transcripts[1])
	}

	if len(chunks) != 1 {
		t.Fatalf("got %d audio chunks, want 1", len(chunks))
	}
	if chunks[0].Seq != 0 {
		t.Errorf("chunk seq = %d, want 0", chunks[0].Seq)
	}
	if string(chunks[0].Payload) != "synth-audio" {
		t.Errorf("chunk payload = %q", chunks[0].Payload)
	}

	sttCalls := sttp.Calls()
	if len(sttCalls) != 1 {
		t.Fatalf("stt calls = %d, want 1", len(sttCalls))
	}
	if got := len(sttCalls[0].PCM); got != 32000 {
		t.Errorf("stt payload = %d bytes, want 32000", got)
	}

	llmCalls := llmp.Calls()
	if len(llmCalls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(llmCalls))
	}
	req := llmCalls[0].Req
	if req.SystemPrompt != "be kind" || req.ConversationID != "conv-1" {
		t.Errorf("llm request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hello there" {
		t.Errorf("llm messages = %+v", req.Messages)
	}

	entries := store.All()
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(entries))
	}
	if entries[0].Role != "user" || entries[1].Role != "assistant" {
		t.Errorf("history roles = %q, %q", entries[0].Role, entries[1].Role)
	}
	if entries[0].SessionID != "sess-1" || entries[0].ConversationID != "conv-1" {
		t.Errorf("history labels = %+v", entries[0])
	}
}

func TestTransport_DiscardsShortUtterance(t *testing.T) {
	sttp, llmp, ttsp := newPipeline()
	tr := New(Config{STT: sttp, LLM: llmp, TTS: ttsp})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()
	waitStatus(t, tr.Events(), transport.StatusListening)

	tr.SendAudio(frame(MinUtteranceBytes - 1))
	if err := tr.FinalizeUtterance(); err != nil {
		t.Fatalf("FinalizeUtterance: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if got := len(sttp.Calls()); got != 0 {
		t.Errorf("stt calls = %d, want 0 for a too-short utterance", got)
	}
}

func TestTransport_DiscardsUtteranceWhileBusy(t *testing.T) {
	blocking := newBlockingSTT()
	_, llmp, ttsp := newPipeline()
	tr := New(Config{STT: blocking, LLM: llmp, TTS: ttsp})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()

	tr.SendAudio(frame(MinUtteranceBytes))
	tr.FinalizeUtterance()
	<-blocking.started // pipeline is in flight

	// Second utterance must be discarded, not queued.
	tr.SendAudio(frame(MinUtteranceBytes))
	tr.FinalizeUtterance()

	close(blocking.release)
	time.Sleep(50 * time.Millisecond)

	select {
	case <-blocking.started:
		t.Error("second utterance was transcribed, want discard while busy")
	default:
	}
}

func TestTransport_InterruptCancelsPipeline(t *testing.T) {
	blocking := newBlockingSTT()
	_, llmp, ttsp := newPipeline()
	tr := New(Config{STT: blocking, LLM: llmp, TTS: ttsp})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()
	waitStatus(t, tr.Events(), transport.StatusListening)

	tr.SendAudio(frame(MinUtteranceBytes))
	tr.FinalizeUtterance()
	<-blocking.started

	if err := tr.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	// The abandoned pipeline returns to listening without an error event.
	waitStatus(t, tr.Events(), transport.StatusTranscribing)
	waitStatus(t, tr.Events(), transport.StatusListening)

	if got := len(llmp.Calls()); got != 0 {
		t.Errorf("llm calls = %d, want 0 after interrupt during transcription", got)
	}
}

func TestTransport_StageFailureEmitsError(t *testing.T) {
	sttp, llmp, ttsp := newPipeline()
	llmp.Err = callerr.New(callerr.KindInternal, errors.New("model exploded"))
	tr := New(Config{STT: sttp, LLM: llmp, TTS: ttsp})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()

	tr.SendAudio(frame(MinUtteranceBytes))
	tr.FinalizeUtterance()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-tr.Events():
			if evt.Type == transport.EventError {
				if callerr.KindOf(evt.Err) != callerr.KindInternal {
					t.Errorf("error kind = %v, want internal", callerr.KindOf(evt.Err))
				}
				if got := len(ttsp.Calls()); got != 0 {
					t.Errorf("tts calls = %d, want 0 after llm failure", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("no error event after llm failure")
		}
	}
}

func TestTransport_RetriesTransientFailures(t *testing.T) {
	flaky := &flakySTT{failures: 2, result: stt.Result{Text: "eventually"}}
	_, llmp, ttsp := newPipeline()
	tr := New(Config{
		STT: flaky, LLM: llmp, TTS: ttsp,
		RetryDelays: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()
	waitStatus(t, tr.Events(), transport.StatusListening)

	tr.SendAudio(frame(MinUtteranceBytes))
	tr.FinalizeUtterance()

	waitStatus(t, tr.Events(), transport.StatusListening)
	if got := flaky.calls.Load(); got != 3 {
		t.Errorf("stt attempts = %d, want 3", got)
	}
	if got := len(llmp.Calls()); got != 1 {
		t.Errorf("llm calls = %d, want 1 after retries succeed", got)
	}
}

func TestTransport_HistoryContextFlowsIntoRequest(t *testing.T) {
	sttp, llmp, ttsp := newPipeline()
	store := &historymock.Store{}
	store.Append(context.Background(), history.Entry{ConversationID: "conv-9", Role: "user", Text: "earlier question"})
	store.Append(context.Background(), history.Entry{ConversationID: "conv-9", Role: "assistant", Text: "earlier answer"})
	store.Append(context.Background(), history.Entry{ConversationID: "other", Role: "user", Text: "unrelated"})

	tr := New(Config{STT: sttp, LLM: llmp, TTS: ttsp, History: store, ConversationID: "conv-9"})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()
	waitStatus(t, tr.Events(), transport.StatusListening)

	tr.SendAudio(frame(MinUtteranceBytes))
	tr.FinalizeUtterance()
	waitStatus(t, tr.Events(), transport.StatusListening)

	calls := llmp.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(calls))
	}
	msgs := calls[0].Req.Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v, want history pair plus current turn", msgs)
	}
	if msgs[0].Content != "earlier question" || msgs[1].Content != "earlier answer" {
		t.Errorf("history context = %+v", msgs[:2])
	}
	if msgs[2].Role != "user" || msgs[2].Content != "hello there" {
		t.Errorf("current turn = %+v", msgs[2])
	}
}

func TestTransport_HistoryFailureIsNonFatal(t *testing.T) {
	sttp, llmp, ttsp := newPipeline()
	store := &historymock.Store{
		AppendErr: errors.New("db down"),
		RecentErr: errors.New("db down"),
	}
	tr := New(Config{STT: sttp, LLM: llmp, TTS: ttsp, History: store})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Close()
	waitStatus(t, tr.Events(), transport.StatusListening)

	tr.SendAudio(frame(MinUtteranceBytes))
	tr.FinalizeUtterance()

	// Turn still completes.
	waitStatus(t, tr.Events(), transport.StatusListening)
	if got := len(ttsp.Calls()); got != 1 {
		t.Errorf("tts calls = %d, want 1 despite history failures", got)
	}
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	sttp, llmp, ttsp := newPipeline()
	tr := New(Config{STT: sttp, LLM: llmp, TTS: ttsp})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// The events channel drains and closes.
	for range tr.Events() {
	}
}

func TestTransport_StartRequiresProviders(t *testing.T) {
	tr := New(Config{})
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without providers")
	}
}
