package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/observe"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio"
	audiomock "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/mock"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/pcm"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog"
	dialogmock "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog/mock"
	transcriptmock "github.com/ThinhHoang1/AI-english-startup-conversation/pkg/transcript/mock"
)

type fixture struct {
	agent    *Agent
	provider *dialogmock.Provider
	input    *audiomock.InputDevice
	output   *audiomock.OutputDevice
	store    *transcriptmock.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	f := &fixture{
		provider: &dialogmock.Provider{},
		input:    &audiomock.InputDevice{},
		output:   &audiomock.OutputDevice{},
		store:    &transcriptmock.Store{},
	}
	f.agent = New(Config{
		Provider:       f.provider,
		Dialog:         dialog.Config{Model: "test-model", Voice: "test-voice"},
		Input:          f.input,
		Output:         f.output,
		Store:          f.store,
		Metrics:        metrics,
		ConversationID: "conv-test",
	})
	t.Cleanup(func() { f.agent.Stop() })
	return f
}

// audioEvent wraps samples into the wire shape a dialog service sends.
func audioEvent(samples []float32, rate int) dialog.Event {
	return dialog.Event{Type: dialog.EventAudio, Audio: pcm.Encode(samples, rate)}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestStart_TransitionsToActive(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen []Status
	f.agent.OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if got := f.agent.Status(); got != StatusIdle {
		t.Errorf("initial status = %q, want %q", got, StatusIdle)
	}
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := f.agent.Status(); got != StatusActive {
		t.Errorf("status after start = %q, want %q", got, StatusActive)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusConnecting, StatusActive}
	if len(seen) != len(want) {
		t.Fatalf("status transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}

	sess := f.provider.Last()
	if sess == nil {
		t.Fatal("no session connected")
	}
	if sess.Config.Model != "test-model" {
		t.Errorf("session model = %q, want test-model", sess.Config.Model)
	}

	// Start again is a no-op while the session is live.
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := len(f.provider.Sessions()); got != 1 {
		t.Errorf("sessions connected = %d, want 1", got)
	}
}

func TestStart_ConnectError(t *testing.T) {
	f := newFixture(t)
	f.provider.ConnectErr = errors.New("backend unreachable")

	err := f.agent.Start(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	if got := f.agent.Status(); got != StatusError {
		t.Errorf("status = %q, want %q", got, StatusError)
	}
	if got := f.agent.Err(); !errors.Is(got, f.provider.ConnectErr) {
		t.Errorf("Err() = %v, want %v", got, f.provider.ConnectErr)
	}
}

func TestSendAudio_NoSessionDrops(t *testing.T) {
	f := newFixture(t)

	if err := f.agent.SendAudio(pcm.Encode(make([]float32, 256), 16000)); err != nil {
		t.Errorf("SendAudio without session = %v, want nil", err)
	}
}

func TestSendAudio_ForwardsToSession(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	blob := pcm.Encode(make([]float32, 256), 16000)
	if err := f.agent.SendAudio(blob); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	sent := f.provider.Last().Sent()
	if len(sent) != 1 {
		t.Fatalf("session received %d payloads, want 1", len(sent))
	}
	if sent[0].Data != blob.Data {
		t.Error("session received a different payload than was sent")
	}
}

func TestEventAudio_SchedulesPlayback(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.provider.Last().Emit(audioEvent(make([]float32, 2400), 24000))
	waitFor(t, "scheduled chunk", func() bool { return len(f.output.Sources()) == 1 })

	src := f.output.Sources()[0]
	if src.Start != 0 {
		t.Errorf("first chunk start = %v, want 0", src.Start)
	}
	if got := src.Chunk.SampleRate; got != 24000 {
		t.Errorf("chunk sample rate = %d, want 24000", got)
	}
	if got := src.Chunk.Duration(); got != 100*time.Millisecond {
		t.Errorf("chunk duration = %v, want 100ms", got)
	}
}

func TestEventAudio_DecodeErrorTolerated(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess := f.provider.Last()

	sess.Emit(dialog.Event{Type: dialog.EventAudio, Audio: pcm.Blob{
		MIMEType: "audio/pcm;rate=24000",
		Data:     "not!!!base64",
	}})
	sess.Emit(audioEvent(make([]float32, 2400), 24000))

	// Only the valid chunk reaches the device, and the stream stays healthy.
	waitFor(t, "valid chunk", func() bool { return len(f.output.Sources()) == 1 })
	if got := f.agent.Status(); got != StatusActive {
		t.Errorf("status = %q, want %q", got, StatusActive)
	}
}

func TestEventInterrupted_FlushesPlayback(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess := f.provider.Last()

	sess.Emit(audioEvent(make([]float32, 2400), 24000))
	sess.Emit(audioEvent(make([]float32, 2400), 24000))
	waitFor(t, "queued chunks", func() bool { return len(f.output.Sources()) == 2 })

	sess.Emit(dialog.Event{Type: dialog.EventInterrupted})
	waitFor(t, "flush", func() bool {
		for _, src := range f.output.Sources() {
			if !src.Stopped() {
				return false
			}
		}
		return true
	})

	// Audio after the interruption starts a fresh timeline.
	sess.Emit(audioEvent(make([]float32, 2400), 24000))
	waitFor(t, "post-interrupt chunk", func() bool { return len(f.output.Sources()) == 3 })
	if start := f.output.Sources()[2].Start; start != 0 {
		t.Errorf("post-interrupt start = %v, want 0", start)
	}
}

func TestEventTranscript_Persisted(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess := f.provider.Last()

	sess.Emit(dialog.Event{Type: dialog.EventTranscript, Role: "user", Text: "hello there"})
	sess.Emit(dialog.Event{Type: dialog.EventTranscript, Role: "model", Text: "hi, how are you?"})
	waitFor(t, "persisted entries", func() bool { return len(f.store.All("conv-test")) == 2 })

	entries := f.store.All("conv-test")
	if entries[0].Role != "user" || entries[0].Text != "hello there" {
		t.Errorf("entry 0 = %+v, want user/hello there", entries[0])
	}
	if entries[1].Role != "model" || entries[1].Text != "hi, how are you?" {
		t.Errorf("entry 1 = %+v, want model/hi, how are you?", entries[1])
	}
}

func TestReset_IgnoresStaleEvents(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	old := f.provider.Last()

	if err := f.agent.Reset(context.Background(), "test"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	current := f.provider.Last()
	if current == old {
		t.Fatal("reset did not connect a new session")
	}
	waitFor(t, "stale session close", old.Closed)

	// The old session's event loop has now ended. Without the generation
	// check its exit would knock the agent back to idle under the new
	// session's feet.
	time.Sleep(20 * time.Millisecond)
	if got := f.agent.Status(); got != StatusActive {
		t.Errorf("status after stale loop exit = %q, want %q", got, StatusActive)
	}

	// Capture audio routes to the new session.
	if err := f.agent.SendAudio(pcm.Encode(make([]float32, 256), 16000)); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	if got := len(current.Sent()); got != 1 {
		t.Errorf("new session received %d payloads, want 1", got)
	}
	if got := len(old.Sent()); got != 0 {
		t.Errorf("old session received %d payloads, want 0", got)
	}
}

// gatedProvider blocks every Connect until the gate is opened, so tests can
// hold a connect in flight deterministically.
type gatedProvider struct {
	inner *dialogmock.Provider
	gate  chan struct{}
}

func (p *gatedProvider) Connect(ctx context.Context, cfg dialog.Config) (dialog.Session, error) {
	<-p.gate
	return p.inner.Connect(ctx, cfg)
}

func TestStart_ConcurrentConnectsOnce(t *testing.T) {
	f := newFixture(t)
	gated := &gatedProvider{inner: f.provider, gate: make(chan struct{})}
	f.agent.provider = gated

	done := make(chan error, 1)
	go func() { done <- f.agent.Start(context.Background()) }()

	// Let the first Start reach the provider, then race a second one in.
	time.Sleep(20 * time.Millisecond)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	close(gated.gate)
	if err := <-done; err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitFor(t, "active status", func() bool { return f.agent.Status() == StatusActive })

	if got := len(f.provider.Sessions()); got != 1 {
		t.Errorf("sessions connected = %d, want 1", got)
	}
}

func TestStop_DiscardsInFlightConnect(t *testing.T) {
	f := newFixture(t)
	gated := &gatedProvider{inner: f.provider, gate: make(chan struct{})}
	f.agent.provider = gated

	done := make(chan error, 1)
	go func() { done <- f.agent.Start(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	// Stop lands while the connect is still dialing; the late session must
	// never be published.
	if err := f.agent.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(gated.gate)
	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "late session discard", func() bool {
		sess := f.provider.Last()
		return sess != nil && sess.Closed()
	})
	if got := f.agent.Status(); got == StatusActive {
		t.Errorf("status = %q after Stop, want not active", got)
	}
	if err := f.agent.SendAudio(pcm.Encode(make([]float32, 256), 16000)); err != nil {
		t.Errorf("SendAudio after discard = %v, want nil (dropped)", err)
	}
}

func TestStreamEnd_ClosesSession(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess := f.provider.Last()

	// Clean server-side disconnect: the agent must release the session so
	// its transport goroutines and contexts are torn down.
	sess.End()

	waitFor(t, "session release", sess.Closed)
	waitFor(t, "idle status", func() bool { return f.agent.Status() == StatusIdle })

	// The agent can come back up afterwards.
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := len(f.provider.Sessions()); got != 2 {
		t.Errorf("sessions connected = %d, want 2", got)
	}
}

func TestSessionFailure_SetsError(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	streamErr := errors.New("connection reset")
	f.provider.Last().Fail(streamErr)

	waitFor(t, "error status", func() bool { return f.agent.Status() == StatusError })
	if got := f.agent.Err(); !errors.Is(got, streamErr) {
		t.Errorf("Err() = %v, want %v", got, streamErr)
	}
}

func TestSessionCleanClose_ReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.provider.Last().Close()
	waitFor(t, "idle status", func() bool { return f.agent.Status() == StatusIdle })
	if got := f.agent.Err(); got != nil {
		t.Errorf("Err() = %v, want nil", got)
	}
}

func TestStop_ClosesSession(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess := f.provider.Last()

	if err := f.agent.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !sess.Closed() {
		t.Error("session not closed after Stop")
	}
	if got := f.agent.Status(); got != StatusIdle {
		t.Errorf("status after stop = %q, want %q", got, StatusIdle)
	}
	if f.agent.IsRecording() {
		t.Error("still recording after Stop")
	}

	// Stop again is safe.
	if err := f.agent.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestRecording_Lifecycle(t *testing.T) {
	f := newFixture(t)
	if err := f.agent.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if f.agent.IsRecording() {
		t.Error("recording before StartRecording")
	}
	if err := f.agent.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if !f.agent.IsRecording() {
		t.Error("not recording after StartRecording")
	}

	// Microphone frames flow end-to-end into the session.
	f.input.Stream().Push(audio.Frame{Samples: make([]float32, 256), SampleRate: 16000})
	sess := f.provider.Last()
	waitFor(t, "captured window", func() bool { return len(sess.Sent()) == 1 })

	f.agent.StopRecording()
	if f.agent.IsRecording() {
		t.Error("still recording after StopRecording")
	}
}
