// Package app wires the capture pipeline, codec, playback scheduler, and
// dialog session into a running conversational agent.
//
// The [Agent] owns the full lifecycle: Start connects a dialog session and
// begins routing server events, StartRecording/StopRecording toggle the
// microphone, Reset tears the session down and reconnects, and Stop shuts
// everything down.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/observe"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/pcm"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/sched"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/capture"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/transcript"
)

// defaultOutputRate is assumed for inbound audio whose MIME tag carries no
// rate parameter.
const defaultOutputRate = 24000

// Status describes the agent's connection state.
type Status string

const (
	// StatusIdle means no dialog session exists.
	StatusIdle Status = "idle"

	// StatusConnecting means a session is being established.
	StatusConnecting Status = "connecting"

	// StatusActive means a session is open and events are flowing.
	StatusActive Status = "active"

	// StatusError means the session failed; see [Agent.Err].
	StatusError Status = "error"
)

// Config holds all dependencies for an [Agent].
type Config struct {
	// Provider is the dialog backend to connect to.
	Provider dialog.Provider

	// Dialog is the session configuration passed to the provider.
	Dialog dialog.Config

	// Input is the capture device.
	Input audio.InputDevice

	// Output is the playback device.
	Output audio.OutputDevice

	// Store persists transcripts. Nil disables persistence.
	Store transcript.Store

	// Metrics receives instrumentation. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ConversationID labels transcript entries.
	ConversationID string

	// CaptureOpts configure the capture pipeline.
	CaptureOpts []capture.Option
}

// Agent is the conversational agent controller. All exported methods are
// safe for concurrent use.
type Agent struct {
	provider       dialog.Provider
	dialogCfg      dialog.Config
	store          transcript.Store
	metrics        *observe.Metrics
	conversationID string

	scheduler *sched.Scheduler
	pipeline  *capture.Pipeline

	mu         sync.Mutex
	sess       dialog.Session
	gen        uint64
	connecting bool
	status     Status
	errVal     error
	onStatus   func(Status)
	sessStart  time.Time
}

// Compile-time check: the agent is the capture pipeline's sink, forwarding
// encoded windows to whichever session is current.
var _ capture.Sink = (*Agent)(nil)

// New creates an Agent from cfg. The capture pipeline and playback
// scheduler are constructed here; no device or network activity happens
// until Start.
func New(cfg Config) *Agent {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	a := &Agent{
		provider:       cfg.Provider,
		dialogCfg:      cfg.Dialog,
		store:          cfg.Store,
		metrics:        m,
		conversationID: cfg.ConversationID,
		scheduler: sched.New(cfg.Output, sched.WithActiveGauge(func(delta int64) {
			m.ActiveSources.Add(context.Background(), delta)
		})),
		status: StatusIdle,
	}
	captureOpts := append([]capture.Option{capture.WithMetrics(m)}, cfg.CaptureOpts...)
	a.pipeline = capture.New(cfg.Input, a, captureOpts...)
	return a
}

// OnStatus registers a callback invoked on every status transition. Must be
// called before Start.
func (a *Agent) OnStatus(fn func(Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStatus = fn
}

// Status returns the agent's current connection state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Err returns the error that put the agent into [StatusError], or nil.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errVal
}

// IsRecording reports whether the microphone is currently capturing.
func (a *Agent) IsRecording() bool {
	return a.pipeline.Active()
}

// Start connects a dialog session and begins routing events. Idempotent:
// calling Start while a session is active or a connect is already in
// flight is a no-op, so concurrent Starts never race into two sessions.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sess != nil || a.connecting {
		a.mu.Unlock()
		return nil
	}
	a.connecting = true
	gen := a.gen
	a.mu.Unlock()

	return a.connect(ctx, gen)
}

// StartRecording opens the microphone and begins streaming encoded capture
// windows to the current session.
func (a *Agent) StartRecording(ctx context.Context) error {
	return a.pipeline.Start(ctx)
}

// StopRecording releases the microphone.
func (a *Agent) StopRecording() {
	a.pipeline.Stop()
}

// SendAudio forwards one encoded capture window to the current session.
// Windows arriving while no session is open are dropped; live audio has no
// value once its moment has passed.
func (a *Agent) SendAudio(blob pcm.Blob) error {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()

	if sess == nil {
		return nil
	}
	return sess.SendAudio(blob)
}

// Reset discards the current session and connects a new one. The old
// session's teardown happens in the background: the new session does not
// wait for it, and any events still in flight from the old session are
// ignored by generation check.
func (a *Agent) Reset(ctx context.Context, reason string) error {
	a.mu.Lock()
	a.gen++
	gen := a.gen
	old := a.sess
	a.sess = nil
	a.connecting = true
	a.mu.Unlock()

	a.scheduler.Interrupt()
	a.metrics.RecordSessionReset(ctx, reason)

	if old != nil {
		go func() {
			if err := old.Close(); err != nil {
				slog.Warn("agent: stale session close", "err", err)
			}
		}()
	}

	slog.Info("agent: resetting session", "reason", reason)
	return a.connect(ctx, gen)
}

// Stop tears the agent down: microphone released, playback flushed, session
// closed. Safe to call at any time, including when never started.
func (a *Agent) Stop() error {
	a.pipeline.Stop()

	a.mu.Lock()
	a.gen++
	sess := a.sess
	a.sess = nil
	started := a.sessStart
	a.mu.Unlock()

	a.scheduler.Interrupt()

	var err error
	if sess != nil {
		err = sess.Close()
		a.metrics.ActiveSessions.Add(context.Background(), -1)
		a.metrics.SessionDuration.Record(context.Background(), time.Since(started).Seconds())
	}

	a.setStatus(StatusIdle)
	return err
}

// connect establishes a new session under gen and spawns its event loop.
// The caller must have set the connecting flag under the same critical
// section in which it read gen; the session is published only if gen is
// still the live generation, so a Reset or Stop that lands while the
// connect is in flight wins and the late session is discarded.
func (a *Agent) connect(ctx context.Context, gen uint64) error {
	a.setStatus(StatusConnecting)

	sess, err := a.provider.Connect(ctx, a.dialogCfg)

	a.mu.Lock()
	a.connecting = false
	if err == nil && a.gen == gen {
		a.sess = sess
		a.errVal = nil
		a.sessStart = time.Now()
		a.mu.Unlock()

		a.metrics.ActiveSessions.Add(ctx, 1)
		a.setStatus(StatusActive)

		go a.eventLoop(ctx, sess, gen)
		return nil
	}
	stale := a.gen != gen
	a.mu.Unlock()

	if err != nil {
		if !stale {
			a.setErr(err)
		}
		return err
	}

	// Connected, but the agent moved on while we were dialing.
	if err := sess.Close(); err != nil {
		slog.Warn("agent: discard late session", "err", err)
	}
	return nil
}

// eventLoop routes one session's inbound events until its stream ends.
// Events are dropped once the agent has moved to a newer generation — a
// reset must not let a dying session interrupt or play over its successor.
func (a *Agent) eventLoop(ctx context.Context, sess dialog.Session, gen uint64) {
	for ev := range sess.Events() {
		if !a.currentGen(gen) {
			continue
		}

		switch ev.Type {
		case dialog.EventAudio:
			a.handleAudio(ctx, ev.Audio)

		case dialog.EventInterrupted:
			a.scheduler.Interrupt()
			a.metrics.Interrupts.Add(ctx, 1)
			slog.Debug("agent: playback interrupted")

		case dialog.EventTranscript:
			a.handleTranscript(ctx, ev)

		case dialog.EventTurnComplete:
			slog.Debug("agent: turn complete")
		}
	}

	// The stream has ended; release the session's transport resources
	// (keepalives, contexts). Idempotent, so this is safe even when Stop or
	// Reset already closed it.
	if err := sess.Close(); err != nil {
		slog.Warn("agent: close ended session", "err", err)
	}

	if !a.currentGen(gen) {
		return
	}

	a.metrics.ActiveSessions.Add(ctx, -1)
	a.mu.Lock()
	a.metrics.SessionDuration.Record(ctx, time.Since(a.sessStart).Seconds())
	a.sess = nil
	a.mu.Unlock()

	if err := sess.Err(); err != nil {
		a.metrics.RecordProviderError(ctx, a.dialogCfg.Model)
		a.setErr(err)
		return
	}
	a.setStatus(StatusIdle)
}

// handleAudio decodes one inbound payload and enqueues it for playback.
// Decode failures are local: the chunk is dropped, playback of subsequent
// chunks continues.
func (a *Agent) handleAudio(ctx context.Context, blob pcm.Blob) {
	raw, err := pcm.Decode(blob.Data)
	if err != nil {
		a.dropChunk(ctx, err)
		return
	}

	rate := blob.Rate()
	if rate == 0 {
		rate = defaultOutputRate
	}

	chunk, err := pcm.DecodeAudioData(raw, rate, 1)
	if err != nil {
		a.dropChunk(ctx, err)
		return
	}

	start, err := a.scheduler.Enqueue(chunk)
	if err != nil {
		slog.Warn("agent: schedule chunk", "err", err)
		return
	}

	a.metrics.PlaybackChunks.Add(ctx, 1)
	if lead := start - a.scheduler.Now(); lead > 0 {
		a.metrics.ScheduleLead.Record(ctx, lead.Seconds())
	}
}

func (a *Agent) dropChunk(ctx context.Context, err error) {
	a.metrics.DecodeFailures.Add(ctx, 1)
	var decodeErr *pcm.DecodeError
	if errors.As(err, &decodeErr) {
		slog.Warn("agent: dropping malformed audio chunk", "reason", decodeErr.Reason)
		return
	}
	slog.Warn("agent: dropping audio chunk", "err", err)
}

func (a *Agent) handleTranscript(ctx context.Context, ev dialog.Event) {
	slog.Debug("agent: transcript", "role", ev.Role, "text", ev.Text)
	if a.store == nil {
		return
	}
	entry := transcript.Entry{Role: ev.Role, Text: ev.Text, Timestamp: ev.Timestamp}
	if err := a.store.Append(ctx, a.conversationID, entry); err != nil {
		slog.Warn("agent: persist transcript", "err", err)
	}
}

// currentGen reports whether gen is still the agent's live generation.
func (a *Agent) currentGen(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == gen
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	if a.status == s {
		a.mu.Unlock()
		return
	}
	a.status = s
	fn := a.onStatus
	a.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

func (a *Agent) setErr(err error) {
	a.mu.Lock()
	a.errVal = err
	a.mu.Unlock()
	a.setStatus(StatusError)
}
