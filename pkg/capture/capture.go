// Package capture turns live microphone input into a continuous sequence
// of encoded wire payloads delivered to a dialog session.
//
// A [Pipeline] opens an input device, encodes each fixed-size sample
// window with the pcm codec, and forwards it through a bounded outbound
// queue. Sends are fire-and-forget: when the queue is full because the
// sink is saturated, windows are dropped and counted rather than queued
// without bound. Dropping under load is the accepted policy for live
// speech — a stale window is worthless by the time the backlog clears.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ThinhHoang1/AI-english-startup-conversation/internal/observe"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/pcm"
)

const (
	// DefaultWindow is the capture window size in samples. Small, to
	// minimise latency at the cost of per-chunk overhead.
	DefaultWindow = 256

	// DefaultSampleRate is the capture rate expected by the dialog models.
	DefaultSampleRate = 16000

	// defaultQueueDepth bounds the outbound queue between the encoder and
	// the sink.
	defaultQueueDepth = 32
)

// Sink receives encoded capture windows. [dialog.Session] implementations
// satisfy this interface.
type Sink interface {
	SendAudio(blob pcm.Blob) error
}

// Option configures a [Pipeline] during construction.
type Option func(*Pipeline)

// WithWindow sets the capture window size in samples.
func WithWindow(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.window = n
		}
	}
}

// WithSampleRate sets the capture sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// WithQueueDepth sets the outbound queue depth. Windows encoded while the
// queue is full are dropped.
func WithQueueDepth(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueDepth = n
		}
	}
}

// WithMetrics makes the pipeline record each window's outcome ("sent" or
// "dropped") on m. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline captures audio windows from an input device and streams them,
// encoded, to a [Sink].
//
// All exported methods are safe for concurrent use.
type Pipeline struct {
	device     audio.InputDevice
	sink       Sink
	window     int
	rate       int
	queueDepth int
	metrics    *observe.Metrics

	// capturing gates frame emission. It flips to false at the start of
	// Stop, before the device handle is released, so no window is encoded
	// or sent after Stop begins.
	capturing atomic.Bool

	dropped atomic.Int64
	sent    atomic.Int64

	mu           sync.Mutex
	stream       audio.InputStream
	wg           sync.WaitGroup
	warnDropOnce sync.Once
}

// New creates a Pipeline reading from device and sending to sink.
func New(device audio.InputDevice, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		device:     device,
		sink:       sink,
		window:     DefaultWindow,
		rate:       DefaultSampleRate,
		queueDepth: defaultQueueDepth,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start requests exclusive access to the input device and begins streaming
// encoded windows to the sink. Idempotent: calling Start while already
// started is a no-op.
//
// Returns [audio.ErrPermissionDenied] or [audio.ErrNoDevice] (wrapped by
// the device adapter) when the device cannot be opened.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return nil
	}

	stream, err := p.device.Open(ctx, audio.Format{SampleRate: p.rate, Channels: 1}, p.window)
	if err != nil {
		return err
	}

	p.stream = stream
	p.capturing.Store(true)

	queue := make(chan pcm.Blob, p.queueDepth)

	p.wg.Add(2)
	go p.encodeLoop(stream.Frames(), queue)
	go p.sendLoop(queue)

	slog.Info("capture started", "sample_rate", p.rate, "window", p.window)
	return nil
}

// Stop releases the device and stops delivering windows. The recording
// flag flips before the stream is closed, so no window is emitted after
// Stop begins. Always safe to call, including when not started.
func (p *Pipeline) Stop() {
	p.capturing.Store(false)

	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	if stream == nil {
		return
	}

	if err := stream.Close(); err != nil {
		slog.Warn("capture: stream close", "err", err)
	}
	p.wg.Wait()

	slog.Info("capture stopped", "sent", p.sent.Load(), "dropped", p.dropped.Load())
}

// Active reports whether the pipeline is currently capturing.
func (p *Pipeline) Active() bool {
	return p.capturing.Load()
}

// Dropped returns the number of windows dropped because the outbound
// queue was full.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// Sent returns the number of windows handed to the sink.
func (p *Pipeline) Sent() int64 { return p.sent.Load() }

// encodeLoop encodes capture windows and pushes them onto the outbound
// queue, dropping when the queue is full. It closes the queue when the
// stream ends.
func (p *Pipeline) encodeLoop(frames <-chan audio.Frame, queue chan<- pcm.Blob) {
	defer p.wg.Done()
	defer close(queue)

	for frame := range frames {
		if !p.capturing.Load() {
			continue
		}
		blob := pcm.Encode(frame.Samples, frame.SampleRate)
		select {
		case queue <- blob:
		default:
			p.dropped.Add(1)
			if p.metrics != nil {
				p.metrics.RecordCaptureWindow(context.Background(), "dropped")
			}
			p.warnDropOnce.Do(func() {
				slog.Warn("capture: outbound queue full, dropping windows",
					"queue_depth", p.queueDepth)
			})
		}
	}
}

// sendLoop drains the outbound queue into the sink. Send errors are logged
// and the window discarded; the transport owns retry semantics, not the
// capture pipeline.
func (p *Pipeline) sendLoop(queue <-chan pcm.Blob) {
	defer p.wg.Done()

	for blob := range queue {
		if err := p.sink.SendAudio(blob); err != nil {
			slog.Warn("capture: send audio", "err", err)
			continue
		}
		p.sent.Add(1)
		if p.metrics != nil {
			p.metrics.RecordCaptureWindow(context.Background(), "sent")
		}
	}
}
