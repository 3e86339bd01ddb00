// Package mock provides in-memory [audio.InputDevice] and
// [audio.OutputDevice] implementations with a manually-advanced clock,
// for use in tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice     = (*InputDevice)(nil)
	_ audio.InputStream     = (*InputStream)(nil)
	_ audio.OutputDevice    = (*OutputDevice)(nil)
	_ audio.ScheduledSource = (*Source)(nil)
)

// InputDevice is a mock capture device. Frames pushed via [InputStream.Push]
// appear on the stream returned by Open.
type InputDevice struct {
	// OpenErr, when non-nil, is returned by Open instead of a stream.
	OpenErr error

	mu     sync.Mutex
	opens  int
	stream *InputStream
}

// Open implements [audio.InputDevice]. The most recently opened stream is
// available via [InputDevice.Stream].
func (d *InputDevice) Open(_ context.Context, format audio.Format, _ int) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opens++
	d.stream = &InputStream{
		format: format,
		frames: make(chan audio.Frame, 64),
	}
	return d.stream, nil
}

// Opens returns how many times Open succeeded.
func (d *InputDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Stream returns the most recently opened stream, or nil.
func (d *InputDevice) Stream() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// InputStream is the mock capture stream handed out by [InputDevice.Open].
type InputStream struct {
	format audio.Format

	mu     sync.Mutex
	closed bool
	frames chan audio.Frame
}

// Push delivers a frame to the stream consumer. Pushing to a closed stream
// is a no-op.
func (s *InputStream) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.Frame { return s.frames }

// Close implements [audio.InputStream]. Idempotent.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// OutputDevice is a mock playback device with a virtual clock. The clock
// only moves when the test calls [OutputDevice.Advance] or
// [OutputDevice.SetNow], making scheduling decisions fully deterministic.
type OutputDevice struct {
	// PlayErr, when non-nil, is returned by PlayAt instead of a source.
	PlayErr error

	mu      sync.Mutex
	now     time.Duration
	sources []*Source
}

// Now implements [audio.OutputDevice].
func (d *OutputDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// SetNow moves the virtual clock to t.
func (d *OutputDevice) SetNow(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = t
}

// Advance moves the virtual clock forward by delta and completes every
// source whose scheduled end time has been reached.
func (d *OutputDevice) Advance(delta time.Duration) {
	d.mu.Lock()
	d.now += delta
	now := d.now
	var finished []*Source
	for _, src := range d.sources {
		if !src.ended() && src.Start+src.Chunk.Duration() <= now {
			finished = append(finished, src)
		}
	}
	d.mu.Unlock()

	for _, src := range finished {
		src.finish()
	}
}

// PlayAt implements [audio.OutputDevice]. Every scheduled source is
// recorded and can be inspected via [OutputDevice.Sources].
func (d *OutputDevice) PlayAt(chunk audio.Chunk, start time.Duration) (audio.ScheduledSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.PlayErr != nil {
		return nil, d.PlayErr
	}
	src := &Source{
		Chunk: chunk,
		Start: start,
		done:  make(chan struct{}),
	}
	d.sources = append(d.sources, src)
	return src, nil
}

// Sources returns all sources ever scheduled, in PlayAt order.
func (d *OutputDevice) Sources() []*Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Source, len(d.sources))
	copy(out, d.sources)
	return out
}

// Source is a mock [audio.ScheduledSource].
type Source struct {
	Chunk audio.Chunk
	Start time.Duration

	mu      sync.Mutex
	stopped bool
	closed  bool
	done    chan struct{}
}

// Done implements [audio.ScheduledSource].
func (s *Source) Done() <-chan struct{} { return s.done }

// Stop implements [audio.ScheduledSource]. Idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.finish()
}

// Stopped reports whether the source was force-stopped.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Source) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Source) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
