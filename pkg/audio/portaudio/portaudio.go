// Package portaudio adapts PortAudio devices to the [audio.InputDevice]
// and [audio.OutputDevice] interfaces.
//
// Call [Initialize] once before opening any device and [Terminate] on
// shutdown. The output device runs a single PortAudio stream and mixes all
// scheduled sources in its render callback; its clock is derived from the
// number of samples rendered, so scheduled start times are sample-accurate
// regardless of wall-clock jitter.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio"
)

var (
	_ audio.InputDevice     = (*InputDevice)(nil)
	_ audio.InputStream     = (*inputStream)(nil)
	_ audio.OutputDevice    = (*OutputDevice)(nil)
	_ audio.ScheduledSource = (*source)(nil)
)

// Initialize initialises the PortAudio library. Must be called once before
// any device is opened.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library. Call on shutdown, after all
// streams are closed.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// InputDevice captures from the system default input device.
type InputDevice struct{}

// Open implements [audio.InputDevice]. The stream delivers frames of
// exactly window samples until Close is called.
func (d *InputDevice) Open(_ context.Context, format audio.Format, window int) (audio.InputStream, error) {
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("portaudio: default input device: %w", errors.Join(audio.ErrNoDevice, err))
	}

	s := &inputStream{
		frames: make(chan audio.Frame, 64),
		rate:   format.SampleRate,
	}

	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), window, s.callback)
	if err != nil {
		if errors.Is(err, portaudio.DeviceUnavailable) {
			return nil, fmt.Errorf("portaudio: open input: %w", errors.Join(audio.ErrPermissionDenied, err))
		}
		return nil, fmt.Errorf("portaudio: open input: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w", err)
	}

	s.stream = stream
	return s, nil
}

type inputStream struct {
	stream *portaudio.Stream
	rate   int

	mu     sync.Mutex
	closed bool
	frames chan audio.Frame
}

// callback runs on the PortAudio capture thread. The input buffer is reused
// between invocations, so samples are copied out before handoff. Frames are
// dropped rather than queued when the consumer falls behind.
func (s *inputStream) callback(in []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	samples := make([]float32, len(in))
	copy(samples, in)

	select {
	case s.frames <- audio.Frame{Samples: samples, SampleRate: s.rate}:
	default:
	}
}

// Frames implements [audio.InputStream].
func (s *inputStream) Frames() <-chan audio.Frame { return s.frames }

// Close implements [audio.InputStream]. Idempotent.
func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return fmt.Errorf("portaudio: stop input: %w", err)
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close input: %w", err)
	}
	return nil
}

// OutputDevice plays scheduled chunks on the system default output device.
type OutputDevice struct {
	rate   int
	stream *portaudio.Stream

	mu        sync.Mutex
	samplePos int64 // samples rendered since Open
	sources   []*source
}

// OpenOutput opens the default output device at the given sample rate and
// starts its render stream. The returned device is ready for PlayAt calls.
func OpenOutput(sampleRate int) (*OutputDevice, error) {
	if _, err := portaudio.DefaultOutputDevice(); err != nil {
		return nil, fmt.Errorf("portaudio: default output device: %w", errors.Join(audio.ErrNoDevice, err))
	}

	d := &OutputDevice{rate: sampleRate}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), 0, d.render)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}

	d.stream = stream
	return d, nil
}

// Close stops the render stream. All pending sources are stopped.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	sources := d.sources
	d.sources = nil
	d.mu.Unlock()

	for _, src := range sources {
		src.finish()
	}

	if err := d.stream.Stop(); err != nil {
		d.stream.Close()
		return fmt.Errorf("portaudio: stop output: %w", err)
	}
	if err := d.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close output: %w", err)
	}
	return nil
}

// Now implements [audio.OutputDevice]. The clock counts rendered samples.
func (d *OutputDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samplesToDuration(d.samplePos)
}

// PlayAt implements [audio.OutputDevice]. Multi-channel chunks are mixed
// down to mono for rendering.
func (d *OutputDevice) PlayAt(chunk audio.Chunk, start time.Duration) (audio.ScheduledSource, error) {
	if chunk.Channels() == 0 || chunk.SampleRate <= 0 {
		return nil, fmt.Errorf("portaudio: empty chunk")
	}
	if chunk.SampleRate != d.rate {
		return nil, fmt.Errorf("portaudio: chunk rate %d does not match device rate %d", chunk.SampleRate, d.rate)
	}

	src := &source{
		samples:     mixdown(chunk),
		startSample: int64(start) * int64(d.rate) / int64(time.Second),
		done:        make(chan struct{}),
	}

	d.mu.Lock()
	d.sources = append(d.sources, src)
	d.mu.Unlock()

	return src, nil
}

// render runs on the PortAudio output thread. It mixes every live source's
// overlap with the current buffer window and retires exhausted sources.
func (d *OutputDevice) render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	d.mu.Lock()
	windowStart := d.samplePos
	windowEnd := windowStart + int64(len(out))

	live := d.sources[:0]
	var finished []*source
	for _, src := range d.sources {
		if src.ended() {
			continue
		}
		if src.mix(out, windowStart, windowEnd) {
			finished = append(finished, src)
			continue
		}
		live = append(live, src)
	}
	d.sources = live
	d.samplePos = windowEnd
	d.mu.Unlock()

	for _, src := range finished {
		src.finish()
	}
}

func (d *OutputDevice) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(d.rate)
}

// source is one scheduled playback region on the output timeline.
type source struct {
	samples     []float32
	startSample int64

	mu      sync.Mutex
	stopped bool
	closed  bool
	done    chan struct{}
}

// mix adds the source's overlap with [windowStart, windowEnd) into out.
// Returns true when the source has played to completion.
func (s *source) mix(out []float32, windowStart, windowEnd int64) bool {
	end := s.startSample + int64(len(s.samples))
	if end <= windowStart {
		return true
	}
	if s.startSample >= windowEnd {
		return false
	}

	from := windowStart
	if s.startSample > from {
		from = s.startSample
	}
	for i := from; i < windowEnd && i < end; i++ {
		out[i-windowStart] += s.samples[i-s.startSample]
	}
	return end <= windowEnd
}

// Done implements [audio.ScheduledSource].
func (s *source) Done() <-chan struct{} { return s.done }

// Stop implements [audio.ScheduledSource]. The source stops contributing to
// the mix immediately. Idempotent.
func (s *source) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.finish()
}

func (s *source) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *source) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// mixdown averages a chunk's channels into one mono buffer.
func mixdown(chunk audio.Chunk) []float32 {
	if chunk.Channels() == 1 {
		samples := make([]float32, len(chunk.Data[0]))
		copy(samples, chunk.Data[0])
		return samples
	}

	n := len(chunk.Data[0])
	samples := make([]float32, n)
	for _, ch := range chunk.Data {
		for i, v := range ch {
			if i < n {
				samples[i] += v
			}
		}
	}
	scale := 1 / float32(chunk.Channels())
	for i := range samples {
		samples[i] *= scale
	}
	return samples
}
