// Package sched reconstructs a gapless, interruption-aware playback
// timeline from a stream of independently-arriving decoded audio chunks.
//
// A [Scheduler] owns one timeline on a shared [audio.OutputDevice] clock.
// Chunks enqueued in order play back-to-back with zero intentional gap; a
// chunk that arrives after its nominal slot is appended after whatever is
// already scheduled rather than overlapping it. Interrupt force-stops
// everything queued or playing, so the next chunk starts fresh.
package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio"
)

// Scheduler schedules decoded chunks on a single output timeline.
//
// The timeline cursor is an explicit field owned by the Scheduler instance;
// all cursor reads and writes happen under one mutex, so the
// read-modify-write in [Scheduler.Enqueue] is atomic with respect to
// concurrent Enqueue and Interrupt calls.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out   audio.OutputDevice
	gauge func(delta int64)

	mu     sync.Mutex
	cursor time.Duration // next scheduled start time on the output clock
	seq    uint64
	active map[uint64]audio.ScheduledSource
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithActiveGauge registers fn to receive active-source deltas: +1 when a
// chunk is scheduled, -1 when its source finishes or is interrupted. Wire
// it to an up/down counter to export the queue depth.
func WithActiveGauge(fn func(delta int64)) Option {
	return func(s *Scheduler) { s.gauge = fn }
}

// New creates a Scheduler that plays chunks on out.
func New(out audio.OutputDevice, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		active: make(map[uint64]audio.ScheduledSource),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules chunk to play directly after everything already
// scheduled, clamping the start time to the current output clock so a
// chunk is never scheduled in the past (e.g. after a long silence or a
// stall). Returns the scheduled start time.
//
// If the device rejects the chunk, the cursor is left untouched so a
// failed schedule never corrupts the timeline for subsequent chunks.
func (s *Scheduler) Enqueue(chunk audio.Chunk) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.out.Now(); s.cursor < now {
		s.cursor = now
	}

	src, err := s.out.PlayAt(chunk, s.cursor)
	if err != nil {
		return 0, fmt.Errorf("sched: play at %v: %w", s.cursor, err)
	}

	start := s.cursor
	s.cursor += chunk.Duration()

	s.seq++
	id := s.seq
	s.active[id] = src
	s.gaugeAdd(1)

	// Completion hook: drop the source from the active set when it finishes
	// naturally. Interrupt may have removed it already; the presence check
	// keeps the gauge from double-counting the removal.
	go func() {
		<-src.Done()
		s.mu.Lock()
		_, live := s.active[id]
		delete(s.active, id)
		s.mu.Unlock()
		if live {
			s.gaugeAdd(-1)
		}
	}()

	return start, nil
}

// Interrupt force-stops every source currently queued or playing, empties
// the active set, and rewinds the cursor to zero. The next Enqueue clamps
// the cursor back up to the output clock, so playback after an
// interruption starts effectively immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, src := range s.active {
		src.Stop()
		delete(s.active, id)
		s.gaugeAdd(-1)
	}
	s.cursor = 0
}

// gaugeAdd forwards an active-source delta to the registered gauge, if any.
func (s *Scheduler) gaugeAdd(delta int64) {
	if s.gauge != nil {
		s.gauge(delta)
	}
}

// Active returns the number of sources currently queued or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Now returns the output device's current clock reading.
func (s *Scheduler) Now() time.Duration {
	return s.out.Now()
}

// Cursor returns the next scheduled start time on the output clock.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
