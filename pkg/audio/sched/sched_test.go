package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/mock"
)

// chunk returns a mono chunk lasting the given number of milliseconds at
// 24 kHz.
func chunk(ms int) audio.Chunk {
	n := 24000 * ms / 1000
	return audio.Chunk{
		Data:       [][]float32{make([]float32, n)},
		SampleRate: 24000,
	}
}

func TestEnqueue_BackToBack(t *testing.T) {
	out := &mock.OutputDevice{}
	s := New(out)

	starts := make([]time.Duration, 0, 3)
	for _, ms := range []int{100, 50, 200} {
		start, err := s.Enqueue(chunk(ms))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		starts = append(starts, start)
	}

	want := []time.Duration{0, 100 * time.Millisecond, 150 * time.Millisecond}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("chunk %d start = %v, want %v", i, starts[i], want[i])
		}
	}
	if got := s.Cursor(); got != 350*time.Millisecond {
		t.Errorf("cursor = %v, want 350ms", got)
	}
}

func TestEnqueue_ClampsToClock(t *testing.T) {
	out := &mock.OutputDevice{}
	s := New(out)

	if _, err := s.Enqueue(chunk(100)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Playback ran well past the queued chunk before the next one arrived.
	out.SetNow(500 * time.Millisecond)

	start, err := s.Enqueue(chunk(100))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if start != 500*time.Millisecond {
		t.Errorf("late chunk start = %v, want 500ms", start)
	}
	if got := s.Cursor(); got != 600*time.Millisecond {
		t.Errorf("cursor = %v, want 600ms", got)
	}
}

func TestEnqueue_PlayErrorLeavesCursor(t *testing.T) {
	out := &mock.OutputDevice{}
	s := New(out)

	if _, err := s.Enqueue(chunk(100)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	before := s.Cursor()

	out.PlayErr = audio.ErrNoDevice
	if _, err := s.Enqueue(chunk(100)); err == nil {
		t.Fatal("expected error from failing device")
	}
	if got := s.Cursor(); got != before {
		t.Errorf("cursor after failed enqueue = %v, want %v", got, before)
	}

	// The device recovers; the next chunk lands where the failed one would
	// have.
	out.PlayErr = nil
	start, err := s.Enqueue(chunk(100))
	if err != nil {
		t.Fatalf("enqueue after recovery: %v", err)
	}
	if start != before {
		t.Errorf("start after recovery = %v, want %v", start, before)
	}
}

func TestInterrupt_StopsEverything(t *testing.T) {
	out := &mock.OutputDevice{}
	s := New(out)

	for range 3 {
		if _, err := s.Enqueue(chunk(100)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if got := s.Active(); got != 3 {
		t.Fatalf("active = %d, want 3", got)
	}

	s.Interrupt()

	for i, src := range out.Sources() {
		if !src.Stopped() {
			t.Errorf("source %d not stopped after interrupt", i)
		}
	}
	if got := s.Cursor(); got != 0 {
		t.Errorf("cursor after interrupt = %v, want 0", got)
	}

	// Interrupting an empty scheduler is a no-op.
	s.Interrupt()
}

func TestEnqueue_AfterInterruptStartsAtClock(t *testing.T) {
	out := &mock.OutputDevice{}
	s := New(out)

	for range 2 {
		if _, err := s.Enqueue(chunk(100)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	out.SetNow(80 * time.Millisecond)
	s.Interrupt()

	start, err := s.Enqueue(chunk(100))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if start != 80*time.Millisecond {
		t.Errorf("start after interrupt = %v, want 80ms", start)
	}
}

func TestWithActiveGauge_FollowsSourceLifecycle(t *testing.T) {
	out := &mock.OutputDevice{}
	var gauge atomic.Int64
	s := New(out, WithActiveGauge(func(delta int64) { gauge.Add(delta) }))

	for range 3 {
		if _, err := s.Enqueue(chunk(100)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if got := gauge.Load(); got != 3 {
		t.Fatalf("gauge = %d after 3 enqueues, want 3", got)
	}

	s.Interrupt()
	if got := gauge.Load(); got != 0 {
		t.Errorf("gauge = %d after interrupt, want 0", got)
	}

	// The stopped sources' completion hooks fire too; they must not drive
	// the gauge negative.
	time.Sleep(20 * time.Millisecond)
	if got := gauge.Load(); got != 0 {
		t.Errorf("gauge = %d after completion hooks, want 0", got)
	}
}

func TestWithActiveGauge_DecrementsOnNaturalCompletion(t *testing.T) {
	out := &mock.OutputDevice{}
	var gauge atomic.Int64
	s := New(out, WithActiveGauge(func(delta int64) { gauge.Add(delta) }))

	if _, err := s.Enqueue(chunk(100)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := gauge.Load(); got != 1 {
		t.Fatalf("gauge = %d, want 1", got)
	}

	out.Advance(100 * time.Millisecond)

	deadline := time.After(time.Second)
	for gauge.Load() != 0 {
		select {
		case <-deadline:
			t.Fatalf("gauge = %d, never returned to 0 after playback finished", gauge.Load())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestActive_DropsFinishedSources(t *testing.T) {
	out := &mock.OutputDevice{}
	s := New(out)

	if _, err := s.Enqueue(chunk(100)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	out.Advance(100 * time.Millisecond)

	deadline := time.After(time.Second)
	for s.Active() != 0 {
		select {
		case <-deadline:
			t.Fatal("source never left the active set after finishing")
		case <-time.After(time.Millisecond):
		}
	}
}
