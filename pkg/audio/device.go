// Package audio defines the types and device interfaces for audio capture
// and scheduled playback.
//
// The two primary abstractions are:
//
//   - [InputDevice] — grants exclusive access to a live capture stream that
//     delivers fixed-size sample windows.
//   - [OutputDevice] — exposes a monotonic output clock and accepts
//     requests to play a [Chunk] starting at a given clock time, returning
//     a [ScheduledSource] handle for completion tracking and forced stop.
//
// Implementations are provided by adapter packages (e.g., audio/portaudio
// for real hardware, audio/mock for tests). The interfaces are intentionally
// narrow to keep the capture pipeline and playback scheduler decoupled from
// device details.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [InputDevice.Open] when access to the
// capture device is denied. Recoverable: the caller may retry after the
// user grants permission.
var ErrPermissionDenied = errors.New("audio: capture permission denied")

// ErrNoDevice is returned by [InputDevice.Open] when no capture device is
// available or the device failed to initialise.
var ErrNoDevice = errors.New("audio: no capture device available")

// InputDevice grants access to a live audio capture stream.
//
// Implementations must be safe for concurrent use.
type InputDevice interface {
	// Open requests exclusive access to a capture stream in the given format,
	// delivering successive windows of exactly window samples. The supplied
	// ctx governs the open attempt only; the stream stays live until
	// [InputStream.Close] is called.
	//
	// Returns [ErrPermissionDenied] if access is denied and [ErrNoDevice] if
	// no device is available.
	Open(ctx context.Context, format Format, window int) (InputStream, error)
}

// InputStream is an open capture stream.
type InputStream interface {
	// Frames returns the channel on which capture windows arrive. The channel
	// is closed when the stream is closed. Windows that the consumer does not
	// drain in time may be dropped by the device, never queued unboundedly.
	Frames() <-chan Frame

	// Close releases the device handle and closes the Frames channel.
	// Safe to call more than once.
	Close() error
}

// OutputDevice is a playback device with a monotonic clock and scheduled
// starts. It is the reference frame for all scheduling decisions.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Now returns the current value of the output clock. The clock starts at
	// zero when the device is created and only moves forward.
	Now() time.Duration

	// PlayAt schedules chunk to begin playing when the output clock reaches
	// start. A start time in the past means "as soon as possible". The
	// returned source handle reports natural completion via Done and supports
	// forced stop.
	PlayAt(chunk Chunk, start time.Duration) (ScheduledSource, error)
}

// ScheduledSource is a handle to one chunk enqueued or playing on the
// output timeline.
type ScheduledSource interface {
	// Done returns a channel that is closed when playback ends, whether it
	// finished naturally or was stopped.
	Done() <-chan struct{}

	// Stop force-stops playback immediately. Idempotent; stopping a source
	// that already finished is a no-op.
	Stop()
}
