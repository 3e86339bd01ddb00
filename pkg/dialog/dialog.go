// Package dialog defines the Provider interface for realtime dialog
// backends: voice AI services that accept streamed audio input and return
// synthesised audio output over a single, stateful duplex session.
//
// The central abstraction is [Session]: one bidirectional channel to the
// remote service. Outbound audio goes through SendAudio; everything
// inbound — synthesised audio, interruption signals, transcriptions,
// turn boundaries — arrives on a single ordered [Event] stream so that
// consumers observe interruptions in their correct position relative to
// the audio chunks around them.
//
// All implementations must be safe for concurrent use.
package dialog

import (
	"context"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/pcm"
)

// EventType classifies inbound server events.
type EventType int

const (
	// EventAudio carries a chunk of synthesised speech as a wire payload.
	EventAudio EventType = iota

	// EventInterrupted signals that the model was cut off mid-response and
	// everything queued or playing should be discarded now.
	EventInterrupted

	// EventTurnComplete marks the end of a model response turn.
	EventTurnComplete

	// EventTranscript carries a text transcription of user speech or model
	// output.
	EventTranscript
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventTranscript:
		return "TRANSCRIPT"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound server event. Exactly the fields relevant to its
// Type are populated.
type Event struct {
	Type EventType

	// Audio is the wire payload for EventAudio. The payload is passed
	// through still base64-wrapped; decoding is the codec's concern.
	Audio pcm.Blob

	// Role is "user" or "model" for EventTranscript.
	Role string

	// Text is the transcription text for EventTranscript.
	Text string

	// Timestamp is when the event was received.
	Timestamp time.Time
}

// Config is the initial configuration for a new dialog session. All fields
// are opaque pass-through values interpreted by the remote service, not by
// the core.
type Config struct {
	// Model is the target model identifier.
	Model string

	// Voice selects the prebuilt voice for synthesised speech.
	Voice string

	// Instructions is the free-text behavioural instruction defining the
	// remote agent persona.
	Instructions string
}

// Session represents an open duplex dialog session.
//
// The session is the hot path of the voice pipeline — every method must
// return quickly. Callers must drain Events promptly to keep the
// provider's receive loop from stalling, and must call Close when the
// session is no longer needed.
type Session interface {
	// SendAudio delivers an encoded capture window to the remote service.
	// Returns an error if the session is closed or the transport cannot
	// accept the payload.
	SendAudio(blob pcm.Blob) error

	// Events returns the ordered inbound event stream. The channel is
	// closed when the session ends; after it closes, call Err to check
	// whether the session ended cleanly.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it
	// ended cleanly.
	Err() error

	// Close terminates the session and releases all resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime dialog backend.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned Session is ready to accept audio immediately. The caller
	// owns the Session and is responsible for calling Close.
	Connect(ctx context.Context, cfg Config) (Session, error)
}
