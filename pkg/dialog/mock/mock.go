// Package mock provides scriptable in-memory implementations of
// [dialog.Provider] and [dialog.Session] for use in tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/audio/pcm"
	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/dialog"
)

var _ dialog.Provider = (*Provider)(nil)
var _ dialog.Session = (*Session)(nil)

// Provider is a mock dialog backend. Every Connect call hands out a fresh
// [Session] that the test can drive via [Session.Emit].
type Provider struct {
	// ConnectErr, when non-nil, is returned by Connect instead of a session.
	ConnectErr error

	mu       sync.Mutex
	sessions []*Session
}

// Connect implements [dialog.Provider].
func (p *Provider) Connect(_ context.Context, cfg dialog.Config) (dialog.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := &Session{
		Config: cfg,
		events: make(chan dialog.Event, 64),
	}
	p.sessions = append(p.sessions, sess)
	return sess, nil
}

// Sessions returns every session handed out so far, in Connect order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Last returns the most recently connected session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Session is a scriptable mock dialog session.
type Session struct {
	// Config is the configuration Connect was called with.
	Config dialog.Config

	// SendErr, when non-nil, is returned by SendAudio.
	SendErr error

	mu     sync.Mutex
	sent   []pcm.Blob
	errVal error
	ended  bool
	closed bool
	events chan dialog.Event
}

// Emit injects a server event into the session's event stream. Emitting on
// an ended or closed session is a no-op.
func (s *Session) Emit(ev dialog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.closed {
		return
	}
	s.events <- ev
}

// End finishes the event stream as a clean server-side disconnect would.
// The session still needs Close from the consumer to release it.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end()
}

// Fail records err as the session's terminal error and ends the event
// stream, as a transport failure would. Like [Session.End], it leaves the
// consumer-side Close to the caller.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.closed {
		return
	}
	s.errVal = err
	s.end()
}

// end finishes the event stream. Must be called with s.mu held.
func (s *Session) end() {
	if s.ended {
		return
	}
	s.ended = true
	close(s.events)
}

// SendAudio implements [dialog.Session], recording each payload.
func (s *Session) SendAudio(blob pcm.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.closed {
		return fmt.Errorf("mock: session closed")
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, blob)
	return nil
}

// Sent returns every payload delivered via SendAudio, in order.
func (s *Session) Sent() []pcm.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pcm.Blob, len(s.sent))
	copy(out, s.sent)
	return out
}

// Events implements [dialog.Session].
func (s *Session) Events() <-chan dialog.Event { return s.events }

// Err implements [dialog.Session].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements [dialog.Session]. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.end()
	return nil
}

// Closed reports whether the consumer released the session via Close.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
