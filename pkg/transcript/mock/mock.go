// Package mock provides an in-memory [transcript.Store] for use in tests.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/transcript"
)

var _ transcript.Store = (*Store)(nil)

// Store is an in-memory transcript store.
type Store struct {
	// AppendErr, when non-nil, is returned by Append.
	AppendErr error

	mu      sync.Mutex
	entries map[string][]transcript.Entry
}

// Append implements [transcript.Store].
func (s *Store) Append(_ context.Context, conversationID string, entry transcript.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AppendErr != nil {
		return s.AppendErr
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if s.entries == nil {
		s.entries = make(map[string][]transcript.Entry)
	}
	s.entries[conversationID] = append(s.entries[conversationID], entry)
	return nil
}

// Recent implements [transcript.Store].
func (s *Store) Recent(_ context.Context, conversationID string, within time.Duration) ([]transcript.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-within)
	out := []transcript.Entry{}
	for _, e := range s.entries[conversationID] {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search implements [transcript.Store] with a naive substring match.
func (s *Store) Search(_ context.Context, query string, opts transcript.SearchOpts) ([]transcript.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []transcript.Entry{}
	for id, entries := range s.entries {
		if opts.ConversationID != "" && id != opts.ConversationID {
			continue
		}
		for _, e := range entries {
			if !strings.Contains(strings.ToLower(e.Text), strings.ToLower(query)) {
				continue
			}
			if opts.Role != "" && e.Role != opts.Role {
				continue
			}
			if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
				continue
			}
			if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
				continue
			}
			out = append(out, e)
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// All returns every entry stored under conversationID, in append order.
func (s *Store) All(conversationID string) []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Entry, len(s.entries[conversationID]))
	copy(out, s.entries[conversationID])
	return out
}
