// Package transcript defines the storage abstraction for conversation
// transcripts: the textual record of what the user said and what the
// agent replied, one entry per completed utterance.
package transcript

import (
	"context"
	"time"
)

// Entry is a single transcript line within a conversation.
type Entry struct {
	// Role identifies the speaker: "user" or "model".
	Role string

	// Text is the transcribed utterance.
	Text string

	// Timestamp is when the utterance was received.
	Timestamp time.Time
}

// SearchOpts narrows a transcript search. Zero values mean "no filter".
type SearchOpts struct {
	// ConversationID restricts results to one conversation.
	ConversationID string

	// Role restricts results to one speaker role.
	Role string

	// After and Before bound the time range.
	After  time.Time
	Before time.Time

	// Limit caps the number of results. Zero means unlimited.
	Limit int
}

// Store persists transcript entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append writes one entry to the conversation's transcript.
	Append(ctx context.Context, conversationID string, entry Entry) error

	// Recent returns all entries for the conversation no older than the
	// given duration, ordered chronologically (oldest first).
	Recent(ctx context.Context, conversationID string, within time.Duration) ([]Entry, error)

	// Search performs a full-text search over entry text, applying the
	// filters in opts, ordered chronologically.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)
}
