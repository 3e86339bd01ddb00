// Package history exposes the persisted conversation transcript over the
// agent's operational HTTP endpoint.
//
//   - /transcripts        — full-text search over transcript entries.
//   - /transcripts/recent — the current conversation's recent entries.
//
// Responses are JSON objects with a top-level "entries" array. The routes
// are read-only; writing transcripts stays with the agent's event loop.
package history

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ThinhHoang1/AI-english-startup-conversation/pkg/transcript"
)

// defaultWindow bounds /transcripts/recent when no "within" parameter is
// given.
const defaultWindow = 15 * time.Minute

// defaultLimit caps search results when no "limit" parameter is given.
const defaultLimit = 100

// entry is the JSON shape of one transcript line.
type entry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// listing is the JSON response body for transcript queries.
type listing struct {
	ConversationID string  `json:"conversation_id,omitempty"`
	Entries        []entry `json:"entries"`
}

// Handler serves read-only transcript queries against a [transcript.Store].
type Handler struct {
	store          transcript.Store
	conversationID string
}

// New creates a [Handler] backed by store. conversationID is the live
// conversation's identifier, used as the default scope for queries that
// name no conversation of their own.
func New(store transcript.Store, conversationID string) *Handler {
	return &Handler{store: store, conversationID: conversationID}
}

// Search handles GET /transcripts. The "q" parameter is the full-text
// query and is required; "conversation", "role" and "limit" narrow the
// results. Results come back oldest first.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, `{"error":"missing query parameter q"}`, http.StatusBadRequest)
		return
	}

	opts := transcript.SearchOpts{
		ConversationID: r.URL.Query().Get("conversation"),
		Role:           r.URL.Query().Get("role"),
		Limit:          defaultLimit,
	}
	if opts.ConversationID == "" {
		opts.ConversationID = h.conversationID
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}

	entries, err := h.store.Search(r.Context(), q, opts)
	if err != nil {
		http.Error(w, `{"error":"transcript search failed"}`, http.StatusInternalServerError)
		return
	}
	writeListing(w, opts.ConversationID, entries)
}

// Recent handles GET /transcripts/recent, returning the live
// conversation's entries from the last "within" duration (default 15m),
// oldest first.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	within := defaultWindow
	if raw := r.URL.Query().Get("within"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, `{"error":"within must be a positive duration"}`, http.StatusBadRequest)
			return
		}
		within = d
	}

	entries, err := h.store.Recent(r.Context(), h.conversationID, within)
	if err != nil {
		http.Error(w, `{"error":"transcript lookup failed"}`, http.StatusInternalServerError)
		return
	}
	writeListing(w, h.conversationID, entries)
}

// Register adds the transcript routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /transcripts", h.Search)
	mux.HandleFunc("GET /transcripts/recent", h.Recent)
}

func writeListing(w http.ResponseWriter, conversationID string, entries []transcript.Entry) {
	out := listing{
		ConversationID: conversationID,
		Entries:        make([]entry, len(entries)),
	}
	for i, e := range entries {
		out.Entries[i] = entry{Role: e.Role, Text: e.Text, Timestamp: e.Timestamp}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
