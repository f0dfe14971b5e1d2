// Package events carries the memory layer's operation notifications.
//
// The Manager emits one Event per successful logical operation through
// a Sink. Sinks observe only: they run after the operation has
// succeeded and cannot alter its result. Compose sinks with Multi,
// quiet bursty feeds with Dedupe, and fan out to dashboards with Hub.
package events

import (
	"sync/atomic"
	"time"
)

// Type discriminates event payloads.
type Type string

const (
	TypeConversationTurn Type = "conversation_turn"
	TypeMemoryStore      Type = "memory_store"
	TypeMemoryRetrieve   Type = "memory_retrieve"
	TypeMemoryUpdate     Type = "memory_update"
)

// Version is the event envelope version.
const Version = "1.0"

// Event is the envelope every notification travels in. Seq is assigned
// at creation and is monotonic per process.
type Event struct {
	Version   string    `json:"version"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Payload   any       `json:"payload"`
}

var seq atomic.Uint64

// New builds an event envelope around payload.
func New(t Type, sessionID string, payload any) Event {
	return Event{
		Version:   Version,
		Seq:       seq.Add(1),
		Timestamp: time.Now().UTC(),
		Type:      t,
		SessionID: sessionID,
		Payload:   payload,
	}
}

// ConversationTurn reports a turn accepted into short-term memory.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MemoryStore reports a record written to long-term memory.
type MemoryStore struct {
	ContentPreview string  `json:"content_preview"`
	MemoryType     string  `json:"memory_type"`
	Importance     float64 `json:"importance"`
	MemoryID       string  `json:"memory_id"`
}

// RetrievedItem is one search hit inside a MemoryRetrieve payload.
type RetrievedItem struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// MemoryRetrieve reports a completed similarity search.
type MemoryRetrieve struct {
	Query       string          `json:"query"`
	ResultCount int             `json:"result_count"`
	Results     []RetrievedItem `json:"results"`
}

// MemoryUpdate reports a state transition on an existing memory, and
// covers the short-term clear with MemoryID "short_term" and Field
// "cleared".
type MemoryUpdate struct {
	MemoryID string `json:"memory_id"`
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// Sink receives events. Implementations must not block for long:
// emission runs on the operation's goroutine.
type Sink interface {
	Emit(Event)
}
