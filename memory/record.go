package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source types for long-term records.
const (
	SourceTypeFact         = "fact"
	SourceTypePreference   = "preference"
	SourceTypeConversation = "conversation"
)

// MemoryRecord is one entry in long-term memory.
//
// Records are self-contained: everything needed to reload and search
// them lives on the struct, and the journal persists each record as one
// JSON file. Content is immutable after creation; corrections are new
// records.
type MemoryRecord struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	SourceType string    `json:"source_type"`
	Source     string    `json:"source,omitempty"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	Topics     []string  `json:"topics,omitempty"`
}

// NewMemoryRecord builds a record with a fresh ID and creation time.
// Content must be non-empty, sourceType must be one of the SourceType
// constants, and importance must be within [0, 1].
func NewMemoryRecord(content, sourceType, source string, importance float64, topics []string) (*MemoryRecord, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if importance < 0 || importance > 1 {
		return nil, fmt.Errorf("%w: importance %.2f outside [0, 1]", ErrInvalidInput, importance)
	}
	switch sourceType {
	case SourceTypeFact, SourceTypePreference, SourceTypeConversation:
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, sourceType)
	}
	return &MemoryRecord{
		ID:         uuid.New().String(),
		Content:    content,
		SourceType: sourceType,
		Source:     source,
		Importance: importance,
		CreatedAt:  time.Now().UTC(),
		Topics:     topics,
	}, nil
}

// HasTopic reports whether the record carries the given topic.
func (r *MemoryRecord) HasTopic(topic string) bool {
	for _, t := range r.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// truncate truncates a string to maxLen, adding "..." if truncated.
// Used for log lines and event previews.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
