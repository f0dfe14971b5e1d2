// Package core holds the conversation primitives shared by the memory
// layer and its consumers: turn roles, the Turn record, and the
// deterministic token estimate used for context budgeting.
package core

import (
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// RoleMemory marks synthetic turns built from retrieved long-term
	// records during context assembly. No speaker produces them.
	RoleMemory Role = "memory"
)

// Valid reports whether r is a known conversation role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleMemory:
		return true
	}
	return false
}

// Turn is a single entry in a conversation.
//
// Sequence is assigned by short-term memory, monotonically from 0 for
// the lifetime of the buffer. Synthetic memory-role turns produced
// during context assembly carry Sequence 0; only buffer turns have
// meaningful sequence numbers.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// EstimateTokens returns the token estimate used for all context
// budgeting: one token per four bytes of text, minimum one. The
// estimate is deterministic so budget decisions are reproducible.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EstimateTurnTokens sums the token estimate over turns.
func EstimateTurnTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTokens(t.Content)
	}
	return total
}
