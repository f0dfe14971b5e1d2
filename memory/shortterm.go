package memory

import (
	"sync"
	"time"

	"github.com/coda-voice/coda-go-sdk/core"
)

// ShortTermMemory is a bounded buffer of conversation turns.
//
// The first system turn added is pinned: it survives eviction and
// Clear, and is always present in assembled context. All other turns
// are evicted oldest-first once the buffer is full. Sequence numbers
// are monotonic for the lifetime of the buffer, across Clear.
//
// All methods are safe for concurrent use.
type ShortTermMemory struct {
	mu        sync.Mutex
	maxTurns  int
	maxTokens int
	pinned    *core.Turn
	turns     []core.Turn
	nextSeq   int
	started   time.Time
}

// NewShortTermMemory creates a buffer holding at most maxTurns turns.
// maxTokens is the default budget for GetContext. Non-positive
// arguments fall back to the DefaultConfig values.
func NewShortTermMemory(maxTurns, maxTokens int) *ShortTermMemory {
	def := DefaultConfig()
	if maxTurns <= 0 {
		maxTurns = def.MaxTurns
	}
	if maxTokens <= 0 {
		maxTokens = def.MaxTokens
	}
	return &ShortTermMemory{
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
	}
}

// AddTurn appends a turn and returns it with its assigned sequence
// number. The first system turn becomes the pinned turn; when the
// buffer is full the oldest non-pinned turn is evicted.
func (s *ShortTermMemory) AddTurn(role core.Role, content string) core.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.started.IsZero() {
		s.started = now
	}
	turn := core.Turn{
		Role:      role,
		Content:   content,
		Sequence:  s.nextSeq,
		Timestamp: now,
	}
	s.nextSeq++

	if role == core.RoleSystem && s.pinned == nil {
		pinned := turn
		s.pinned = &pinned
		return turn
	}

	s.turns = append(s.turns, turn)
	for len(s.turns) > s.capacityLocked() {
		s.turns = s.turns[1:]
	}
	return turn
}

// capacityLocked is the room for non-pinned turns. The pinned turn
// counts against MaxTurns.
func (s *ShortTermMemory) capacityLocked() int {
	if s.pinned != nil {
		return s.maxTurns - 1
	}
	return s.maxTurns
}

// GetContext returns turns in sequence order whose summed token
// estimate fits maxTokens. The newest turns win: older non-pinned
// turns are dropped first. The pinned system turn is always included,
// even when it alone exceeds the budget. maxTokens <= 0 uses the
// buffer's default.
func (s *ShortTermMemory) GetContext(maxTokens int) []core.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}
	budget := maxTokens
	var out []core.Turn
	if s.pinned != nil {
		out = append(out, *s.pinned)
		budget -= core.EstimateTokens(s.pinned.Content)
	}

	// Walk newest to oldest; the kept turns form a suffix of the buffer.
	keepFrom := len(s.turns)
	for i := len(s.turns) - 1; i >= 0; i-- {
		cost := core.EstimateTokens(s.turns[i].Content)
		if cost > budget {
			break
		}
		budget -= cost
		keepFrom = i
	}
	out = append(out, s.turns[keepFrom:]...)
	return out
}

// Clear removes all turns except the pinned system turn. Sequence
// numbering continues from where it was.
func (s *ShortTermMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// Turns returns a snapshot of the buffer in sequence order, pinned
// turn first.
func (s *ShortTermMemory) Turns() []core.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ShortTermMemory) snapshotLocked() []core.Turn {
	out := make([]core.Turn, 0, len(s.turns)+1)
	if s.pinned != nil {
		out = append(out, *s.pinned)
	}
	return append(out, s.turns...)
}

// ConversationTurns returns a snapshot of the buffer without the
// pinned system turn, in sequence order.
func (s *ShortTermMemory) ConversationTurns() []core.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of buffered turns, pinned turn included.
func (s *ShortTermMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.turns)
	if s.pinned != nil {
		n++
	}
	return n
}

// PinnedTurn returns the pinned system turn, if one exists.
func (s *ShortTermMemory) PinnedTurn() (core.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned == nil {
		return core.Turn{}, false
	}
	return *s.pinned, true
}

// SessionDuration is the time since the first turn was added, zero
// before any turn. Clear does not reset it.
func (s *ShortTermMemory) SessionDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Export returns the full buffer for snapshotting, pinned turn first.
func (s *ShortTermMemory) Export() []core.Turn {
	return s.Turns()
}

// Import replaces the buffer with a previously exported snapshot. The
// first system turn in the snapshot is re-pinned, sequence numbering
// resumes after the highest imported sequence, and excess turns are
// evicted oldest-first.
func (s *ShortTermMemory) Import(turns []core.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pinned = nil
	s.turns = nil
	maxSeq := s.nextSeq - 1
	for _, t := range turns {
		if t.Sequence > maxSeq {
			maxSeq = t.Sequence
		}
		if s.started.IsZero() || (!t.Timestamp.IsZero() && t.Timestamp.Before(s.started)) {
			s.started = t.Timestamp
		}
		if t.Role == core.RoleSystem && s.pinned == nil {
			pinned := t
			s.pinned = &pinned
			continue
		}
		s.turns = append(s.turns, t)
	}
	s.nextSeq = maxSeq + 1
	for len(s.turns) > s.capacityLocked() {
		s.turns = s.turns[1:]
	}
}
