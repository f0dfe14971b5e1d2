package memory

import (
	"strings"

	"github.com/coda-voice/coda-go-sdk/core"
)

// chunker splits conversation text into overlapping word windows for
// long-term storage.
type chunker struct {
	size    int // window width in words
	overlap int // words shared between consecutive windows
	minLen  int // trailing windows shorter than this are dropped
}

// split returns the chunk contents for one source text. Windows are
// size words wide and advance by size-overlap. A trailing window
// shorter than minLen words is dropped unless it is the only window.
func (c chunker) split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= c.size {
		// A single window is kept even when it is under the minimum.
		return []string{strings.Join(words, " ")}
	}
	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + c.size
		last := end >= len(words)
		if last {
			end = len(words)
		}
		window := words[start:end]
		if last && len(window) < c.minLen && len(chunks) > 0 {
			break
		}
		chunks = append(chunks, strings.Join(window, " "))
		if last {
			break
		}
	}
	return chunks
}

// conversationRun is a contiguous stretch of user/assistant turns
// rendered as one source text for chunking.
type conversationRun struct {
	source string // originating role(s), e.g. "user" or "user+assistant"
	text   string
}

// groupEligibleTurns renders contiguous user/assistant stretches into
// runs of "role: content" lines. System and memory turns break a run
// and are never persisted.
func groupEligibleTurns(turns []core.Turn) []conversationRun {
	var runs []conversationRun
	var lines []string
	var roles []core.Role

	flush := func() {
		if len(lines) == 0 {
			return
		}
		runs = append(runs, conversationRun{
			source: joinRoles(roles),
			text:   strings.Join(lines, "\n"),
		})
		lines = nil
		roles = nil
	}

	for _, t := range turns {
		if t.Role != core.RoleUser && t.Role != core.RoleAssistant {
			flush()
			continue
		}
		lines = append(lines, string(t.Role)+": "+t.Content)
		if !containsRole(roles, t.Role) {
			roles = append(roles, t.Role)
		}
	}
	flush()
	return runs
}

func containsRole(roles []core.Role, r core.Role) bool {
	for _, have := range roles {
		if have == r {
			return true
		}
	}
	return false
}

func joinRoles(roles []core.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, "+")
}

// encodeConversation turns eligible conversation turns into chunk
// records ready for embedding and storage. Chunk importance comes from
// the scoring heuristic on the chunk's own text; topics likewise.
func encodeConversation(turns []core.Turn, c chunker) ([]*MemoryRecord, error) {
	var records []*MemoryRecord
	for _, run := range groupEligibleTurns(turns) {
		for _, content := range c.split(run.text) {
			rec, err := NewMemoryRecord(content, SourceTypeConversation, run.source,
				conversationImportance(content), extractTopics(content))
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	return records, nil
}
