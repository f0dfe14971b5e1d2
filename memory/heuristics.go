package memory

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Importance defaults per source type. Preferences always outrank the
// neutral fact default; chunked conversation always sits below it.
const (
	defaultFactImportance     = 0.5
	defaultPrefImportance     = 0.8
	summaryImportance         = 0.7
	maxConversationImportance = 0.4
)

// importanceSignals are the content classes that raise a chunk's score
// above the 0.5 base. Each class counts once no matter how often it
// matches.
var importanceSignals = []struct {
	name   string
	re     *regexp.Regexp
	weight float64
}{
	{"preference", regexp.MustCompile(`(?i)\b(prefer|like|love|hate|dislike|favorite|enjoy)`), 0.2},
	{"personal_info", regexp.MustCompile(`(?i)\b(my|i|name|age|birthday|address|phone|email)\b`), 0.3},
	{"question", regexp.MustCompile(`\?`), 0.1},
	{"instruction", regexp.MustCompile(`(?i)\b(please|could you|can you|would you)\b`), 0.1},
	{"fact", regexp.MustCompile(`(?i)\b(is|are|was|were|has|have|had|will be|won't be)\b`), 0.1},
}

// scoreImportance rates text on [0.5, 1.0] from the signal classes it
// contains.
func scoreImportance(text string) float64 {
	score := 0.5
	for _, sig := range importanceSignals {
		if sig.re.MatchString(text) {
			score += sig.weight
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// conversationImportance rates a conversation chunk. The score keeps
// the signal ordering of scoreImportance but is shifted and capped so
// ambient transcript never outranks explicit facts or preferences.
func conversationImportance(text string) float64 {
	imp := scoreImportance(text) - 0.2
	if imp > maxConversationImportance {
		imp = maxConversationImportance
	}
	return imp
}

// topicLimit caps the topics extracted per text.
const topicLimit = 5

var topicWordRe = regexp.MustCompile(`\b\w+\b`)

var topicStopwords = func() map[string]struct{} {
	words := []string{
		"the", "a", "an", "and", "or", "but", "is", "are", "was", "were",
		"be", "been", "being", "have", "has", "had", "do", "does", "did",
		"i", "you", "he", "she", "it", "we", "they", "my", "your", "his",
		"her", "its", "our", "their", "this", "that", "these", "those",
		"am", "doing", "can", "could", "will", "would", "shall", "should",
		"may", "might", "must", "to", "for", "with", "about", "against",
		"between", "into", "through", "during", "before", "after", "above",
		"below", "from", "up", "down", "in", "out", "on", "off", "over",
		"under", "again", "further", "then", "once", "here", "there",
		"when", "where", "why", "how", "all", "any", "both", "each", "few",
		"more", "most", "other", "some", "such", "no", "nor", "not",
		"only", "own", "same", "so", "than", "too", "very", "s", "t",
		"just", "don", "now",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()

// extractTopics returns up to topicLimit topics: the most frequent
// words longer than three runes that are not stopwords, most frequent
// first. Frequency ties keep first-appearance order, so the result is
// deterministic. Any input containing at least one qualifying word
// yields at least one topic.
func extractTopics(text string) []string {
	words := topicWordRe.FindAllString(strings.ToLower(text), -1)
	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if _, stop := topicStopwords[w]; stop {
			continue
		}
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > topicLimit {
		order = order[:topicLimit]
	}
	return order
}
