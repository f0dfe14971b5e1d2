package memory

import (
	"math"
	"reflect"
	"testing"
)

func closeTo(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestScoreImportance(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		// "zzz qqq" dodges every signal class, including the pronoun
		// and verb lists.
		{"no signals", "zzz qqq", 0.5},
		{"question mark", "what time does zzz start?", 0.6},
		{"preference", "they prefer jazz over rock", 0.7},
		{"personal info", "my name happens to matter", 0.8},
		{"instruction", "please turn off lights", 0.6},
		{"fact verb", "paris is big", 0.6},
		{"stacked caps at one", "I love it! My name is Max, could you please remember? It is important, isn't it?", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoreImportance(tt.text)
			if !closeTo(got, tt.want) {
				t.Errorf("scoreImportance(%q) = %.2f, want %.2f", tt.text, got, tt.want)
			}
		})
	}
}

func TestScoreImportanceBounds(t *testing.T) {
	texts := []string{
		"",
		"hello world",
		"I love my favorite email, could you please confirm it is correct?",
	}
	for _, text := range texts {
		got := scoreImportance(text)
		if got < 0.5 || got > 1.0 {
			t.Errorf("scoreImportance(%q) = %.2f, want within [0.5, 1.0]", text, got)
		}
	}
}

func TestConversationImportanceCapped(t *testing.T) {
	// A chunk loaded with every signal still stays at or below the cap.
	loaded := "I love my favorite music, could you please check? My name is Max."
	if got := conversationImportance(loaded); got > maxConversationImportance {
		t.Errorf("conversationImportance = %.2f, want <= %.2f", got, maxConversationImportance)
	}
	// A plain chunk sits at base minus the shift.
	if got := conversationImportance("zzz qqq"); !closeTo(got, 0.3) {
		t.Errorf("conversationImportance(no signals) = %.2f, want 0.30", got)
	}
}

func TestExtractTopics(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "stopwords and short words dropped",
			text: "the cat sat on the mat",
			want: nil, // every word is a stopword or <= 3 runes
		},
		{
			name: "frequency ranks first",
			text: "coffee coffee coffee morning morning espresso",
			want: []string{"coffee", "morning", "espresso"},
		},
		{
			name: "ties keep first appearance order",
			text: "guitar piano drums",
			want: []string{"guitar", "piano", "drums"},
		},
		{
			name: "case folded",
			text: "Weather WEATHER weather forecast",
			want: []string{"weather", "forecast"},
		},
		{
			name: "capped at five",
			text: "alpha alpha beta beta gamma gamma delta delta epsilon epsilon zeta",
			want: []string{"alpha", "beta", "gamma", "delta", "epsilon"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTopics(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractTopics(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractTopicsNonTrivialInput(t *testing.T) {
	// Any input with one qualifying word yields at least one topic.
	inputs := []string{
		"remind me about the dentist appointment",
		"schedule",
		"I enjoy hiking",
	}
	for _, text := range inputs {
		if got := extractTopics(text); len(got) == 0 {
			t.Errorf("extractTopics(%q) = none, want at least one topic", text)
		}
	}
}
