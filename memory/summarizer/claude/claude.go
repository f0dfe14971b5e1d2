// Package claude summarizes conversations with the Anthropic API.
// The produced summaries are stored as long-term memories, so the
// prompt asks for dense third-person prose rather than bullet lists.
package claude

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/coda-voice/coda-go-sdk/core"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024

	systemPrompt = `You summarize voice-assistant conversations for long-term memory.
Write a compact third-person summary of the conversation below.
Capture the user's stated preferences, personal details, decisions, and any
commitments the assistant made. Omit greetings and filler. Respond with the
summary only, no preamble.`
)

// Summarizer produces session summaries through the Messages API.
type Summarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	log       *slog.Logger
}

// Option configures the summarizer.
type Option func(*Summarizer)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(s *Summarizer) {
		s.model = model
	}
}

// WithMaxTokens caps the summary length.
func WithMaxTokens(n int64) Option {
	return func(s *Summarizer) {
		s.maxTokens = n
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Summarizer) {
		s.log = log
	}
}

// New creates a Summarizer with the given Anthropic client.
func New(client *anthropic.Client, opts ...Option) (*Summarizer, error) {
	if client == nil {
		return nil, fmt.Errorf("anthropic client is required")
	}
	s := &Summarizer{
		client:    client,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Summarize renders the turns as a transcript and asks the model for
// a summary.
func (s *Summarizer) Summarize(ctx context.Context, turns []core.Turn) (string, error) {
	transcript := renderTranscript(turns)
	if transcript == "" {
		return "", fmt.Errorf("no turns to summarize")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var summary string
	for _, block := range resp.Content {
		if block.Type == "text" {
			summary += block.Text
		}
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("model returned empty summary")
	}

	s.log.Info("[SUMMARIZER] session summarized",
		"turns", len(turns),
		"summary_len", len(summary),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	return summary, nil
}

// renderTranscript flattens turns into "role: content" lines. Memory
// turns injected by context assembly are skipped so the model only
// sees the actual exchange.
func renderTranscript(turns []core.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Role == core.RoleMemory {
			continue
		}
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(content)
	}
	return b.String()
}
