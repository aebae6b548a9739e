package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Summarizer condenses text. It backs the summarize algorithm and is
// supplied by the caller; the compressor never summarizes on its own.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, text string) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// AnthropicSummarizer summarizes context text using Claude's streaming API.
type AnthropicSummarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicSummarizer creates a summarizer. Empty model and non-positive
// maxTokens fall back to the package defaults.
func NewAnthropicSummarizer(client *anthropic.Client, model string, maxTokens int) *AnthropicSummarizer {
	if model == "" {
		model = DefaultSummarizerModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultSummarizerMaxTokens
	}
	return &AnthropicSummarizer{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Summarize streams a summary of text and returns the accumulated reply.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: SummarizationSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildSummarizationUserPrompt(text))),
		},
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("%w: failed to accumulate stream: %v", ErrSummarizationFailed, err)
		}
	}

	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}

	var summary strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			summary.WriteString(text.Text)
		}
	}

	if summary.Len() == 0 {
		return "", fmt.Errorf("%w: empty response from summarizer", ErrSummarizationFailed)
	}

	return summary.String(), nil
}
