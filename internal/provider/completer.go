package provider

import (
	"context"
	"fmt"
	"strings"
)

// Completer turns a prompt plus prior messages into a single reply using a
// Protocol backend.
type Completer struct {
	protocol    Protocol
	model       string
	temperature float64
	maxTokens   int
}

// NewCompleter creates a completer for model.
func NewCompleter(protocol Protocol, model string, temperature float64, maxTokens int) *Completer {
	return &Completer{
		protocol:    protocol,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Complete sends history followed by prompt as a user message and returns
// the first choice's content.
func (c *Completer) Complete(ctx context.Context, prompt string, history []ChatMessage) (string, error) {
	messages := make([]ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: RoleUser, Content: prompt})
	req := &ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	resp, err := c.protocol.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: completion failed: %w", ErrProvider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", ErrProvider)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: completion returned empty content", ErrProvider)
	}
	return content, nil
}
