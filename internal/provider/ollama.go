package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// OllamaProvider talks to Ollama's native /api/chat endpoint, which
// accepts sampling settings as model options rather than top-level fields.
type OllamaProvider struct {
	endpoint  string
	client    *http.Client
	keepAlive string
}

func NewOllamaProvider(endpoint string, client *http.Client) *OllamaProvider {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &OllamaProvider{
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		client:    client,
		keepAlive: "30m",
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	KeepAlive string        `json:"keep_alive,omitempty"`
	Options   ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Model           string      `json:"model"`
	Message         ChatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error"`
}

func (p *OllamaProvider) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, errors.New("ollama: model is required")
	}

	body := ollamaChatRequest{
		Model:     model,
		Messages:  req.Messages,
		KeepAlive: p.keepAlive,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}

	var out ollamaChatResponse
	if err := doJSON(ctx, p.client, p.endpoint+"/api/chat", "", body, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: ollama %s: %s", ErrProvider, model, out.Error)
	}

	finish := out.DoneReason
	if finish == "" {
		finish = "stop"
	}
	return &ChatCompletionResponse{
		Model:   out.Model,
		Choices: []ChatChoice{{Message: out.Message, Finish: finish}},
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}
