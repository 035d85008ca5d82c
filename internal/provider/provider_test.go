package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_CreateChatCompletion(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1/", "sk-test", srv.Client())
	resp, err := p.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "m",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, []ChatMessage{{Role: RoleUser, Content: "hi"}}, got.Messages)
}

func TestOpenAIProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "", srv.Client())
	_, err := p.CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Contains(t, err.Error(), "429")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "rate limited", se.Body)
}

func TestOllamaProvider_CreateChatCompletion(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"from ollama"},"done":true,"done_reason":"length","prompt_eval_count":30,"eval_count":12}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, srv.Client())
	resp, err := p.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:       "llama3",
		Messages:    []ChatMessage{{Role: RoleSystem, Content: "bio"}, {Role: RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   128,
	})
	require.NoError(t, err)
	assert.Equal(t, "from ollama", resp.Choices[0].Message.Content)
	assert.Equal(t, "length", resp.Choices[0].Finish)
	assert.Equal(t, Usage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42}, resp.Usage)
	assert.False(t, got.Stream)
	assert.Equal(t, "30m", got.KeepAlive)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, 0.7, got.Options.Temperature)
	assert.Equal(t, 128, got.Options.NumPredict)
}

func TestOllamaProvider_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model 'llama3' not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, srv.Client()).CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "llama3"})
	assert.True(t, errors.Is(err, ErrProvider))
	assert.Contains(t, err.Error(), "not found")
}

func TestOllamaProvider_RequiresModel(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", nil)
	_, err := p.CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: " "})
	assert.Error(t, err)
}

type stubProtocol struct {
	req  *ChatCompletionRequest
	resp *ChatCompletionResponse
	err  error
}

func (s *stubProtocol) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

func TestCompleter_Complete(t *testing.T) {
	stub := &stubProtocol{resp: &ChatCompletionResponse{Choices: []ChatChoice{{Message: ChatMessage{Content: "  a post \n"}}}}}
	c := NewCompleter(stub, "m", 0.9, 200)

	history := []ChatMessage{{Role: RoleSystem, Content: "bio"}}
	out, err := c.Complete(context.Background(), "write", history)
	require.NoError(t, err)
	assert.Equal(t, "a post", out)

	require.Len(t, stub.req.Messages, 2)
	assert.Equal(t, ChatMessage{Role: RoleUser, Content: "write"}, stub.req.Messages[1])
	assert.Equal(t, "m", stub.req.Model)
	assert.Equal(t, 200, stub.req.MaxTokens)
	assert.Len(t, history, 1, "caller history must not grow")
}

func TestCompleter_Errors(t *testing.T) {
	testCases := []struct {
		name string
		stub *stubProtocol
	}{
		{"backend error", &stubProtocol{err: errors.New("boom")}},
		{"no choices", &stubProtocol{resp: &ChatCompletionResponse{}}},
		{"empty content", &stubProtocol{resp: &ChatCompletionResponse{Choices: []ChatChoice{{Message: ChatMessage{Content: "  "}}}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCompleter(tc.stub, "m", 0, 0)
			_, err := c.Complete(context.Background(), "p", nil)
			assert.True(t, errors.Is(err, ErrProvider))
		})
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"hello"}, req.Input)
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.25,0.5,1]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "k", "text-embedding-3-small", srv.Client())
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 1}, vec)
}

func TestOpenAIEmbedder_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "", "m", srv.Client())
	_, err := e.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestNewGenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := NewGenAIEmbedder(context.Background(), "", "")
	assert.Error(t, err)
}

func TestNewProtocol(t *testing.T) {
	p, err := NewProtocol(Config{Type: "ollama", Endpoint: "http://x"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, p)

	p, err = NewProtocol(Config{Type: "openai", Endpoint: "http://x"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	_, err = NewProtocol(Config{Type: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
