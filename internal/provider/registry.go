package provider

import (
	"fmt"
	"net/http"
	"time"
)

// Config selects and configures a completion backend.
type Config struct {
	Type        string        `yaml:"type"` // openai, local, custom, ollama
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NewProtocol builds the Protocol implementation for cfg.Type.
func NewProtocol(cfg Config, client *http.Client) (Protocol, error) {
	if client == nil {
		client = NewHTTPClient(cfg.Timeout)
	}
	switch cfg.Type {
	case "openai", "local", "custom", "":
		// All use OpenAI-compatible protocol
		return NewOpenAIProvider(cfg.Endpoint, cfg.APIKey, client), nil
	case "ollama":
		return NewOllamaProvider(cfg.Endpoint, client), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

// NewCompleterFromConfig wires a Completer for cfg.
func NewCompleterFromConfig(cfg Config) (*Completer, error) {
	protocol, err := NewProtocol(cfg, nil)
	if err != nil {
		return nil, err
	}
	return NewCompleter(protocol, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
}
