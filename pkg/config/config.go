package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvPersonaDir        = "ARCFORK_PERSONA_DIR"
	EnvPostsBeforeBranch = "POSTS_BEFORE_BRANCH"
	EnvLogLevel          = "ARCFORK_LOG_LEVEL"
)

// Config represents the main configuration for the agent.
type Config struct {
	Persona   PersonaConfig   `yaml:"persona"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Provider  ProviderConfig  `yaml:"provider"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Social    SocialConfig    `yaml:"social"`
	Stats     StatsConfig     `yaml:"stats"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PersonaConfig locates persona files.
type PersonaConfig struct {
	Dir         string `yaml:"dir"`
	Name        string `yaml:"name"`         // lookup name, e.g. "nova" or "nova.v3"
	BranchEvery int    `yaml:"branch_every"` // post cycles between branches
}

// ScheduleConfig controls the loop cadence.
type ScheduleConfig struct {
	MinInterval  time.Duration `yaml:"min_interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
	PostWeight   int           `yaml:"post_weight"` // percent of ticks that post; the rest engage
	CallTimeout  time.Duration `yaml:"call_timeout"`
	MentionLimit int           `yaml:"mention_limit"`
	Seed         uint64        `yaml:"seed"` // 0 seeds from the clock
}

// ProviderConfig selects the completion backend.
type ProviderConfig struct {
	Type        string        `yaml:"type"` // openai, local, custom, ollama
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Type     string `yaml:"type"` // openai, genai, none
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// SocialConfig holds the platform endpoint and OAuth 1.0a keys.
type SocialConfig struct {
	BaseURL        string `yaml:"base_url"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	AccessToken    string `yaml:"access_token"`
	AccessSecret   string `yaml:"access_secret"`
}

// StatsConfig controls the per-version stats records.
type StatsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Driver   string `yaml:"driver"` // mongo, postgres, memory
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig enables the watermark checkpoint.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig enables event publishing.
type NATSConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	StreamName string        `yaml:"stream_name"`
	Timeout    time.Duration `yaml:"timeout"`
	Retention  time.Duration `yaml:"retention"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TelemetryConfig controls OpenTelemetry export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Persona: PersonaConfig{
			Dir:         "./personas",
			BranchEvery: 5,
		},
		Schedule: ScheduleConfig{
			MinInterval:  10 * time.Minute,
			MaxInterval:  11 * time.Minute,
			PostWeight:   79,
			CallTimeout:  2 * time.Minute,
			MentionLimit: 5,
		},
		Provider: ProviderConfig{
			Type:        "openai",
			Endpoint:    "https://api.openai.com/v1",
			Temperature: 0.9,
			MaxTokens:   512,
			Timeout:     90 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Type:     "openai",
			Endpoint: "https://api.openai.com/v1",
			Model:    "text-embedding-3-small",
		},
		Stats: StatsConfig{
			Enabled:  false,
			Driver:   "memory",
			Database: "arcfork",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			StreamName: "ARCFORK",
			Timeout:    10 * time.Second,
			Retention:  30 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9464",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "arcfork",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file at the specified
// path. Values not set in the file keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Expand environment variables (e.g. ${TWITTER_ACCESS_TOKEN}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path when it is non-empty and falls back to defaults otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadConfigFromFile(path)
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	if dir := os.Getenv(EnvPersonaDir); dir != "" {
		c.Persona.Dir = dir
	}
	if raw := os.Getenv(EnvPostsBeforeBranch); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPostsBeforeBranch, raw, err)
		}
		c.Persona.BranchEvery = n
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
	return nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Persona.Dir == "" {
		errs = append(errs, errors.New("persona.dir is required"))
	}
	if c.Persona.BranchEvery < 1 {
		errs = append(errs, fmt.Errorf("persona.branch_every must be at least 1, got %d", c.Persona.BranchEvery))
	}
	if c.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}
	if c.Provider.Endpoint == "" {
		errs = append(errs, errors.New("provider.endpoint is required"))
	}
	switch c.Provider.Type {
	case "openai":
		if c.Provider.APIKey == "" {
			errs = append(errs, errors.New("provider.api_key is required for openai"))
		}
	case "local", "custom", "ollama":
	default:
		errs = append(errs, fmt.Errorf("unsupported provider.type %q", c.Provider.Type))
	}
	return errors.Join(errs...)
}

// ValidateRun checks the settings the autonomous loop needs on top of Validate.
func (c *Config) ValidateRun() error {
	errs := []error{c.Validate()}

	s := c.Schedule
	if s.MinInterval <= 0 {
		errs = append(errs, errors.New("schedule.min_interval must be positive"))
	}
	if s.MaxInterval < s.MinInterval {
		errs = append(errs, fmt.Errorf("schedule.max_interval %v is below min_interval %v", s.MaxInterval, s.MinInterval))
	}
	if s.PostWeight < 0 || s.PostWeight > 100 {
		errs = append(errs, fmt.Errorf("schedule.post_weight must be within [0, 100], got %d", s.PostWeight))
	}
	if s.CallTimeout <= 0 {
		errs = append(errs, errors.New("schedule.call_timeout must be positive"))
	}
	if s.MentionLimit < 1 || s.MentionLimit > 100 {
		errs = append(errs, fmt.Errorf("schedule.mention_limit must be within [1, 100], got %d", s.MentionLimit))
	}

	so := c.Social
	if so.ConsumerKey == "" || so.ConsumerSecret == "" || so.AccessToken == "" || so.AccessSecret == "" {
		errs = append(errs, errors.New("social consumer_key, consumer_secret, access_token and access_secret are required"))
	}

	switch c.Embedding.Type {
	case "none":
	case "openai":
		if c.Embedding.Model == "" {
			errs = append(errs, errors.New("embedding.model is required"))
		}
		if c.Embedding.APIKey == "" {
			errs = append(errs, errors.New("embedding.api_key is required for openai"))
		}
	case "genai":
		if c.Embedding.APIKey == "" {
			errs = append(errs, errors.New("embedding.api_key is required for genai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported embedding.type %q", c.Embedding.Type))
	}

	// Mention memories share the stats backend.
	if c.Stats.Enabled || c.Embedding.Type != "none" {
		switch c.Stats.Driver {
		case "memory":
		case "mongo", "mongodb", "postgres":
			if c.Stats.URI == "" {
				errs = append(errs, fmt.Errorf("stats.uri is required for driver %s", c.Stats.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported stats.driver %q", c.Stats.Driver))
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}
	if c.NATS.Retention < 0 {
		errs = append(errs, fmt.Errorf("nats.retention must not be negative, got %s", c.NATS.Retention))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be within [0, 1], got %v", c.Telemetry.SampleRatio))
	}
	return errors.Join(errs...)
}
