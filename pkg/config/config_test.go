package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Persona.BranchEvery != 5 {
		t.Errorf("expected branch_every 5, got %d", cfg.Persona.BranchEvery)
	}
	if cfg.Schedule.MinInterval != 10*time.Minute || cfg.Schedule.MaxInterval != 11*time.Minute {
		t.Errorf("expected 10m-11m interval, got %v-%v", cfg.Schedule.MinInterval, cfg.Schedule.MaxInterval)
	}
	if cfg.Schedule.PostWeight != 79 {
		t.Errorf("expected post weight 79, got %d", cfg.Schedule.PostWeight)
	}
	if cfg.Schedule.CallTimeout != 2*time.Minute {
		t.Errorf("expected 2m call timeout, got %v", cfg.Schedule.CallTimeout)
	}
	if cfg.Schedule.MentionLimit != 5 {
		t.Errorf("expected mention limit 5, got %d", cfg.Schedule.MentionLimit)
	}
	if cfg.Stats.Enabled {
		t.Error("stats should be disabled by default")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arcfork.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("TEST_ACCESS_TOKEN", "tok-from-env")
	path := writeConfig(t, `
persona:
  name: nova.v3
schedule:
  min_interval: 30s
  max_interval: 45s
  post_weight: 50
provider:
  type: ollama
  endpoint: http://localhost:11434
  model: llama3
social:
  access_token: ${TEST_ACCESS_TOKEN}
stats:
  enabled: true
  driver: mongo
  uri: mongodb://localhost:27017
`)

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Persona.Name != "nova.v3" {
		t.Errorf("got persona %q", cfg.Persona.Name)
	}
	if cfg.Persona.Dir != "./personas" {
		t.Errorf("default dir lost, got %q", cfg.Persona.Dir)
	}
	if cfg.Schedule.MinInterval != 30*time.Second || cfg.Schedule.MaxInterval != 45*time.Second {
		t.Errorf("got interval %v-%v", cfg.Schedule.MinInterval, cfg.Schedule.MaxInterval)
	}
	if cfg.Schedule.PostWeight != 50 {
		t.Errorf("got post weight %d", cfg.Schedule.PostWeight)
	}
	if cfg.Schedule.CallTimeout != 2*time.Minute {
		t.Errorf("default call timeout lost, got %v", cfg.Schedule.CallTimeout)
	}
	if cfg.Social.AccessToken != "tok-from-env" {
		t.Errorf("env not expanded, got %q", cfg.Social.AccessToken)
	}
	if cfg.Stats.Driver != "mongo" || !cfg.Stats.Enabled {
		t.Errorf("got stats %+v", cfg.Stats)
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	if _, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfigFromFile_Malformed(t *testing.T) {
	path := writeConfig(t, "persona: [unclosed")
	if _, err := LoadConfigFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvPersonaDir, "/srv/personas")
	t.Setenv(EnvPostsBeforeBranch, "7")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Persona.Dir != "/srv/personas" {
		t.Errorf("got dir %q", cfg.Persona.Dir)
	}
	if cfg.Persona.BranchEvery != 7 {
		t.Errorf("got branch_every %d", cfg.Persona.BranchEvery)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("got level %q", cfg.Logging.Level)
	}
}

func TestApplyEnv_InvalidBranchEvery(t *testing.T) {
	t.Setenv(EnvPostsBeforeBranch, "five")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric POSTS_BEFORE_BRANCH")
	}
}

func validRunConfig() *Config {
	cfg := DefaultConfig()
	cfg.Provider.Model = "gpt-4o-mini"
	cfg.Provider.APIKey = "sk-test"
	cfg.Embedding.APIKey = "sk-test"
	cfg.Social = SocialConfig{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AccessToken:    "at",
		AccessSecret:   "as",
	}
	return cfg
}

func TestValidateRun(t *testing.T) {
	if err := validRunConfig().ValidateRun(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing model", func(c *Config) { c.Provider.Model = "" }, "provider.model"},
		{"bad provider", func(c *Config) { c.Provider.Type = "smoke-signal" }, "provider.type"},
		{"zero branch", func(c *Config) { c.Persona.BranchEvery = 0 }, "branch_every"},
		{"inverted interval", func(c *Config) { c.Schedule.MaxInterval = time.Minute }, "max_interval"},
		{"weight over 100", func(c *Config) { c.Schedule.PostWeight = 101 }, "post_weight"},
		{"no timeout", func(c *Config) { c.Schedule.CallTimeout = 0 }, "call_timeout"},
		{"missing creds", func(c *Config) { c.Social.AccessSecret = "" }, "access_secret"},
		{"genai without key", func(c *Config) { c.Embedding.Type = "genai"; c.Embedding.APIKey = "" }, "embedding.api_key"},
		{"openai without key", func(c *Config) { c.Provider.APIKey = "" }, "provider.api_key"},
		{"openai embeddings without key", func(c *Config) { c.Embedding.APIKey = "" }, "embedding.api_key"},
		{"mongo without uri", func(c *Config) { c.Stats.Enabled = true; c.Stats.Driver = "mongo" }, "stats.uri"},
		{"memories without uri", func(c *Config) { c.Stats.Driver = "postgres" }, "stats.uri"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"negative retention", func(c *Config) { c.NATS.Retention = -time.Hour }, "nats.retention"},
		{"sample ratio over 1", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, "sample_ratio"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validRunConfig()
			tc.mutate(cfg)
			err := cfg.ValidateRun()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_ChatNeedsNoCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Model = "gpt-4o-mini"
	cfg.Provider.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("chat config should validate without social credentials: %v", err)
	}
}

func TestValidate_KeylessProviders(t *testing.T) {
	for _, typ := range []string{"local", "custom", "ollama"} {
		cfg := DefaultConfig()
		cfg.Provider.Type = typ
		cfg.Provider.Endpoint = "http://localhost:11434"
		cfg.Provider.Model = "llama3"
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s provider should not need an api key: %v", typ, err)
		}
	}
}
