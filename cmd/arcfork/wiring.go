package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jordanhubbard/arcfork/internal/agent"
	"github.com/jordanhubbard/arcfork/internal/database"
	"github.com/jordanhubbard/arcfork/internal/health"
	"github.com/jordanhubbard/arcfork/internal/messagebus"
	"github.com/jordanhubbard/arcfork/internal/persona"
	"github.com/jordanhubbard/arcfork/internal/prompt"
	"github.com/jordanhubbard/arcfork/internal/provider"
	"github.com/jordanhubbard/arcfork/internal/stats"
	"github.com/jordanhubbard/arcfork/internal/watermark"
	"github.com/jordanhubbard/arcfork/pkg/config"
)

// loadPersona resolves the configured lookup name and loads it. Without
// latest, an older version is loaded as asked but a warning notes that its
// next branch replaces a stored file.
func loadPersona(store *persona.Store, name string, latest bool, logger *zap.Logger) (*persona.Persona, error) {
	if name == "" {
		return nil, errors.New("no persona selected: set persona.name or pass --persona")
	}
	if latest {
		base, _ := persona.ParseName(name)
		resolved, err := store.Latest(base)
		if err != nil {
			return nil, err
		}
		name = resolved
	}
	p, err := store.Load(name)
	if err != nil {
		return nil, err
	}
	if newer, ok := newerVersion(store, p); ok && !latest {
		logger.Warn("a newer version of this persona is stored; its next branch will replace it",
			zap.String("loaded", p.LookupName()),
			zap.String("latest", newer),
			zap.String("replaced", persona.VersionedName(p.BaseName, p.Version+1)))
	}
	return p, nil
}

// newerVersion returns the latest stored lookup name of p's lineage when
// it is ahead of p.
func newerVersion(store *persona.Store, p *persona.Persona) (string, bool) {
	latest, err := store.Latest(p.BaseName)
	if err != nil {
		return "", false
	}
	if _, version := persona.ParseName(latest); version > p.Version {
		return latest, true
	}
	return "", false
}

// newRand seeds the process RNG. A zero seed draws from the clock.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func newAgent(cfg *config.Config, rng *rand.Rand) (*agent.Agent, error) {
	completer, err := provider.NewCompleterFromConfig(provider.Config{
		Type:        cfg.Provider.Type,
		Endpoint:    cfg.Provider.Endpoint,
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
		Timeout:     cfg.Provider.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}
	return agent.NewAgent(completer, prompt.NewBuilder(rng)), nil
}

// newEmbedder returns nil when embeddings are disabled.
func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (agent.Embedder, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "genai":
		return provider.NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model)
	case "openai":
		return provider.NewOpenAIEmbedder(cfg.Endpoint, cfg.APIKey, cfg.Model, provider.NewHTTPClient(30*time.Second)), nil
	default:
		return nil, fmt.Errorf("unsupported embedding type: %s", cfg.Type)
	}
}

// openDocumentStore connects the document store that holds stats records
// and mention memories. It returns nil when neither is in use.
func openDocumentStore(ctx context.Context, cfg *config.Config, lineage string) (database.Store, error) {
	if !cfg.Stats.Enabled && cfg.Embedding.Type == "none" {
		return nil, nil
	}
	return database.Open(ctx, database.Config{
		Driver:   cfg.Stats.Driver,
		URI:      cfg.Stats.URI,
		Database: cfg.Stats.Database,
	}, lineage)
}

// storeDeps splits the document store into the loop's memory sink and its
// stats heartbeat. stats.enabled only governs the heartbeat.
func storeDeps(store database.Store, cfg *config.Config, logger *zap.Logger) (agent.MemoryStore, *stats.Heartbeat) {
	var memory agent.MemoryStore
	if store != nil && cfg.Embedding.Type != "none" {
		memory = store
	}
	return memory, stats.NewHeartbeat(store, cfg.Stats.Enabled, logger)
}

// newCheckpoint connects the Redis watermark checkpoint. It returns nil
// when Redis is off.
func newCheckpoint(ctx context.Context, cfg config.RedisConfig, lineage string) (*watermark.RedisCheckpoint, func() error, error) {
	if !cfg.Enabled {
		return nil, func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return watermark.NewRedisCheckpoint(client, lineage), client.Close, nil
}

// newEventBus connects NATS. A disabled bus discards events.
// healthCheck returns v's probe when the backend exposes one.
func healthCheck(v any) (health.Check, bool) {
	h, ok := v.(interface{ Health() error })
	if !ok {
		return nil, false
	}
	return h.Health, true
}

func busConfig(cfg config.NATSConfig) messagebus.Config {
	return messagebus.Config{
		URL:        cfg.URL,
		StreamName: cfg.StreamName,
		Timeout:    cfg.Timeout,
		Retention:  cfg.Retention,
	}
}

func newEventBus(cfg config.NATSConfig, logger *zap.Logger) (messagebus.EventPublisher, func() error, error) {
	if !cfg.Enabled {
		return messagebus.Nop{}, func() error { return nil }, nil
	}
	bus, err := messagebus.NewNatsMessageBus(busConfig(cfg), logger)
	if err != nil {
		return nil, nil, err
	}
	return bus, bus.Close, nil
}
