package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jordanhubbard/arcfork/internal/messagebus"
	"github.com/jordanhubbard/arcfork/internal/persona"
	"github.com/jordanhubbard/arcfork/pkg/config"
)

const novaJSON = `{"alias":"Nova","twitterUserName":"nova_ai","bio":"A wandering signal."}`

func TestLoadPersona(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"nova", "nova.v2", "nova.v7"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(novaJSON), 0644))
	}
	store := persona.NewStore(dir, 0)
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	p, err := loadPersona(store, "nova.v2", false, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	require.Equal(t, 1, logs.Len(), "loading behind the latest version warns")
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "nova.v7", fields["latest"])
	assert.Equal(t, "nova.v3", fields["replaced"])

	p, err = loadPersona(store, "nova.v2", true, logger)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Version)
	assert.Equal(t, 1, logs.Len())

	_, err = loadPersona(store, "", false, logger)
	assert.Error(t, err)

	_, err = loadPersona(store, "ghost", true, logger)
	assert.True(t, errors.Is(err, persona.ErrNotFound))
}

func TestNewerVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"nova", "nova.v2"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(novaJSON), 0644))
	}
	store := persona.NewStore(dir, 0)

	p, err := store.Load("nova")
	require.NoError(t, err)
	newer, ok := newerVersion(store, p)
	assert.True(t, ok)
	assert.Equal(t, "nova.v2", newer)

	p, err = store.Load("nova.v2")
	require.NoError(t, err)
	_, ok = newerVersion(store, p)
	assert.False(t, ok)
}

func TestNewRand_SeedIsReproducible(t *testing.T) {
	a, b := newRand(42), newRand(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.IntN(100), b.IntN(100))
	}
}

func TestDisabledBackends(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Embedding.Type = "none"

	docStore, err := openDocumentStore(ctx, cfg, "nova")
	require.NoError(t, err)
	assert.Nil(t, docStore)
	memory, heartbeat := storeDeps(docStore, cfg, nil)
	assert.Nil(t, memory)
	assert.False(t, heartbeat.Enabled())

	checkpoint, closeRedis, err := newCheckpoint(ctx, cfg.Redis, "nova")
	require.NoError(t, err)
	assert.Nil(t, checkpoint)
	assert.NoError(t, closeRedis())

	bus, closeBus, err := newEventBus(cfg.NATS, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, messagebus.Nop{}, bus)
	assert.NoError(t, closeBus())

	embedder, err := newEmbedder(ctx, config.EmbeddingConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, embedder)

	_, err = newEmbedder(ctx, config.EmbeddingConfig{Type: "telepathy"})
	assert.Error(t, err)
}

func TestBusConfig(t *testing.T) {
	cfg := config.DefaultConfig().NATS
	got := busConfig(cfg)
	assert.Equal(t, cfg.URL, got.URL)
	assert.Equal(t, "ARCFORK", got.StreamName)
	assert.Equal(t, 30*24*time.Hour, got.Retention)
}

func TestStoreDeps_MemoryWithoutStats(t *testing.T) {
	cfg := config.DefaultConfig()
	require.False(t, cfg.Stats.Enabled)
	require.Equal(t, "openai", cfg.Embedding.Type)

	docStore, err := openDocumentStore(context.Background(), cfg, "nova")
	require.NoError(t, err)
	require.NotNil(t, docStore)

	memory, heartbeat := storeDeps(docStore, cfg, zaptest.NewLogger(t))
	assert.NotNil(t, memory, "embeddings are stored even with stats off")
	assert.False(t, heartbeat.Enabled())

	cfg.Stats.Enabled = true
	cfg.Embedding.Type = "none"
	memory, heartbeat = storeDeps(docStore, cfg, zaptest.NewLogger(t))
	assert.Nil(t, memory)
	assert.True(t, heartbeat.Enabled())
}

type probedBackend struct{ err error }

func (p probedBackend) Health() error { return p.err }

func TestHealthCheck(t *testing.T) {
	_, ok := healthCheck(messagebus.Nop{})
	assert.False(t, ok)

	check, ok := healthCheck(probedBackend{err: errors.New("stream unavailable")})
	require.True(t, ok)
	assert.EqualError(t, check(), "stream unavailable")
}
