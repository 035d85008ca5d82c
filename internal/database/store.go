// Package database persists per-version stats records and the vector memory
// of mentions the agent answered.
package database

import (
	"context"
	"errors"
	"fmt"
)

// Outcome reports what EnsureVersionRecord did.
type Outcome int

const (
	Exists Outcome = iota
	Created
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "exists"
}

// Counter names a stats field.
type Counter string

const (
	CounterPostsSent    Counter = "posts_sent"
	CounterRepliesSent  Counter = "replies_sent"
	CounterMessagesRead Counter = "messages_read"
)

var (
	// ErrUnknownCounter is returned for counters outside the fixed set.
	ErrUnknownCounter = errors.New("unknown stats counter")

	// ErrNoRecord is returned by IncrementCounter when the version has no
	// record yet. Only EnsureVersionRecord creates records.
	ErrNoRecord = errors.New("stats record not found")
)

// Validate reports whether c is one of the known counters.
func (c Counter) Validate() error {
	switch c {
	case CounterPostsSent, CounterRepliesSent, CounterMessagesRead:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCounter, string(c))
}

// VersionRecord is the stats document for one persona version.
type VersionRecord struct {
	Lineage         string `bson:"lineage" json:"lineage"`
	Version         int    `bson:"version" json:"version"`
	PostsSent       int64  `bson:"posts_sent" json:"posts_sent"`
	RepliesSent     int64  `bson:"replies_sent" json:"replies_sent"`
	MessagesRead    int64  `bson:"messages_read" json:"messages_read"`
	CreatedAtUnix   int64  `bson:"created_at_unix" json:"created_at_unix"`
	PersonaSnapshot string `bson:"persona_snapshot" json:"persona_snapshot"`
}

// Memory is one embedded mention.
type Memory struct {
	ID        string    `bson:"_id" json:"id"`
	Content   string    `bson:"content" json:"content"`
	Embedding []float32 `bson:"embedding" json:"embedding"`
}

// Store is the document store the agent writes to. Records are scoped to
// the lineage the store was opened for.
type Store interface {
	// EnsureVersionRecord creates the record for version unless it exists.
	EnsureVersionRecord(ctx context.Context, version int, createdAtUnix int64, snapshot string) (Outcome, error)
	IncrementCounter(ctx context.Context, version int, counter Counter, delta int64) error
	StoreMemory(ctx context.Context, id, text string, vector []float32) error
	Close(ctx context.Context) error
}

// MemoryID is the key a mention's embedding is stored under.
func MemoryID(mentionID uint64) string {
	return fmt.Sprintf("tweet_%d", mentionID)
}

// Config selects a backend.
type Config struct {
	Driver   string `yaml:"driver"` // mongo, postgres, memory
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, lineage string) (Store, error) {
	switch cfg.Driver {
	case "mongo", "mongodb":
		return NewMongoStore(ctx, cfg.URI, cfg.Database, lineage)
	case "postgres":
		return NewPostgresStore(ctx, cfg.URI, lineage)
	case "memory", "":
		return NewMemoryStore(lineage), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
