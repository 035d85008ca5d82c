package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// PostgresStore keeps stats and memories in two tables.
type PostgresStore struct {
	db      *sql.DB
	lineage string
}

// NewPostgresStore opens dsn, pings it and creates the schema.
func NewPostgresStore(ctx context.Context, dsn, lineage string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, lineage: lineage}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS persona_stats (
		lineage TEXT NOT NULL,
		version INTEGER NOT NULL,
		posts_sent BIGINT NOT NULL DEFAULT 0,
		replies_sent BIGINT NOT NULL DEFAULT 0,
		messages_read BIGINT NOT NULL DEFAULT 0,
		created_at_unix BIGINT NOT NULL DEFAULT 0,
		persona_snapshot TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (lineage, version)
	);

	CREATE TABLE IF NOT EXISTS mention_memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding REAL[] NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) EnsureVersionRecord(ctx context.Context, version int, createdAtUnix int64, snapshot string) (Outcome, error) {
	res, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO persona_stats (lineage, version, created_at_unix, persona_snapshot)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (lineage, version) DO NOTHING
	`), s.lineage, version, createdAtUnix, snapshot)
	if err != nil {
		return Exists, fmt.Errorf("failed to ensure version record %d: %w", version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Exists, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return Created, nil
	}
	return Exists, nil
}

// IncrementCounter updates an existing record. The column name comes from
// the validated Counter set.
func (s *PostgresStore) IncrementCounter(ctx context.Context, version int, counter Counter, delta int64) error {
	if err := counter.Validate(); err != nil {
		return err
	}
	col := string(counter)
	query := fmt.Sprintf(`
		UPDATE persona_stats SET %s = %s + ?
		WHERE lineage = ? AND version = ?
	`, col, col)
	res, err := s.db.ExecContext(ctx, rebind(query), delta, s.lineage, version)
	if err != nil {
		return fmt.Errorf("failed to increment %s for version %d: %w", counter, version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s version %d", ErrNoRecord, s.lineage, version)
	}
	return nil
}

func (s *PostgresStore) StoreMemory(ctx context.Context, id, text string, vector []float32) error {
	_, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO mention_memories (id, content, embedding)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding
	`), id, text, pq.Array(toFloat64(vector)))
	if err != nil {
		return fmt.Errorf("failed to store memory %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// pq.Array has no float32 slice support.
func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
