package database

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in process. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	lineage  string
	versions map[int]*VersionRecord
	memories map[string]Memory
}

func NewMemoryStore(lineage string) *MemoryStore {
	return &MemoryStore{
		lineage:  lineage,
		versions: make(map[int]*VersionRecord),
		memories: make(map[string]Memory),
	}
}

func (s *MemoryStore) EnsureVersionRecord(ctx context.Context, version int, createdAtUnix int64, snapshot string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[version]; ok {
		return Exists, nil
	}
	s.versions[version] = &VersionRecord{
		Lineage:         s.lineage,
		Version:         version,
		CreatedAtUnix:   createdAtUnix,
		PersonaSnapshot: snapshot,
	}
	return Created, nil
}

func (s *MemoryStore) IncrementCounter(ctx context.Context, version int, counter Counter, delta int64) error {
	if err := counter.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.versions[version]
	if !ok {
		return fmt.Errorf("%w: %s version %d", ErrNoRecord, s.lineage, version)
	}
	switch counter {
	case CounterPostsSent:
		rec.PostsSent += delta
	case CounterRepliesSent:
		rec.RepliesSent += delta
	case CounterMessagesRead:
		rec.MessagesRead += delta
	}
	return nil
}

func (s *MemoryStore) StoreMemory(ctx context.Context, id, text string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[id] = Memory{ID: id, Content: text, Embedding: append([]float32(nil), vector...)}
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// Record returns a copy of the stats record for version.
func (s *MemoryStore) Record(version int) (VersionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.versions[version]
	if !ok {
		return VersionRecord{}, false
	}
	return *rec, true
}

// Memory returns the stored memory for id.
func (s *MemoryStore) Memory(id string) (Memory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	return m, ok
}
