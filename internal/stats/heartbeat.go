// Package stats keeps the per-version stats record in the document store.
package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/arcfork/internal/database"
)

// Heartbeat ensures a stats record exists for the running persona version
// and bumps its counters. A disabled heartbeat does nothing.
type Heartbeat struct {
	store   database.Store
	enabled bool
	logger  *zap.Logger
	now     func() time.Time
}

func NewHeartbeat(store database.Store, enabled bool, logger *zap.Logger) *Heartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{
		store:   store,
		enabled: enabled && store != nil,
		logger:  logger,
		now:     time.Now,
	}
}

// Enabled reports whether records are written.
func (h *Heartbeat) Enabled() bool {
	return h.enabled
}

// Ensure creates the record for version with snapshot unless it already
// exists.
func (h *Heartbeat) Ensure(ctx context.Context, version int, snapshot string) (database.Outcome, error) {
	if !h.enabled {
		return database.Exists, nil
	}
	outcome, err := h.store.EnsureVersionRecord(ctx, version, h.now().Unix(), snapshot)
	if err != nil {
		h.logger.Error("version record check failed", zap.Int("version", version), zap.Error(err))
		return outcome, fmt.Errorf("failed to ensure stats for version %d: %w", version, err)
	}
	switch outcome {
	case database.Created:
		h.logger.Info("created stats record", zap.Int("version", version))
	default:
		h.logger.Debug("stats record exists", zap.Int("version", version))
	}
	return outcome, nil
}

// Inc adds delta to counter for version.
func (h *Heartbeat) Inc(ctx context.Context, version int, counter database.Counter, delta int64) error {
	if !h.enabled || delta == 0 {
		return nil
	}
	if err := h.store.IncrementCounter(ctx, version, counter, delta); err != nil {
		h.logger.Warn("failed to increment stats counter",
			zap.Int("version", version), zap.String("counter", string(counter)), zap.Error(err))
		return err
	}
	return nil
}
