// Package watermark tracks the highest mention id the agent has seen so each
// mention is offered to the model at most once.
package watermark

import (
	"cmp"
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/jordanhubbard/arcfork/internal/social"
)

// Source yields mentions newer than sinceID.
type Source interface {
	FetchMentions(ctx context.Context, sinceID uint64, limit int) ([]social.Mention, error)
}

// Checkpoint persists the cursor across restarts.
type Checkpoint interface {
	Load(ctx context.Context) (uint64, error)
	Save(ctx context.Context, id uint64) error
}

// Tracker holds the cursor. It is not safe for concurrent use; the loop is
// its only caller.
type Tracker struct {
	current    uint64
	checkpoint Checkpoint
	logger     *zap.Logger
}

// NewTracker creates a tracker at zero. checkpoint may be nil.
func NewTracker(checkpoint Checkpoint, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{checkpoint: checkpoint, logger: logger}
}

// Current returns the cursor value.
func (t *Tracker) Current() uint64 {
	return t.current
}

// Seed initialises the cursor from the checkpoint and any ids visible at
// startup. A checkpoint read failure is logged and ignored.
func (t *Tracker) Seed(ctx context.Context, ids ...uint64) uint64 {
	if t.checkpoint != nil {
		stored, err := t.checkpoint.Load(ctx)
		if err != nil {
			t.logger.Warn("failed to load watermark checkpoint", zap.Error(err))
		} else {
			t.advance(stored)
		}
	}
	for _, id := range ids {
		t.advance(id)
	}
	return t.current
}

func (t *Tracker) advance(id uint64) bool {
	if id <= t.current {
		return false
	}
	t.current = id
	return true
}

// Fetch pulls up to limit mentions newer than the cursor. On error the cursor
// is unchanged. On success it moves to the highest id in the batch whether or
// not the caller ends up answering that mention.
func (t *Tracker) Fetch(ctx context.Context, source Source, limit int) ([]social.Mention, error) {
	mentions, err := source.FetchMentions(ctx, t.current, limit)
	if err != nil {
		return nil, err
	}

	fresh := make([]social.Mention, 0, len(mentions))
	moved := false
	for _, m := range mentions {
		// Sources may return ids at or below since_id.
		if m.ID <= t.current {
			continue
		}
		fresh = append(fresh, m)
	}
	// Sources may pad the batch past limit. Keep the oldest so the cursor
	// never skips a mention that was not offered.
	slices.SortFunc(fresh, func(a, b social.Mention) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(fresh) > limit {
		fresh = fresh[:limit]
	}
	for _, m := range fresh {
		if t.advance(m.ID) {
			moved = true
		}
	}

	if moved && t.checkpoint != nil {
		if err := t.checkpoint.Save(ctx, t.current); err != nil {
			t.logger.Warn("failed to save watermark checkpoint",
				zap.Uint64("watermark", t.current), zap.Error(err))
		}
	}
	return fresh, nil
}
