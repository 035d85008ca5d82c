package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jordanhubbard/arcfork/internal/database"
	"github.com/jordanhubbard/arcfork/internal/messagebus"
	"github.com/jordanhubbard/arcfork/internal/metrics"
	"github.com/jordanhubbard/arcfork/internal/persona"
	"github.com/jordanhubbard/arcfork/internal/stats"
	"github.com/jordanhubbard/arcfork/internal/telemetry"
	"github.com/jordanhubbard/arcfork/internal/watermark"
	"github.com/jordanhubbard/arcfork/pkg/messages"
)

const (
	ActionPost   = "post"
	ActionEngage = "engage"

	eventSource = "arcfork-loop"
)

// MemoryStore keeps embeddings of mentions the agent answered.
type MemoryStore interface {
	StoreMemory(ctx context.Context, id, text string, vector []float32) error
}

// Pulse receives a beat after every tick.
type Pulse interface {
	Beat()
}

// Rand is the randomness the loop draws from. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	IntN(n int) int
	Int64N(n int64) int64
}

// Options tunes the scheduling loop.
type Options struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// PostWeight is the percentage of ticks that post instead of engage.
	PostWeight   int
	CallTimeout  time.Duration
	MentionLimit int
}

// DefaultOptions returns the production cadence.
func DefaultOptions() Options {
	return Options{
		MinInterval:  10 * time.Minute,
		MaxInterval:  11 * time.Minute,
		PostWeight:   79,
		CallTimeout:  2 * time.Minute,
		MentionLimit: 5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinInterval < 0 {
		o.MinInterval = 0
	}
	if o.MaxInterval < o.MinInterval {
		o.MaxInterval = o.MinInterval
	}
	if o.PostWeight < 0 || o.PostWeight > 100 {
		o.PostWeight = d.PostWeight
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.MentionLimit <= 0 {
		o.MentionLimit = d.MentionLimit
	}
	return o
}

// Deps are the collaborators the loop drives. Memory, Heartbeat, Events,
// Metrics and Pulse are optional.
type Deps struct {
	Store     *persona.Store
	Agent     *Agent
	Social    SocialClient
	Embedder  Embedder
	Memory    MemoryStore
	Tracker   *watermark.Tracker
	Heartbeat *stats.Heartbeat
	Events    messagebus.EventPublisher
	Metrics   *metrics.Metrics
	Pulse     Pulse
	Rand      Rand
	Logger    *zap.Logger
}

// Loop is the scheduling loop. It owns the active persona; nothing else
// mutates it while Run is active.
type Loop struct {
	persona *persona.Persona
	deps    Deps
	opts    Options
	logger  *zap.Logger
	tick    string

	sleep func(ctx context.Context, d time.Duration) error
}

func NewLoop(p *persona.Persona, deps Deps, opts Options) *Loop {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = messagebus.Nop{}
	}
	if deps.Heartbeat == nil {
		deps.Heartbeat = stats.NewHeartbeat(nil, false, deps.Logger)
	}
	return &Loop{
		persona: p,
		deps:    deps,
		opts:    opts.withDefaults(),
		logger:  deps.Logger.With(zap.String("persona", p.BaseName)),
		sleep:   sleepContext,
	}
}

// Persona returns the active persona. Callers must not mutate it.
func (l *Loop) Persona() *persona.Persona {
	return l.persona
}

// Run sleeps a jittered interval, dispatches one action, and repeats until
// ctx is cancelled. Step failures are logged and never end the loop.
// Cancellation is a clean stop and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("starting loop",
		zap.String("lookup_name", l.persona.LookupName()),
		zap.Duration("min_interval", l.opts.MinInterval),
		zap.Duration("max_interval", l.opts.MaxInterval),
		zap.Int("post_weight", l.opts.PostWeight))

	l.ensureStats(ctx)
	for {
		if err := l.sleep(ctx, l.jitter()); err != nil {
			l.logger.Info("loop stopped", zap.Error(ctx.Err()))
			return nil
		}
		l.Tick(ctx)
		if ctx.Err() != nil {
			l.logger.Info("loop stopped", zap.Error(ctx.Err()))
			return nil
		}
	}
}

// Tick runs one dispatched action and returns the action taken.
func (l *Loop) Tick(ctx context.Context) string {
	action := l.selectAction()
	tickID := uuid.NewString()
	l.tick = tickID
	logger := l.logger.With(zap.String("tick", tickID), zap.String("path", action))

	ctx, span := telemetry.StartTick(ctx, action, l.persona.BaseName, l.persona.Version)
	defer span.End()

	l.ensureStats(ctx)

	start := time.Now()
	switch action {
	case ActionPost:
		l.post(ctx, logger, tickID)
	default:
		l.engage(ctx, logger, tickID)
	}
	elapsed := time.Since(start)

	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordTick(action, elapsed)
	}
	if l.deps.Pulse != nil {
		l.deps.Pulse.Beat()
	}
	telemetry.RecordTick(ctx, action, elapsed)
	return action
}

func (l *Loop) jitter() time.Duration {
	span := int64(l.opts.MaxInterval - l.opts.MinInterval)
	if span <= 0 {
		return l.opts.MinInterval
	}
	return l.opts.MinInterval + time.Duration(l.deps.Rand.Int64N(span))
}

func (l *Loop) selectAction() string {
	if l.deps.Rand.IntN(100) < l.opts.PostWeight {
		return ActionPost
	}
	return ActionEngage
}

func (l *Loop) post(ctx context.Context, logger *zap.Logger, tickID string) {
	text, err := l.complete(ctx, "post", func(ctx context.Context) (string, error) {
		return l.deps.Agent.GeneratePost(ctx, l.persona)
	})
	if err != nil {
		l.stepFailed(ctx, logger, ActionPost, "generate", err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	l.persona.AddRecentPost(text)

	callCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	postID, err := l.deps.Social.Publish(callCtx, text)
	cancel()
	if err != nil {
		l.stepFailed(ctx, logger, ActionPost, "publish", err)
	} else {
		logger.Info("published post", zap.Uint64("post_id", postID), zap.String("text", text))
		l.incStats(ctx, database.CounterPostsSent)
		if l.deps.Metrics != nil {
			l.deps.Metrics.PostsPublished.Inc()
		}
		l.emit(ctx, messages.TypePostPublished, messages.PostPublished(
			l.persona.BaseName, l.persona.Version, strconv.FormatUint(postID, 10), text, eventSource).WithCorrelation(tickID))
	}

	if l.persona.ShouldBranch() {
		l.branch(ctx, logger, tickID)
	}
}

func (l *Loop) branch(ctx context.Context, logger *zap.Logger, tickID string) {
	if ctx.Err() != nil {
		return
	}
	from := l.persona

	raw, err := l.complete(ctx, "branch", func(ctx context.Context) (string, error) {
		return l.deps.Agent.DraftBranch(ctx, from)
	})
	if err != nil {
		l.stepFailed(ctx, logger, ActionPost, "branch", err)
		l.countBranch("error")
		return
	}
	if ctx.Err() != nil {
		return
	}

	next, err := l.deps.Store.Save(from, raw)
	if err != nil {
		if errors.Is(err, persona.ErrParse) {
			logger.Warn("discarding malformed persona candidate", zap.String("step", "branch"), zap.Error(err))
			l.countBranch("malformed")
		} else {
			l.stepFailed(ctx, logger, ActionPost, "branch", err)
			l.countBranch("error")
		}
		return
	}

	l.persona = next
	l.countBranch("saved")
	logger.Info("branched persona",
		zap.Int("from_version", from.Version),
		zap.Int("to_version", next.Version),
		zap.String("lookup_name", next.LookupName()))
	if l.deps.Metrics != nil {
		l.deps.Metrics.PersonaVersion.WithLabelValues(next.BaseName).Set(float64(next.Version))
	}
	l.emit(ctx, messages.TypePersonaBranched, messages.PersonaBranched(
		next.BaseName, from.Version, next.Version, next.LookupName(), eventSource).WithCorrelation(tickID))
	l.ensureStats(ctx)
}

func (l *Loop) engage(ctx context.Context, logger *zap.Logger, tickID string) {
	callCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	mentions, err := l.deps.Tracker.Fetch(callCtx, l.deps.Social, l.opts.MentionLimit)
	cancel()
	if err != nil {
		l.stepFailed(ctx, logger, ActionEngage, "fetch", err)
		return
	}
	if len(mentions) == 0 {
		logger.Debug("no new mentions", zap.Uint64("watermark", l.deps.Tracker.Current()))
		return
	}

	current := l.deps.Tracker.Current()
	logger.Info("fetched mentions", zap.Int("count", len(mentions)), zap.Uint64("watermark", current))
	if l.deps.Metrics != nil {
		l.deps.Metrics.MentionsFetched.Add(float64(len(mentions)))
		l.deps.Metrics.Watermark.Set(float64(current))
	}
	l.incStatsBy(ctx, database.CounterMessagesRead, int64(len(mentions)))
	l.emit(ctx, messages.TypeMentionsFetched, messages.MentionsFetched(
		l.persona.BaseName, l.persona.Version, len(mentions), strconv.FormatUint(current, 10), eventSource).WithCorrelation(tickID))
	if ctx.Err() != nil {
		return
	}

	callCtx, cancel = context.WithTimeout(ctx, l.opts.CallTimeout)
	start := time.Now()
	selected, err := l.deps.Agent.SelectMention(callCtx, l.persona, mentions)
	cancel()
	l.recordProvider("select", err, time.Since(start))
	switch {
	case errors.Is(err, ErrParse), errors.Is(err, ErrUnknownMention):
		logger.Warn("skipping engagement, no usable selection", zap.Error(err))
		return
	case err != nil:
		l.stepFailed(ctx, logger, ActionEngage, "select", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	logger = logger.With(zap.Uint64("mention_id", selected.ID))

	l.remember(ctx, logger, selected.ID, selected.Text)

	reply, err := l.complete(ctx, "reply", func(ctx context.Context) (string, error) {
		return l.deps.Agent.GenerateReply(ctx, l.persona, selected.Text)
	})
	if err != nil {
		l.stepFailed(ctx, logger, ActionEngage, "generate", err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	callCtx, cancel = context.WithTimeout(ctx, l.opts.CallTimeout)
	replyID, err := l.deps.Social.Reply(callCtx, selected.ID, reply)
	cancel()
	if err != nil {
		l.stepFailed(ctx, logger, ActionEngage, "reply", err)
		return
	}

	logger.Info("sent reply", zap.Uint64("reply_id", replyID), zap.String("text", reply))
	l.incStats(ctx, database.CounterRepliesSent)
	if l.deps.Metrics != nil {
		l.deps.Metrics.RepliesSent.Inc()
	}
	l.emit(ctx, messages.TypeReplySent, messages.ReplySent(
		l.persona.BaseName, l.persona.Version,
		strconv.FormatUint(replyID, 10), strconv.FormatUint(selected.ID, 10), reply, eventSource).WithCorrelation(tickID))
}

// remember embeds and stores the mention text. Failures only log.
func (l *Loop) remember(ctx context.Context, logger *zap.Logger, id uint64, text string) {
	if l.deps.Embedder == nil || l.deps.Memory == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	vec, err := l.deps.Embedder.Embed(callCtx, text)
	l.recordProvider("embed", err, time.Since(start))
	if err != nil {
		l.stepFailed(ctx, logger, ActionEngage, "embed", err)
		return
	}
	if err := l.deps.Memory.StoreMemory(callCtx, database.MemoryID(id), text, vec); err != nil {
		l.stepFailed(ctx, logger, ActionEngage, "remember", err)
	}
}

// complete runs one provider call under the per-call timeout.
func (l *Loop) complete(ctx context.Context, kind string, call func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	out, err := call(callCtx)
	l.recordProvider(kind, err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("failed to complete %s: %w", kind, err)
	}
	return out, nil
}

func (l *Loop) recordProvider(kind string, err error, latency time.Duration) {
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordProviderRequest(kind, err == nil, latency)
	}
}

func (l *Loop) countBranch(result string) {
	if l.deps.Metrics != nil {
		l.deps.Metrics.Branches.WithLabelValues(result).Inc()
	}
}

func (l *Loop) stepFailed(ctx context.Context, logger *zap.Logger, path, step string, err error) {
	if ctx.Err() != nil {
		logger.Debug("step interrupted", zap.String("step", step), zap.Error(err))
		return
	}
	logger.Error("step failed", zap.String("step", step), zap.Error(err))
	spanError(ctx, err)
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordStepError(path, step)
	}

	event := messages.SystemError(eventSource, err.Error(), map[string]interface{}{
		"path": path,
		"step": step,
	}).WithCorrelation(l.tick)
	event.Persona = l.persona.BaseName
	event.Version = l.persona.Version
	event.EntityID = path + "." + step
	l.emit(ctx, messages.TypeSystemError, event)
}

func (l *Loop) ensureStats(ctx context.Context) {
	if !l.deps.Heartbeat.Enabled() {
		return
	}
	snapshot, err := l.persona.Serialize()
	if err != nil {
		l.logger.Error("failed to snapshot persona", zap.Error(err))
		return
	}
	// Heartbeat logs its own failures.
	_, _ = l.deps.Heartbeat.Ensure(ctx, l.persona.Version, snapshot)
}

func (l *Loop) incStats(ctx context.Context, counter database.Counter) {
	l.incStatsBy(ctx, counter, 1)
}

// incStatsBy bumps counter, creating the version record first when an
// earlier Ensure failed.
func (l *Loop) incStatsBy(ctx context.Context, counter database.Counter, delta int64) {
	err := l.deps.Heartbeat.Inc(ctx, l.persona.Version, counter, delta)
	if errors.Is(err, database.ErrNoRecord) {
		l.ensureStats(ctx)
		err = l.deps.Heartbeat.Inc(ctx, l.persona.Version, counter, delta)
	}
	if err != nil {
		l.logger.Warn("failed to update stats", zap.String("counter", string(counter)), zap.Error(err))
	}
}

func (l *Loop) emit(ctx context.Context, eventType string, event *messages.EventMessage) {
	if err := l.deps.Events.PublishEvent(ctx, eventType, event); err != nil {
		l.logger.Warn("failed to publish event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.EventsPublished.WithLabelValues(eventType).Inc()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// spanError marks span failed when err is set.
func spanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
