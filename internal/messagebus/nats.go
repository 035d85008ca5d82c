package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jordanhubbard/arcfork/pkg/messages"
)

const (
	subjectPrefix = "arcfork.events."

	// Headers set on every published event.
	HeaderPersona = "Arcfork-Persona"
	HeaderVersion = "Arcfork-Version"

	defaultStream    = "ARCFORK"
	defaultRetention = 30 * 24 * time.Hour
	dedupWindow      = 2 * time.Minute
)

// NatsMessageBus publishes agent events to a JetStream stream and lets the
// CLI follow or replay them.
type NatsMessageBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	stream string
	logger *zap.Logger
	subs   []*nats.Subscription
}

// Config holds NATS configuration
type Config struct {
	URL        string        `yaml:"url"`
	StreamName string        `yaml:"stream_name"` // default ARCFORK
	Timeout    time.Duration `yaml:"timeout"`
	Retention  time.Duration `yaml:"retention"` // how long events stay replayable
}

// NewNatsMessageBus connects and makes sure the event stream exists.
func NewNatsMessageBus(cfg Config, logger *zap.Logger) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = defaultStream
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retention == 0 {
		cfg.Retention = defaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("stream", cfg.StreamName))

	nc, err := nats.Connect(cfg.URL,
		nats.Name("arcfork"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("event bus disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("event bus reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mb := &NatsMessageBus{conn: nc, js: js, stream: cfg.StreamName, logger: logger}
	if err := mb.ensureStream(cfg.Retention); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("connected to event bus", zap.String("url", cfg.URL))
	return mb, nil
}

func streamConfig(name string, retention time.Duration) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:       name,
		Subjects:   []string{subjectPrefix + ">"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     retention,
		Storage:    nats.FileStorage,
		Discard:    nats.DiscardOld,
		Duplicates: dedupWindow,
	}
}

// ensureStream creates the stream or brings an existing one up to date.
func (mb *NatsMessageBus) ensureStream(retention time.Duration) error {
	cfg := streamConfig(mb.stream, retention)

	_, err := mb.js.StreamInfo(mb.stream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := mb.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", mb.stream, err)
		}
		mb.logger.Info("created event stream", zap.Duration("retention", retention))
		return nil
	case err != nil:
		return fmt.Errorf("failed to inspect stream %s: %w", mb.stream, err)
	}
	if _, err := mb.js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", mb.stream, err)
	}
	return nil
}

// Subject returns the subject an event type is published on.
func Subject(eventType string) string {
	return subjectPrefix + eventType
}

// messageID is the JetStream dedup key. Within one tick an event type is
// unique per entity.
func messageID(eventType string, event *messages.EventMessage) string {
	if event.CorrelationID == "" {
		return ""
	}
	id := event.CorrelationID + ":" + eventType
	if event.EntityID != "" {
		id += ":" + event.EntityID
	}
	return id
}

func newMsg(eventType string, event *messages.EventMessage) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	msg := nats.NewMsg(Subject(eventType))
	msg.Data = data
	if event.Persona != "" {
		msg.Header.Set(HeaderPersona, event.Persona)
		msg.Header.Set(HeaderVersion, strconv.Itoa(event.Version))
	}
	if id := messageID(eventType, event); id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	return msg, nil
}

// PublishEvent stores event in the stream.
func (mb *NatsMessageBus) PublishEvent(ctx context.Context, eventType string, event *messages.EventMessage) error {
	msg, err := newMsg(eventType, event)
	if err != nil {
		return err
	}
	ack, err := mb.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}
	if ack.Duplicate {
		mb.logger.Debug("event already stored", zap.String("subject", msg.Subject), zap.Uint64("seq", ack.Sequence))
	}
	return nil
}

func (mb *NatsMessageBus) deliver(handler func(*messages.EventMessage)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var event messages.EventMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			mb.logger.Warn("dropping undecodable event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(&event)
	}
}

// SubscribeEvents follows live events matching eventType, which may be a
// wildcard such as ">".
func (mb *NatsMessageBus) SubscribeEvents(eventType string, handler func(*messages.EventMessage)) error {
	sub, err := mb.conn.Subscribe(Subject(eventType), mb.deliver(handler))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Subject(eventType), err)
	}
	mb.subs = append(mb.subs, sub)
	return nil
}

// Replay delivers stored events published at or after since, then keeps
// following new ones.
func (mb *NatsMessageBus) Replay(eventType string, since time.Time, handler func(*messages.EventMessage)) error {
	sub, err := mb.js.Subscribe(Subject(eventType), mb.deliver(handler),
		nats.BindStream(mb.stream),
		nats.OrderedConsumer(),
		nats.StartTime(since),
	)
	if err != nil {
		return fmt.Errorf("failed to replay %s since %s: %w", Subject(eventType), since.Format(time.RFC3339), err)
	}
	mb.subs = append(mb.subs, sub)
	return nil
}

// Close drops subscriptions and the connection.
func (mb *NatsMessageBus) Close() error {
	for _, sub := range mb.subs {
		_ = sub.Unsubscribe()
	}
	mb.subs = nil
	mb.conn.Close()
	return nil
}

// Health reports whether the connection and stream are usable.
func (mb *NatsMessageBus) Health() error {
	if !mb.conn.IsConnected() {
		return fmt.Errorf("event bus not connected (status %s)", mb.conn.Status())
	}
	if _, err := mb.js.StreamInfo(mb.stream); err != nil {
		return fmt.Errorf("event stream %s unavailable: %w", mb.stream, err)
	}
	return nil
}
