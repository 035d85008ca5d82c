package messagebus

import (
	"context"

	"github.com/jordanhubbard/arcfork/pkg/messages"
)

// EventPublisher abstracts event publishing for testability.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, event *messages.EventMessage) error
}

// EventSubscriber abstracts event subscription for testability.
type EventSubscriber interface {
	SubscribeEvents(eventType string, handler func(*messages.EventMessage)) error
}

// Nop discards every event. It is used when no bus is configured.
type Nop struct{}

func (Nop) PublishEvent(ctx context.Context, eventType string, event *messages.EventMessage) error {
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	Events []*messages.EventMessage
}

func (r *Recorder) PublishEvent(ctx context.Context, eventType string, event *messages.EventMessage) error {
	r.Events = append(r.Events, event)
	return nil
}

// Types returns the type of each recorded event in order.
func (r *Recorder) Types() []string {
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}

// Verify implementations at compile time.
var (
	_ EventPublisher  = (*NatsMessageBus)(nil)
	_ EventSubscriber = (*NatsMessageBus)(nil)
	_ EventPublisher  = Nop{}
	_ EventPublisher  = (*Recorder)(nil)
)
