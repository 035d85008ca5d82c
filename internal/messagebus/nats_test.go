package messagebus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/arcfork/pkg/messages"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		eventType, want string
	}{
		{"post.published", "arcfork.events.post.published"},
		{"reply.sent", "arcfork.events.reply.sent"},
		{">", "arcfork.events.>"},
	}

	for _, tc := range tests {
		if got := Subject(tc.eventType); got != tc.want {
			t.Errorf("Subject(%q) = %q, want %q", tc.eventType, got, tc.want)
		}
	}
}

func TestNewNatsMessageBus_BadURL(t *testing.T) {
	_, err := NewNatsMessageBus(Config{
		URL:     "nats://nonexistent-host:99999",
		Timeout: 500 * time.Millisecond,
	}, nil)
	if err == nil {
		t.Error("expected error connecting to nonexistent NATS")
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).PublishEvent(context.Background(), "x", messages.SystemError("t", "d", nil)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_ = r.PublishEvent(context.Background(), messages.TypePostPublished, messages.PostPublished("nova", 1, "1", "hi", "t"))
	_ = r.PublishEvent(context.Background(), messages.TypeReplySent, messages.ReplySent("nova", 1, "2", "1", "yo", "t"))

	got := r.Types()
	if len(got) != 2 || got[0] != "post.published" || got[1] != "reply.sent" {
		t.Errorf("got types %v", got)
	}
}

func TestNewMsg_Headers(t *testing.T) {
	event := messages.PostPublished("nova", 3, "1001", "hello", "loop").WithCorrelation("tick-1")

	msg, err := newMsg(messages.TypePostPublished, event)
	if err != nil {
		t.Fatalf("newMsg: %v", err)
	}
	if msg.Subject != "arcfork.events.post.published" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if got := msg.Header.Get(HeaderPersona); got != "nova" {
		t.Errorf("persona header = %q", got)
	}
	if got := msg.Header.Get(HeaderVersion); got != "3" {
		t.Errorf("version header = %q", got)
	}
	if got := msg.Header.Get(nats.MsgIdHdr); got != "tick-1:post.published:1001" {
		t.Errorf("msg id = %q", got)
	}

	var decoded messages.EventMessage
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if decoded.Persona != "nova" || decoded.CorrelationID != "tick-1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestNewMsg_NoCorrelation(t *testing.T) {
	msg, err := newMsg(messages.TypeSystemError, messages.SystemError("loop", "boom", nil))
	if err != nil {
		t.Fatalf("newMsg: %v", err)
	}
	if got := msg.Header.Get(nats.MsgIdHdr); got != "" {
		t.Errorf("uncorrelated events must not be deduplicated, got id %q", got)
	}
	if got := msg.Header.Get(HeaderPersona); got != "" {
		t.Errorf("persona header = %q", got)
	}
}

func TestStreamConfig(t *testing.T) {
	cfg := streamConfig("ARCFORK", 24*time.Hour)
	if len(cfg.Subjects) != 1 || cfg.Subjects[0] != "arcfork.events.>" {
		t.Errorf("subjects = %v", cfg.Subjects)
	}
	if cfg.MaxAge != 24*time.Hour {
		t.Errorf("max age = %v", cfg.MaxAge)
	}
	if cfg.Duplicates != dedupWindow {
		t.Errorf("duplicates window = %v", cfg.Duplicates)
	}
}
