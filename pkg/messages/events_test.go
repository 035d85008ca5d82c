package messages

import (
	"encoding/json"
	"testing"
)

func TestPostPublished(t *testing.T) {
	msg := PostPublished("nova", 3, "555", "hello", "loop")

	if msg.Type != "post.published" {
		t.Errorf("got type %q", msg.Type)
	}
	if msg.Persona != "nova" || msg.Version != 3 {
		t.Errorf("got persona %q v%d", msg.Persona, msg.Version)
	}
	if msg.EntityID != "555" {
		t.Errorf("got entity %q", msg.EntityID)
	}
	if msg.Event.Category != "post" {
		t.Errorf("got category %q", msg.Event.Category)
	}
	if msg.Event.Data["text"] != "hello" {
		t.Error("text not preserved")
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestReplySent(t *testing.T) {
	msg := ReplySent("nova", 1, "600", "42", "hi back", "loop")

	if msg.Type != TypeReplySent {
		t.Errorf("got type %q", msg.Type)
	}
	if msg.Event.Data["in_reply_to"] != "42" {
		t.Errorf("got in_reply_to %v", msg.Event.Data["in_reply_to"])
	}
}

func TestPersonaBranched(t *testing.T) {
	msg := PersonaBranched("nova", 3, 4, "nova.v4", "loop").WithCorrelation("tick-1")

	if msg.Version != 4 {
		t.Errorf("got version %d", msg.Version)
	}
	if msg.Event.Data["from_version"] != 3 {
		t.Errorf("got from_version %v", msg.Event.Data["from_version"])
	}
	if msg.CorrelationID != "tick-1" {
		t.Errorf("got correlation %q", msg.CorrelationID)
	}
}

func TestMentionsFetched_JSON(t *testing.T) {
	msg := MentionsFetched("nova", 2, 5, "1800000000000000005", "loop")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded EventMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeMentionsFetched {
		t.Errorf("got type %q", decoded.Type)
	}
	// Watermarks travel as strings so JSON numbers keep full precision.
	if decoded.Event.Data["watermark"] != "1800000000000000005" {
		t.Errorf("got watermark %v", decoded.Event.Data["watermark"])
	}
}

func TestSystemError(t *testing.T) {
	msg := SystemError("loop", "publish failed", nil)
	if msg.Event.Action != "error" || msg.Event.Description != "publish failed" {
		t.Errorf("unexpected event data %+v", msg.Event)
	}
}
