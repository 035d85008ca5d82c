package messages

import "time"

// Event types published by the agent.
const (
	TypePostPublished   = "post.published"
	TypeReplySent       = "reply.sent"
	TypeMentionsFetched = "mentions.fetched"
	TypePersonaBranched = "persona.branched"
	TypeSystemError     = "system.error"
)

// EventMessage represents an agent event sent via NATS
type EventMessage struct {
	Type          string                 `json:"type"`   // "post.published", "reply.sent", "persona.branched", etc.
	Source        string                 `json:"source"` // Component that generated the event
	Persona       string                 `json:"persona,omitempty"`
	Version       int                    `json:"version,omitempty"`
	EntityID      string                 `json:"entity_id,omitempty"` // Post ID, mention ID, lookup name
	Event         EventData              `json:"event"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// EventData contains the event-specific information
type EventData struct {
	Action      string                 `json:"action"`   // "published", "sent", "fetched", "branched", "error"
	Category    string                 `json:"category"` // "post", "reply", "mention", "persona", "system"
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// WithCorrelation sets the correlation id and returns the message.
func (e *EventMessage) WithCorrelation(id string) *EventMessage {
	e.CorrelationID = id
	return e
}

// PostPublished creates a post.published event
func PostPublished(persona string, version int, postID, text, source string) *EventMessage {
	return &EventMessage{
		Type:     TypePostPublished,
		Source:   source,
		Persona:  persona,
		Version:  version,
		EntityID: postID,
		Event: EventData{
			Action:   "published",
			Category: "post",
			Data:     map[string]interface{}{"text": text},
		},
		Timestamp: time.Now(),
	}
}

// ReplySent creates a reply.sent event
func ReplySent(persona string, version int, replyID, mentionID, text, source string) *EventMessage {
	return &EventMessage{
		Type:     TypeReplySent,
		Source:   source,
		Persona:  persona,
		Version:  version,
		EntityID: replyID,
		Event: EventData{
			Action:   "sent",
			Category: "reply",
			Data: map[string]interface{}{
				"in_reply_to": mentionID,
				"text":        text,
			},
		},
		Timestamp: time.Now(),
	}
}

// MentionsFetched creates a mentions.fetched event
func MentionsFetched(persona string, version, count int, watermark, source string) *EventMessage {
	return &EventMessage{
		Type:    TypeMentionsFetched,
		Source:  source,
		Persona: persona,
		Version: version,
		Event: EventData{
			Action:   "fetched",
			Category: "mention",
			Data: map[string]interface{}{
				"count":     count,
				"watermark": watermark,
			},
		},
		Timestamp: time.Now(),
	}
}

// PersonaBranched creates a persona.branched event
func PersonaBranched(persona string, fromVersion, toVersion int, lookupName, source string) *EventMessage {
	return &EventMessage{
		Type:     TypePersonaBranched,
		Source:   source,
		Persona:  persona,
		Version:  toVersion,
		EntityID: lookupName,
		Event: EventData{
			Action:   "branched",
			Category: "persona",
			Data:     map[string]interface{}{"from_version": fromVersion},
		},
		Timestamp: time.Now(),
	}
}

// SystemError creates a system.error event
func SystemError(source, description string, data map[string]interface{}) *EventMessage {
	return &EventMessage{
		Type:   TypeSystemError,
		Source: source,
		Event: EventData{
			Action:      "error",
			Category:    "system",
			Description: description,
			Data:        data,
		},
		Timestamp: time.Now(),
	}
}
