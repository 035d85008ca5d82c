// Package agent runs the persona: it generates posts and replies through a
// completion provider, publishes them, and periodically branches the persona
// into a new version.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jordanhubbard/arcfork/internal/persona"
	"github.com/jordanhubbard/arcfork/internal/prompt"
	"github.com/jordanhubbard/arcfork/internal/provider"
	"github.com/jordanhubbard/arcfork/internal/social"
)

var (
	// ErrParse is returned when model output that must be structured data
	// does not parse.
	ErrParse = errors.New("unparseable model output")
	// ErrUnknownMention is returned when the model picks an id outside the batch.
	ErrUnknownMention = errors.New("selected mention not in batch")

	selectionTag = regexp.MustCompile(`</?selectedID>`)
)

// Completer turns a prompt plus prior messages into text.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []provider.ChatMessage) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SocialClient is the platform surface the loop uses.
type SocialClient interface {
	FetchMentions(ctx context.Context, sinceID uint64, limit int) ([]social.Mention, error)
	Publish(ctx context.Context, text string) (uint64, error)
	Reply(ctx context.Context, targetID uint64, text string) (uint64, error)
}

// Agent generates text for a persona. It holds no persona state.
type Agent struct {
	completer Completer
	builder   *prompt.Builder
}

func NewAgent(completer Completer, builder *prompt.Builder) *Agent {
	return &Agent{completer: completer, builder: builder}
}

// preamble puts the persona bio in front of every request.
func preamble(p *persona.Persona) []provider.ChatMessage {
	return []provider.ChatMessage{{Role: provider.RoleSystem, Content: p.Bio}}
}

// GeneratePost writes an original post.
func (a *Agent) GeneratePost(ctx context.Context, p *persona.Persona) (string, error) {
	return a.completer.Complete(ctx, a.builder.Post(p), preamble(p))
}

// GenerateReply writes a reply to text.
func (a *Agent) GenerateReply(ctx context.Context, p *persona.Persona, text string) (string, error) {
	return a.completer.Complete(ctx, a.builder.Reply(p, text), preamble(p))
}

// DraftBranch asks the model for the next persona definition. The raw
// output is returned for the persona store to decode.
func (a *Agent) DraftBranch(ctx context.Context, p *persona.Persona) (string, error) {
	instructions, history, err := a.builder.Branch(p)
	if err != nil {
		return "", err
	}
	return a.completer.Complete(ctx, instructions, append(preamble(p), history...))
}

// SelectMention asks the model which mention to answer.
func (a *Agent) SelectMention(ctx context.Context, p *persona.Persona, mentions []social.Mention) (social.Mention, error) {
	batch := make([]prompt.Mention, 0, len(mentions))
	for _, m := range mentions {
		batch = append(batch, prompt.Mention{ID: m.ID, Text: m.Text})
	}

	raw, err := a.completer.Complete(ctx, a.builder.SelectMention(p, batch), preamble(p))
	if err != nil {
		return social.Mention{}, err
	}
	id, err := ParseSelection(raw)
	if err != nil {
		return social.Mention{}, err
	}
	for _, m := range mentions {
		if m.ID == id {
			return m, nil
		}
	}
	return social.Mention{}, fmt.Errorf("%w: %d", ErrUnknownMention, id)
}

// ParseSelection reads a mention id from model output. The output must be
// the digits alone, optionally wrapped in selectedID tags, quotes or
// backticks.
func ParseSelection(raw string) (uint64, error) {
	text := selectionTag.ReplaceAllString(raw, "")
	text = strings.Trim(strings.TrimSpace(text), "\"'`")
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: empty selection", ErrParse)
	}
	id, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: selection %q is not an id", ErrParse, raw)
	}
	return id, nil
}
