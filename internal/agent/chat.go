package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/jordanhubbard/arcfork/internal/persona"
)

// Chat drives the persona from a line-oriented console. "1" drafts a post,
// "2" branches the persona, and any other line is answered as a mention.
// Nothing is published.
type Chat struct {
	persona *persona.Persona
	store   *persona.Store
	agent   *Agent
	logger  *zap.Logger

	// Prompt is written before each line is read. Empty disables it.
	Prompt string
}

func NewChat(p *persona.Persona, store *persona.Store, agent *Agent, logger *zap.Logger) *Chat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chat{persona: p, store: store, agent: agent, logger: logger}
}

// Persona returns the active persona.
func (c *Chat) Persona() *persona.Persona {
	return c.persona
}

// Run reads commands from in until EOF, "exit" or cancellation.
func (c *Chat) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "Chatting as %s (%s). 1 = post, 2 = branch, exit = quit.\n", c.persona.Alias, c.persona.LookupName())

	for {
		if c.Prompt != "" {
			fmt.Fprint(out, c.Prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "1":
			text, err := c.agent.GeneratePost(ctx, c.persona)
			if err != nil {
				c.fail(out, "post", err)
				continue
			}
			c.persona.AddRecentPost(text)
			fmt.Fprintln(out, text)
		case "2":
			next, err := c.branch(ctx)
			if err != nil {
				c.fail(out, "branch", err)
				continue
			}
			fmt.Fprintf(out, "Branched to %s\n", next.LookupName())
		default:
			text, err := c.agent.GenerateReply(ctx, c.persona, line)
			if err != nil {
				c.fail(out, "reply", err)
				continue
			}
			fmt.Fprintln(out, text)
		}
	}
}

func (c *Chat) branch(ctx context.Context) (*persona.Persona, error) {
	raw, err := c.agent.DraftBranch(ctx, c.persona)
	if err != nil {
		return nil, err
	}
	next, err := c.store.Save(c.persona, raw)
	if err != nil {
		return nil, err
	}
	c.persona = next
	return next, nil
}

func (c *Chat) fail(out io.Writer, step string, err error) {
	c.logger.Warn("chat step failed", zap.String("step", step), zap.Error(err))
	if errors.Is(err, persona.ErrParse) {
		fmt.Fprintln(out, "The model returned an unusable persona; keeping the current one.")
		return
	}
	fmt.Fprintf(out, "error: %v\n", err)
}
