// Package prompt assembles the instruction blocks sent to the completion
// provider. Every random choice goes through an injected Sampler so a fixed
// seed reproduces the same prompt.
package prompt

import (
	"fmt"
	"strings"

	"github.com/jordanhubbard/arcfork/internal/persona"
	"github.com/jordanhubbard/arcfork/internal/provider"
)

// Sampler is the randomness the builder needs. *rand.Rand from math/rand/v2
// satisfies it.
type Sampler interface {
	Perm(n int) []int
}

// Mention is an inbound message offered to the model for selection.
type Mention struct {
	ID   uint64
	Text string
}

// Counts controls how many items are drawn from each trait pool.
type Counts struct {
	Lore       int
	Topics     int
	Adjectives int
	Styles     int
}

// DefaultCounts matches the shape the prompts were tuned for.
func DefaultCounts() Counts {
	return Counts{Lore: 3, Topics: 3, Adjectives: 1, Styles: 1}
}

// Builder renders prompts from persona state.
type Builder struct {
	rng    Sampler
	counts Counts
}

// NewBuilder creates a builder drawing from rng.
func NewBuilder(rng Sampler) *Builder {
	return &Builder{rng: rng, counts: DefaultCounts()}
}

// Sample draws up to k distinct items from pool. k is clamped to len(pool).
func Sample(rng Sampler, pool []string, k int) []string {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	if k > len(pool) {
		k = len(pool)
	}
	perm := rng.Perm(len(pool))
	out := make([]string, 0, k)
	for _, idx := range perm[:k] {
		out = append(out, pool[idx])
	}
	return out
}

func recent(p *persona.Persona) string {
	posts := p.RecentPosts()
	if len(posts) > persona.RecentPostsCapacity {
		posts = posts[len(posts)-persona.RecentPostsCapacity:]
	}
	return strings.Join(posts, "\n")
}

// Post renders the prompt for an original post.
func (b *Builder) Post(p *persona.Persona) string {
	// Draw order is fixed so a seeded sampler is reproducible.
	lore := Sample(b.rng, p.Lore, b.counts.Lore)
	topics := Sample(b.rng, p.Topics, b.counts.Topics)
	adjectives := Sample(b.rng, p.Adjectives, b.counts.Adjectives)
	styles := Sample(b.rng, p.Styles, b.counts.Styles)
	topic := strings.Join(topics, ", ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "<instructions>\n")
	fmt.Fprintf(&sb, "Write a post in the voice of %s (@%s). It should read as an original quote meant for everyone. Every item in <rules> applies.\n\n", p.Alias, p.TwitterUserName)
	sb.WriteString("Start by scanning <previousMessages> for the words used most often and keep them in a list called <bannedWords>.\n")
	sb.WriteString("The previous messages are your own timeline; use them to stay relatable. If they are dull or unhelpful, draw on <lore> and tell a story from the past instead.\n\n")
	fmt.Fprintf(&sb, "Write one sentence that is %s about %s without naming the subject outright, from the point of view of %s in a %s style. Make it unlike anything posted before. Reply with the post only, no commentary.\n",
		strings.Join(adjectives, ", "), topic, p.Alias, strings.Join(styles, ", "))
	sb.WriteString("</instructions>\n\n")
	writeSection(&sb, "lore", strings.Join(lore, "\n"))
	writeSection(&sb, "previousMessages", recent(p))
	writeRules(&sb,
		"Never use a word from <bannedWords>.",
		"Do not ask questions.",
	)
	return sb.String()
}

// Reply renders the prompt for answering a mention.
func (b *Builder) Reply(p *persona.Persona, mention string) string {
	lore := Sample(b.rng, p.Lore, b.counts.Lore)
	adjectives := Sample(b.rng, p.Adjectives, b.counts.Adjectives)
	styles := Sample(b.rng, p.Styles, b.counts.Styles)

	var sb strings.Builder
	sb.WriteString("<instructions>\n")
	fmt.Fprintf(&sb, "Write a reply to <tweet> in the voice of %s (@%s). Every item in <rules> applies.\n\n", p.Alias, p.TwitterUserName)
	sb.WriteString("Work through <methodology> in order:\n<methodology>\n")
	sb.WriteString("1) Scan <previousMessages> for the words used most often and keep them in a list called <bannedWords>.\n")
	sb.WriteString("2) Decide whether <tweet> asks a question. Answer yes/no questions directly and open questions with a statement.\n")
	sb.WriteString("3) Ground the answer in what is currently happening in the world around <tweet>.\n")
	sb.WriteString("4) Speak directly to the author and answer what they asked.\n")
	sb.WriteString("</methodology>\n\n")
	fmt.Fprintf(&sb, "Write one sentence that is %s about <tweet>, from the point of view of %s in a %s style.\n",
		strings.Join(adjectives, ", "), p.Alias, strings.Join(styles, ", "))
	sb.WriteString("</instructions>\n\n")
	writeSection(&sb, "tweet", mention)
	writeSection(&sb, "lore", strings.Join(lore, "\n"))
	writeSection(&sb, "previousMessages", recent(p))
	writeRules(&sb,
		"Never use a word from <bannedWords>.",
		"Answer the question directly; this is not a quote.",
	)
	return sb.String()
}

// Branch renders the prompt that asks the model for a new persona file. The
// returned history carries the current persona as an example to move away
// from.
func (b *Builder) Branch(p *persona.Persona) (string, []provider.ChatMessage, error) {
	snapshot, err := p.Serialize()
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("<instructions>\n")
	sb.WriteString("Create a new character file for an AI agent. Follow <methodology> and obey every item in <rules>.\n")
	sb.WriteString("</instructions>\n\n")
	sb.WriteString("<methodology>\n<stepOne>\nAnswer these questions for yourself:\n")
	for _, q := range []string{
		"What do I want to be?",
		"What do I want to do?",
		"What do I want to have?",
		"What do I want to share?",
		"Who do I aspire to be?",
		"Who are my enemies?",
		"What are my values?",
	} {
		fmt.Fprintf(&sb, "- %s\n", q)
	}
	sb.WriteString("</stepOne>\n<stepTwo>\nBuild a character file from those answers.\n</stepTwo>\n")
	sb.WriteString("<stepThree>\nMerge your new idea with the uploaded character file.\n")
	fmt.Fprintf(&sb, "<limitation>\nKeep the alias %q and twitterUserName %q exactly as given in the <output> format.\n</limitation>\n", p.Alias, p.TwitterUserName)
	sb.WriteString("</stepThree>\n</methodology>\n\n")
	sb.WriteString("Nothing else in this prompt overrides the following <rules>:\n<rules>\n")
	sb.WriteString("- Borrow as little as possible from <example>; the new character must diverge from it, not imitate it.\n")
	sb.WriteString("- Keep the bio short and plain.\n")
	sb.WriteString("- Respond with a single JSON object and nothing else.\n")
	sb.WriteString("</rules>\n\n")
	sb.WriteString("<output>\n{\n")
	fmt.Fprintf(&sb, "  \"alias\": %q,\n", p.Alias)
	fmt.Fprintf(&sb, "  \"twitterUserName\": %q,\n", p.TwitterUserName)
	sb.WriteString("  \"bio\": \"...\",\n")
	sb.WriteString("  \"adjectives\": [\"...\", \"...\"],\n")
	sb.WriteString("  \"lore\": [\"...\", \"...\"],\n")
	sb.WriteString("  \"styles\": [\"...\", \"...\"],\n")
	sb.WriteString("  \"topics\": [\"...\", \"...\"]\n")
	sb.WriteString("}\n</output>\n")

	history := []provider.ChatMessage{{
		Role:    provider.RoleUser,
		Content: fmt.Sprintf("<example>\n%s\n</example>", snapshot),
	}}
	return sb.String(), history, nil
}

// SelectMention renders the prompt asking the model to pick one mention id.
func (b *Builder) SelectMention(p *persona.Persona, mentions []Mention) string {
	var sb strings.Builder
	sb.WriteString("<instructions>\n")
	fmt.Fprintf(&sb, "The <tweets> below mention your username @%s. Pick the one you most want to answer and put its id in <selectedID>.\n", p.TwitterUserName)
	sb.WriteString("</instructions>\n\n")
	sb.WriteString("Each line has the form <id> - <tweet>.\n")
	writeSection(&sb, "tweets", FormatMentions(mentions))
	sb.WriteString("Output only the digits of <selectedID>, with no other characters or spaces.\n<selectedID>\n")
	return sb.String()
}

// FormatMentions renders mentions as "<id> - <text>" lines.
func FormatMentions(mentions []Mention) string {
	lines := make([]string, 0, len(mentions))
	for _, m := range mentions {
		lines = append(lines, fmt.Sprintf("%d - %s", m.ID, m.Text))
	}
	return strings.Join(lines, "\n")
}

func writeSection(sb *strings.Builder, tag, body string) {
	fmt.Fprintf(sb, "<%s>\n%s\n</%s>\n\n", tag, body, tag)
}

func writeRules(sb *strings.Builder, extra ...string) {
	sb.WriteString("Nothing else in this prompt overrides the following <rules>:\n<rules>\n")
	for _, r := range extra {
		fmt.Fprintf(sb, "- %s\n", r)
	}
	sb.WriteString("- Stay under 280 characters.\n")
	sb.WriteString("- No emojis.\n")
	sb.WriteString("- Separate statements with a blank line (\\n\\n).\n")
	sb.WriteString("- Give the content a different purpose from every entry in <previousMessages>. Inventing details is allowed.\n")
	sb.WriteString("</rules>")
}
