package persona

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() Definition {
	return Definition{
		Alias:           "Nova",
		TwitterUserName: "nova_ai",
		Bio:             "A wandering signal from the outer rim.",
		Adjectives:      []string{"wry", "curious"},
		Lore:            []string{"born in a dead satellite", "counts stars for fun"},
		Styles:          []string{"terse"},
		Topics:          []string{"space", "entropy", "tea"},
	}
}

func TestAddRecentPost_FIFO(t *testing.T) {
	p := New("nova", testDefinition(), 0)

	for i := 1; i <= 12; i++ {
		p.AddRecentPost(fmt.Sprintf("post-%d", i))
		assert.LessOrEqual(t, len(p.RecentPosts()), RecentPostsCapacity)
	}

	assert.Equal(t, []string{"post-8", "post-9", "post-10", "post-11", "post-12"}, p.RecentPosts())
}

func TestAddRecentPost_BelowCapacity(t *testing.T) {
	p := New("nova", testDefinition(), 0)
	p.AddRecentPost("a")
	p.AddRecentPost("b")

	assert.Equal(t, []string{"a", "b"}, p.RecentPosts())
}

func TestRecentPosts_ReturnsCopy(t *testing.T) {
	p := New("nova", testDefinition(), 0)
	p.AddRecentPost("a")

	posts := p.RecentPosts()
	posts[0] = "mutated"

	assert.Equal(t, []string{"a"}, p.RecentPosts())
}

func TestShouldBranch_EveryNth(t *testing.T) {
	testCases := []struct {
		name      string
		threshold int
		expected  int
	}{
		{"default", 0, DefaultBranchEvery},
		{"three", 3, 3},
		{"one", 1, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := New("nova", testDefinition(), tc.threshold)
			for call := 1; call <= tc.expected*4; call++ {
				fired := p.ShouldBranch()
				if call%tc.expected == 0 {
					assert.True(t, fired, "call %d should fire", call)
					assert.Equal(t, 0, p.PostsSinceBranch)
				} else {
					assert.False(t, fired, "call %d should not fire", call)
					assert.Equal(t, call%tc.expected, p.PostsSinceBranch)
				}
			}
		})
	}
}

func TestShouldBranch_FromFour(t *testing.T) {
	p := New("nova", testDefinition(), 5)
	p.PostsSinceBranch = 4

	assert.True(t, p.ShouldBranch())
	assert.Equal(t, 0, p.PostsSinceBranch)
}

func TestSerialize_ExcludesLineage(t *testing.T) {
	p := New("nova", testDefinition(), 0)
	p.Version = 7
	p.PostsSinceBranch = 3
	p.AddRecentPost("hello")

	out, err := p.Serialize()
	require.NoError(t, err)

	assert.Contains(t, out, `"twitterUserName": "nova_ai"`)
	assert.Contains(t, out, `"topics"`)
	assert.NotContains(t, out, "BaseName")
	assert.NotContains(t, out, "Version")
	assert.NotContains(t, out, "hello")
}

func TestLookupName(t *testing.T) {
	p := New("nova", testDefinition(), 0)
	assert.Equal(t, "nova", p.LookupName())

	p.Version = 4
	assert.Equal(t, "nova.v4", p.LookupName())
}
