// Package persona holds the versioned character definition that drives
// every generated post, and the file-backed store that loads and branches it.
package persona

import (
	"encoding/json"
	"fmt"
)

const (
	// RecentPostsCapacity bounds the recent-posts FIFO.
	RecentPostsCapacity = 5

	// DefaultBranchEvery is the number of post cycles between branches.
	DefaultBranchEvery = 5
)

// Definition is the serialized shape of a persona file. Lineage metadata is
// never part of it.
type Definition struct {
	Alias           string   `json:"alias"`
	TwitterUserName string   `json:"twitterUserName"`
	Bio             string   `json:"bio"`
	Adjectives      []string `json:"adjectives"`
	Lore            []string `json:"lore"`
	Styles          []string `json:"styles"`
	Topics          []string `json:"topics"`
}

// Persona is a Definition plus the lineage state reconstructed on load.
type Persona struct {
	Definition

	BaseName         string
	Version          int
	PostsSinceBranch int

	name        string
	recentPosts []string
	branchEvery int
}

// New wraps def as version 1 of baseName.
func New(baseName string, def Definition, branchEvery int) *Persona {
	if branchEvery <= 0 {
		branchEvery = DefaultBranchEvery
	}
	return &Persona{
		Definition:  def,
		BaseName:    baseName,
		Version:     1,
		branchEvery: branchEvery,
	}
}

// LookupName returns the name this version is stored under: the name it
// was loaded or saved as, else the canonical name for its version.
func (p *Persona) LookupName() string {
	if p.name != "" {
		return p.name
	}
	if p.Version <= 1 {
		return p.BaseName
	}
	return VersionedName(p.BaseName, p.Version)
}

// BranchEvery returns the configured branch threshold.
func (p *Persona) BranchEvery() int {
	return p.branchEvery
}

// Serialize renders the externally visible fields as indented JSON.
func (p *Persona) Serialize() (string, error) {
	data, err := json.MarshalIndent(p.Definition, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize persona %s: %w", p.LookupName(), err)
	}
	return string(data), nil
}

// AddRecentPost appends text, evicting the oldest entry past capacity.
func (p *Persona) AddRecentPost(text string) {
	p.recentPosts = append(p.recentPosts, text)
	if over := len(p.recentPosts) - RecentPostsCapacity; over > 0 {
		p.recentPosts = append([]string(nil), p.recentPosts[over:]...)
	}
}

// RecentPosts returns a copy of the FIFO, oldest first.
func (p *Persona) RecentPosts() []string {
	out := make([]string, len(p.recentPosts))
	copy(out, p.recentPosts)
	return out
}

// ShouldBranch counts one post cycle and reports whether the threshold was
// reached. The counter resets to zero when it fires.
func (p *Persona) ShouldBranch() bool {
	threshold := p.branchEvery
	if threshold <= 0 {
		threshold = DefaultBranchEvery
	}
	p.PostsSinceBranch++
	if p.PostsSinceBranch >= threshold {
		p.PostsSinceBranch = 0
		return true
	}
	return false
}
