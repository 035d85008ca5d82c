// Package social is a minimal Twitter/X v2 client covering the calls the
// agent makes: identity lookup, mention polling, posting and replying.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dghubble/oauth1"
)

// DefaultBaseURL is the public v2 API root.
const DefaultBaseURL = "https://api.twitter.com/2"

// ErrSocial wraps every failure reported by the platform.
var ErrSocial = errors.New("social client error")

// Credentials are the OAuth 1.0a user-context keys.
type Credentials struct {
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	AccessToken    string `yaml:"access_token"`
	AccessSecret   string `yaml:"access_secret"`
}

// Mention is an inbound post that references the account.
type Mention struct {
	ID   uint64
	Text string
}

// User is the authenticated account.
type User struct {
	ID       uint64
	Username string
	Name     string
}

// Client talks to the v2 API with OAuth 1.0a request signing.
type Client struct {
	baseURL string
	http    *http.Client
	userID  uint64
}

// NewClient creates a client signing requests with creds. base supplies the
// underlying transport; nil uses http.DefaultClient.
func NewClient(baseURL string, creds Credentials, base *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if base == nil {
		base = http.DefaultClient
	}
	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, base)
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    config.Client(ctx, token),
	}
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Me resolves the authenticated user and remembers its id for mention lookups.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &resp); err != nil {
		return User{}, err
	}
	id, err := strconv.ParseUint(resp.Data.ID, 10, 64)
	if err != nil {
		return User{}, fmt.Errorf("%w: invalid user id %q", ErrSocial, resp.Data.ID)
	}
	c.userID = id
	return User{ID: id, Username: resp.Data.Username, Name: resp.Data.Name}, nil
}

// FetchMentions returns mentions newer than sinceID. The API floor of 5
// results applies, so callers wanting fewer trim the batch. A zero sinceID
// fetches the most recent mentions.
func (c *Client) FetchMentions(ctx context.Context, sinceID uint64, limit int) ([]Mention, error) {
	if c.userID == 0 {
		return nil, fmt.Errorf("%w: user id unknown, call Me first", ErrSocial)
	}
	// The API rejects max_results outside [5, 100].
	limit = min(max(limit, 5), 100)

	q := url.Values{}
	q.Set("max_results", strconv.Itoa(limit))
	if sinceID > 0 {
		q.Set("since_id", strconv.FormatUint(sinceID, 10))
	}

	var resp struct {
		Data []struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/users/%d/mentions?%s", c.userID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	mentions := make([]Mention, 0, len(resp.Data))
	for _, d := range resp.Data {
		id, err := strconv.ParseUint(d.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid mention id %q", ErrSocial, d.ID)
		}
		mentions = append(mentions, Mention{ID: id, Text: d.Text})
	}
	return mentions, nil
}

// LatestMentionID returns the highest mention id currently visible, or 0.
func (c *Client) LatestMentionID(ctx context.Context) (uint64, error) {
	mentions, err := c.FetchMentions(ctx, 0, 5)
	if err != nil {
		return 0, err
	}
	var latest uint64
	for _, m := range mentions {
		latest = max(latest, m.ID)
	}
	return latest, nil
}

// Publish posts text and returns the new post id.
func (c *Client) Publish(ctx context.Context, text string) (uint64, error) {
	return c.createTweet(ctx, map[string]any{"text": text})
}

// Reply posts text in reply to targetID.
func (c *Client) Reply(ctx context.Context, targetID uint64, text string) (uint64, error) {
	return c.createTweet(ctx, map[string]any{
		"text": text,
		"reply": map[string]string{
			"in_reply_to_tweet_id": strconv.FormatUint(targetID, 10),
		},
	})
}

func (c *Client) createTweet(ctx context.Context, body map[string]any) (uint64, error) {
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/tweets", body, &resp); err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(resp.Data.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid tweet id %q", ErrSocial, resp.Data.ID)
	}
	return id, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrSocial, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrSocial, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail != "" {
			return fmt.Errorf("%w: status %d: %s: %s", ErrSocial, resp.StatusCode, apiErr.Title, apiErr.Detail)
		}
		return fmt.Errorf("%w: status %d: %s", ErrSocial, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %w", ErrSocial, err)
	}
	return nil
}
