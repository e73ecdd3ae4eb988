// Package inspire enriches briefs with reference posts found for keywords
// extracted from the pending change descriptions. Everything here is
// best-effort: a failed lookup never aborts a tick.
package inspire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// maxKeywords and maxPosts bound the enrichment per tick.
const (
	maxKeywords = 3
	maxPosts    = 3
)

// termPattern matches the technical terms worth searching for: conventional
// commit scopes, hyphen/underscore compounds, and a short list of bare
// domain words.
var termPattern = regexp.MustCompile(`(?i)\(([a-z0-9-]+)\)|\b([a-z]+[-_][a-z]+)\b|\b(api|cache|parser|auth|cli|storage|index|schema|websocket|grpc)\b`)

// Keywords extracts up to three search terms from the subjects, in order of
// first appearance, deduplicated.
func Keywords(subjects []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, maxKeywords)
	for _, s := range subjects {
		for _, m := range termPattern.FindAllStringSubmatch(s, -1) {
			term := firstGroup(m)
			term = strings.ToLower(term)
			if term == "" || seen[term] {
				continue
			}
			seen[term] = true
			out = append(out, term)
			if len(out) == maxKeywords {
				return out
			}
		}
	}
	return out
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// Client queries a post-search API for reference texts.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewClient creates a search client. An empty base disables lookups.
func NewClient(base, apiKey string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether a search backend is configured.
func (c *Client) Enabled() bool {
	return c.base != ""
}

// Lookup returns up to three reference post texts for the keyword.
func (c *Client) Lookup(ctx context.Context, keyword string) ([]string, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("no search backend configured")
	}

	u, err := url.Parse(c.base + "/search")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", keyword)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("search %q status=%d", keyword, res.StatusCode)
	}

	var payload struct {
		Results []struct {
			Text string `json:"text"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	out := make([]string, 0, maxPosts)
	for _, r := range payload.Results {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		out = append(out, text)
		if len(out) == maxPosts {
			break
		}
	}
	return out, nil
}
