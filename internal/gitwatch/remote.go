package gitwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.github.com"

// remotePageSize is one listing request; ChangesSince follows the API's
// next-page links up to remoteMaxPages before declaring a marker stale, so a
// long gap between ticks doesn't silently discard a page of history.
const (
	remotePageSize = 100
	remoteMaxPages = 3
)

// Remote inspects a repository through the GitHub commits API.
// The bearer token is optional; absence just lowers rate limits.
type Remote struct {
	base  string
	owner string
	name  string
	token string
	http  *http.Client
}

// NewRemote creates an inspector for owner/name. base may be empty for the
// public GitHub API.
func NewRemote(base, owner, name, token string) *Remote {
	if base == "" {
		base = defaultAPIBase
	}
	return &Remote{
		base:  base,
		owner: owner,
		name:  name,
		token: token,
		http:  &http.Client{Timeout: 20 * time.Second},
	}
}

type apiCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message   string `json:"message"`
		Committer struct {
			Date time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

// Head returns the latest commit id on the default branch.
func (r *Remote) Head(ctx context.Context) (string, error) {
	u, err := r.listURL(1)
	if err != nil {
		return "", err
	}
	items, _, err := r.listPage(ctx, u)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("repository %s/%s has no commits", r.owner, r.name)
	}
	return items[0].Marker, nil
}

// ChangesSince lists commits newer than marker, newest-first, paging back
// through the listing until the marker is found. A marker not present within
// remoteMaxPages pages is treated as stale: empty result.
func (r *Remote) ChangesSince(ctx context.Context, marker string) ([]Commit, error) {
	next, err := r.listURL(remotePageSize)
	if err != nil {
		return nil, err
	}

	var newer []Commit
	for page := 0; page < remoteMaxPages && next != ""; page++ {
		items, nextURL, err := r.listPage(ctx, next)
		if err != nil {
			return nil, err
		}
		if marker == "" {
			return items, nil
		}
		for i, c := range items {
			if c.Marker == marker {
				return append(newer, items[:i]...), nil
			}
		}
		newer = append(newer, items...)
		next = nextURL
	}
	return nil, nil
}

// History returns the most recent commits, newest-first.
func (r *Remote) History(ctx context.Context, limit int) ([]Commit, error) {
	if limit > remotePageSize {
		limit = remotePageSize
	}
	u, err := r.listURL(limit)
	if err != nil {
		return nil, err
	}
	items, _, err := r.listPage(ctx, u)
	return items, err
}

func (r *Remote) listURL(perPage int) (string, error) {
	u, err := url.Parse(fmt.Sprintf("%s/repos/%s/%s/commits", r.base, r.owner, r.name))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("per_page", strconv.Itoa(perPage))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// listPage fetches one listing page and returns the commits plus the
// rel="next" link, empty when this is the last page.
func (r *Remote) listPage(ctx context.Context, pageURL string) ([]Commit, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	res, err := r.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("list commits: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, "", fmt.Errorf("list commits status=%d body=%s", res.StatusCode, truncateBody(body))
	}

	var payload []apiCommit
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, "", fmt.Errorf("decode commits: %w", err)
	}

	out := make([]Commit, 0, len(payload))
	for _, item := range payload {
		subject := item.Commit.Message
		for i := 0; i < len(subject); i++ {
			if subject[i] == '\n' {
				subject = subject[:i]
				break
			}
		}
		out = append(out, Commit{
			Marker:  item.SHA,
			Subject: subject,
			When:    item.Commit.Committer.Date,
		})
	}
	return out, nextPageURL(res.Header.Get("Link")), nil
}

// nextPageURL extracts the rel="next" target from a Link header.
func nextPageURL(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		for _, param := range segs[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return strings.Trim(strings.TrimSpace(segs[0]), "<>")
			}
		}
	}
	return ""
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
