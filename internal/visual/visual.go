// Package visual renders code excerpts into shareable images through an
// external code-card service. It is strictly best-effort: callers degrade to
// text-only posts on any failure.
package visual

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxCodeChars bounds the excerpt sent for rendering; anything longer makes
// an unreadable card anyway.
const maxCodeChars = 1200

// Client talks to the rendering service.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a renderer client. An empty base disables rendering:
// Render returns an error and callers fall back to text.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether a rendering service is configured.
func (c *Client) Enabled() bool {
	return c.base != ""
}

// Render produces PNG bytes for the given code excerpt.
func (c *Client) Render(ctx context.Context, code, lang string) ([]byte, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("no rendering service configured")
	}
	if len(code) > maxCodeChars {
		code = code[:maxCodeChars]
	}

	reqBody, err := json.Marshal(map[string]string{"code": code, "language": lang})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/render", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("render status=%d", res.StatusCode)
	}

	png, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("render returned empty image")
	}
	return png, nil
}
