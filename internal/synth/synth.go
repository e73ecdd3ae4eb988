// Package synth wraps the text-generation backend. It owns the
// model-fallback chain and the per-post character ceiling; the engine only
// sees "a draft or a failure".
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/herald/internal/brief"
	"github.com/hpungsan/herald/internal/errors"
)

const systemPrompt = `You draft social posts about software changes. Respond with a single JSON object:
{"short": "...", "explainer": "...", "thread": ["...", "..."], "visuals": ["optional code excerpt to render", ...]}
"short" is one punchy post, "explainer" one informative post, "thread" an ordered multi-part sequence. Stay under the character limit per post.`

// Draft is the synthesizer's output: one candidate text per format.
type Draft struct {
	Short     string
	Explainer string
	Parts     []string
	// VisualHints are code excerpts the caller may render as images for
	// thread parts.
	VisualHints []string
	// Canned marks a draft taken from the voice profile's fallback posts
	// after every backend failed.
	Canned bool
}

// Empty reports whether the draft carries no usable text at all.
func (d *Draft) Empty() bool {
	return d == nil || (d.Short == "" && d.Explainer == "" && len(d.Parts) == 0)
}

// Client calls an OpenAI-style chat-completions endpoint, trying each
// configured model in order before giving up.
type Client struct {
	base      string
	apiKey    string
	models    []string
	charLimit int
	fallbacks []string
	http      *http.Client
}

// NewClient creates a synthesizer client. fallbacks may be empty; without
// them a total backend failure is surfaced as UNAVAILABLE.
func NewClient(base, apiKey string, models []string, charLimit int, fallbacks []string) *Client {
	return &Client{
		base:      strings.TrimRight(base, "/"),
		apiKey:    apiKey,
		models:    models,
		charLimit: charLimit,
		fallbacks: fallbacks,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Synthesize turns a brief into a draft. Each model is tried in order; a
// model that errors or returns unusable text is skipped silently. When all
// models fail the canned fallback posts are used if configured.
func (c *Client) Synthesize(ctx context.Context, b brief.Brief) (*Draft, error) {
	prompt := b.Render()

	var lastErr error
	for _, model := range c.models {
		draft, err := c.complete(ctx, model, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		if draft.Empty() {
			lastErr = fmt.Errorf("model %s returned no usable text", model)
			continue
		}
		c.clamp(draft)
		return draft, nil
	}

	if len(c.fallbacks) > 0 {
		text := truncate(c.fallbacks[0], c.charLimit)
		return &Draft{Short: text, Explainer: text, Parts: []string{text}, Canned: true}, nil
	}
	return nil, errors.NewUnavailable("synthesizer", lastErr)
}

type completionRequest struct {
	Model          string            `json:"model"`
	Messages       []message         `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type draftPayload struct {
	Short     string   `json:"short"`
	Explainer string   `json:"explainer"`
	Thread    []string `json:"thread"`
	Visuals   []string `json:"visuals"`
}

func (c *Client) complete(ctx context.Context, model, prompt string) (*Draft, error) {
	reqBody, err := json.Marshal(completionRequest{
		Model: model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", model, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("model %s status=%d", model, res.StatusCode)
	}

	var cr completionResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("model %s: decode response: %w", model, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("model %s: no choices", model)
	}

	var dp draftPayload
	content := stripFences(cr.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &dp); err != nil {
		return nil, fmt.Errorf("model %s: draft is not valid JSON: %w", model, err)
	}

	return &Draft{
		Short:       strings.TrimSpace(dp.Short),
		Explainer:   strings.TrimSpace(dp.Explainer),
		Parts:       trimAll(dp.Thread),
		VisualHints: trimAll(dp.Visuals),
	}, nil
}

// clamp enforces the character ceiling on every variant. Backends routinely
// ignore length instructions, so truncate rather than reject.
func (c *Client) clamp(d *Draft) {
	d.Short = truncate(d.Short, c.charLimit)
	d.Explainer = truncate(d.Explainer, c.charLimit)
	for i := range d.Parts {
		d.Parts[i] = truncate(d.Parts[i], c.charLimit)
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

// stripFences removes a surrounding markdown code fence, which some models
// wrap around JSON output despite response_format.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
