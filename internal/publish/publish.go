// Package publish wraps the social platform API: single posts and ordered
// multi-part threads, with optional media per part. It owns rate-limit
// backoff, bounded so a platform cooldown never stalls a tick.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/herald/internal/errors"
)

// maxRateLimitWait bounds the synchronous in-tick wait on a 429. Cooldowns
// longer than this are surfaced as RATE_LIMITED with a resume estimate.
const maxRateLimitWait = 15 * time.Second

// Part is one unit of a thread.
type Part struct {
	Text string
	// Media is an optional rendered visual (PNG bytes). Nil parts post as
	// text only.
	Media []byte
}

// Client talks to the platform's post and media endpoints.
type Client struct {
	base      string
	token     string
	charLimit int
	http      *http.Client

	// sleep and now are injectable for tests.
	sleep func(time.Duration)
	now   func() time.Time
}

// NewClient creates a publisher client.
func NewClient(base, token string, charLimit int) *Client {
	return &Client{
		base:      strings.TrimRight(base, "/"),
		token:     token,
		charLimit: charLimit,
		http:      &http.Client{Timeout: 30 * time.Second},
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// PublishSingle posts one text and returns the platform post id.
func (c *Client) PublishSingle(ctx context.Context, text string) (string, error) {
	return c.post(ctx, text, "", nil)
}

// PublishThread posts the parts in order, each replying to the previous one.
// Returns the ids published so far even on mid-thread failure, so callers can
// audit partial threads.
func (c *Client) PublishThread(ctx context.Context, parts []Part) ([]string, error) {
	if len(parts) == 0 {
		return nil, errors.NewInvalidRequest("thread has no parts")
	}

	ids := make([]string, 0, len(parts))
	replyTo := ""
	for i, part := range parts {
		mediaID := ""
		if len(part.Media) > 0 {
			// Media failures degrade the part to text-only.
			if id, err := c.uploadMedia(ctx, part.Media); err == nil {
				mediaID = id
			}
		}
		id, err := c.post(ctx, part.Text, replyTo, []string{mediaID})
		if err != nil {
			return ids, fmt.Errorf("thread part %d: %w", i+1, err)
		}
		ids = append(ids, id)
		replyTo = id
	}
	return ids, nil
}

type postRequest struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyTo string `json:"in_reply_to_post_id"`
	} `json:"reply,omitempty"`
	Media *struct {
		IDs []string `json:"media_ids"`
	} `json:"media,omitempty"`
}

// post publishes one text, retrying exactly once after a short rate-limit
// wait. Longer cooldowns fail fast with a resume estimate.
func (c *Client) post(ctx context.Context, text, replyTo string, mediaIDs []string) (string, error) {
	// Belt and suspenders over the synthesizer's own ceiling.
	text = truncate(text, c.charLimit)

	id, wait, err := c.postOnce(ctx, text, replyTo, mediaIDs)
	if err == nil {
		return id, nil
	}
	if wait > 0 && wait <= maxRateLimitWait {
		c.sleep(wait)
		id, _, err = c.postOnce(ctx, text, replyTo, mediaIDs)
	}
	return id, err
}

func (c *Client) postOnce(ctx context.Context, text, replyTo string, mediaIDs []string) (string, time.Duration, error) {
	reqBody := postRequest{Text: text}
	if replyTo != "" {
		reqBody.Reply = &struct {
			InReplyTo string `json:"in_reply_to_post_id"`
		}{InReplyTo: replyTo}
	}
	ids := nonEmpty(mediaIDs)
	if len(ids) > 0 {
		reqBody.Media = &struct {
			IDs []string `json:"media_ids"`
		}{IDs: ids}
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, errors.NewInternal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/2/posts", bytes.NewReader(data))
	if err != nil {
		return "", 0, errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.http.Do(req)
	if err != nil {
		return "", 0, errors.NewUnavailable("publisher", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if res.StatusCode == http.StatusTooManyRequests {
		resumeAt, wait := c.resumeEstimate(res)
		return "", wait, errors.NewRateLimited("platform rate limit", resumeAt)
	}
	if res.StatusCode >= 300 {
		return "", 0, errors.NewUnavailable("publisher",
			fmt.Errorf("status=%d body=%s", res.StatusCode, truncate(string(body), 200)))
	}

	var payload struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, errors.NewInternal(fmt.Errorf("decode post response: %w", err))
	}
	if payload.Data.ID == "" {
		return "", 0, errors.NewInternal(fmt.Errorf("post response missing id"))
	}
	return payload.Data.ID, 0, nil
}

// resumeEstimate derives when the platform will accept posts again from the
// x-rate-limit-reset header (unix seconds).
func (c *Client) resumeEstimate(res *http.Response) (time.Time, time.Duration) {
	raw := res.Header.Get("x-rate-limit-reset")
	if raw == "" {
		return time.Time{}, 0
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, 0
	}
	resumeAt := time.Unix(sec, 0)
	wait := resumeAt.Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	return resumeAt, wait
}

func (c *Client) uploadMedia(ctx context.Context, png []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/2/media", bytes.NewReader(png))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return "", fmt.Errorf("media upload status=%d", res.StatusCode)
	}

	var payload struct {
		MediaID string `json:"media_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	return payload.MediaID, nil
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

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
