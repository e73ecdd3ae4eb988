package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/herald/internal/errors"
)

type recordedPost struct {
	Text    string
	ReplyTo string
	Media   []string
}

// newPlatform fakes the post and media endpoints, recording what was posted.
func newPlatform(t *testing.T, posts *[]recordedPost) *httptest.Server {
	t.Helper()
	nextID := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/posts":
			var req struct {
				Text  string `json:"text"`
				Reply *struct {
					InReplyTo string `json:"in_reply_to_post_id"`
				} `json:"reply"`
				Media *struct {
					IDs []string `json:"media_ids"`
				} `json:"media"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			rec := recordedPost{Text: req.Text}
			if req.Reply != nil {
				rec.ReplyTo = req.Reply.InReplyTo
			}
			if req.Media != nil {
				rec.Media = req.Media.IDs
			}
			*posts = append(*posts, rec)
			nextID++
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": fmt.Sprintf("p%d", nextID)}})
		case "/2/media":
			_ = json.NewEncoder(w).Encode(map[string]any{"media_id": "m1"})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestPublishSingle(t *testing.T) {
	var posts []recordedPost
	srv := newPlatform(t, &posts)
	defer srv.Close()

	c := NewClient(srv.URL, "token", 280)
	id, err := c.PublishSingle(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("PublishSingle failed: %v", err)
	}
	if id != "p1" {
		t.Errorf("id = %q, want p1", id)
	}
	if posts[0].Text != "hello world" {
		t.Errorf("posted text = %q", posts[0].Text)
	}
}

func TestPublishSingle_DefensiveTruncation(t *testing.T) {
	var posts []recordedPost
	srv := newPlatform(t, &posts)
	defer srv.Close()

	c := NewClient(srv.URL, "token", 280)
	if _, err := c.PublishSingle(context.Background(), strings.Repeat("x", 500)); err != nil {
		t.Fatalf("PublishSingle failed: %v", err)
	}
	if n := len([]rune(posts[0].Text)); n != 280 {
		t.Errorf("posted length = %d, want 280", n)
	}
}

func TestPublishThread_ReplyChaining(t *testing.T) {
	var posts []recordedPost
	srv := newPlatform(t, &posts)
	defer srv.Close()

	c := NewClient(srv.URL, "token", 280)
	ids, err := c.PublishThread(context.Background(), []Part{
		{Text: "one"}, {Text: "two"}, {Text: "three"},
	})
	if err != nil {
		t.Fatalf("PublishThread failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3", ids)
	}
	if posts[0].ReplyTo != "" {
		t.Errorf("first part should not reply, got %q", posts[0].ReplyTo)
	}
	if posts[1].ReplyTo != "p1" || posts[2].ReplyTo != "p2" {
		t.Errorf("reply chain broken: %+v", posts)
	}
}

func TestPublishThread_AttachesMedia(t *testing.T) {
	var posts []recordedPost
	srv := newPlatform(t, &posts)
	defer srv.Close()

	c := NewClient(srv.URL, "token", 280)
	_, err := c.PublishThread(context.Background(), []Part{
		{Text: "with image", Media: []byte{0x89, 0x50}},
		{Text: "plain"},
	})
	if err != nil {
		t.Fatalf("PublishThread failed: %v", err)
	}
	if len(posts[0].Media) != 1 || posts[0].Media[0] != "m1" {
		t.Errorf("first part media = %v, want [m1]", posts[0].Media)
	}
	if len(posts[1].Media) != 0 {
		t.Errorf("second part media = %v, want none", posts[1].Media)
	}
}

func TestPublishThread_MediaFailureDegradesToText(t *testing.T) {
	var posts []recordedPost
	nextID := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/2/media" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		posts = append(posts, recordedPost{Text: req.Text})
		nextID++
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": fmt.Sprintf("p%d", nextID)}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", 280)
	ids, err := c.PublishThread(context.Background(), []Part{{Text: "still posts", Media: []byte{1}}})
	if err != nil {
		t.Fatalf("PublishThread failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("ids = %v, want one post", ids)
	}
}

func TestPublish_ShortRateLimitWaitsAndRetries(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempt++
		if attempt == 1 {
			w.Header().Set("x-rate-limit-reset", strconv.FormatInt(now.Add(5*time.Second).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "p1"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", 280)
	c.now = func() time.Time { return now }
	var slept time.Duration
	c.sleep = func(d time.Duration) { slept = d }

	id, err := c.PublishSingle(context.Background(), "hi")
	if err != nil {
		t.Fatalf("PublishSingle failed: %v", err)
	}
	if id != "p1" {
		t.Errorf("id = %q, want p1", id)
	}
	if slept != 5*time.Second {
		t.Errorf("slept = %v, want 5s", slept)
	}
}

func TestPublish_LongRateLimitFailsFast(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	resume := now.Add(14 * time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(resume.Unix(), 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", 280)
	c.now = func() time.Time { return now }
	c.sleep = func(time.Duration) { t.Fatal("must not sleep through a long cooldown") }

	_, err := c.PublishSingle(context.Background(), "hi")
	if !errors.Is(err, errors.ErrRateLimited) {
		t.Fatalf("err = %v, want RATE_LIMITED", err)
	}
	if got := errors.ResumeAt(err); !got.Equal(resume.UTC().Truncate(time.Second)) {
		t.Errorf("ResumeAt = %v, want %v", got, resume)
	}
}

func TestPublishThread_MidThreadFailureReturnsPartialIDs(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempt++
		if attempt == 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": fmt.Sprintf("p%d", attempt)}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", 280)
	ids, err := c.PublishThread(context.Background(), []Part{{Text: "one"}, {Text: "two"}})
	if err == nil {
		t.Fatal("expected mid-thread failure")
	}
	if len(ids) != 1 || ids[0] != "p1" {
		t.Errorf("ids = %v, want the part that made it", ids)
	}
}
