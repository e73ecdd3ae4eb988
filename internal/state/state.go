package state

import (
	"time"
)

// Mode selects how the monitored repository is accessed.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// maxPublishedMarkers bounds the backfill dedup guard; oldest entries are
// evicted first once the cap is reached.
const maxPublishedMarkers = 100

// excerptMaxChars bounds the narrative-continuity excerpt carried between posts.
const excerptMaxChars = 200

// Topic is a code-derived talking point used when change history is exhausted.
type Topic struct {
	// Name uniquely identifies the topic within a repository.
	Name string `json:"name"`

	// Description is the talking point fed into the synthesis brief.
	Description string `json:"description"`

	// SourceFiles lists the representative files the topic was derived from.
	SourceFiles []string `json:"source_files,omitempty"`

	// Relevance ranks topics 1..10; the highest unposted topic is consumed first.
	Relevance int `json:"relevance"`
}

// EngineState is the singleton persisted state of the decision engine.
// It survives restarts; all load-bearing mutation happens inside a tick and
// is persisted by the caller only after the tick returns.
type EngineState struct {
	// Active is the master enable switch. When false the engine performs
	// no network or publish actions.
	Active bool `json:"active"`

	// Mode and the remote coordinates form the monitor target.
	// ModeLocal requires no identifier; ModeRemote needs owner and name.
	Mode        Mode   `json:"mode"`
	RemoteOwner string `json:"remote_owner,omitempty"`
	RemoteName  string `json:"remote_name,omitempty"`

	// LastProcessedMarker is the change-set identifier already fully handled.
	// It advances only on successful publish or an explicit skip decision.
	LastProcessedMarker string `json:"last_processed_marker"`

	// PostsToday and QuotaDate implement the daily quota. QuotaDate is the
	// calendar day (in the configured zone) the counter belongs to.
	PostsToday int    `json:"posts_today"`
	QuotaDate  string `json:"quota_date,omitempty"`

	// PublishedMarkers is the bounded dedup guard for backfill mode.
	PublishedMarkers []string `json:"published_markers,omitempty"`

	// LastPostExcerpt and LastPostAt feed narrative continuity into the
	// next synthesis brief.
	LastPostExcerpt string    `json:"last_post_excerpt,omitempty"`
	LastPostAt      time.Time `json:"last_post_at,omitempty"`

	// Topics caches lazily discovered talking points; PostedTopics records
	// which have been consumed.
	Topics       []Topic  `json:"topics,omitempty"`
	PostedTopics []string `json:"posted_topics,omitempty"`
}

// NewEngineState returns the zero deployment state: inactive, local mode.
func NewEngineState() EngineState {
	return EngineState{Mode: ModeLocal}
}

// Clone returns a deep copy, used for snapshot reads so a dashboard never
// observes a tick's in-memory mutation.
func (s EngineState) Clone() EngineState {
	out := s
	out.PublishedMarkers = append([]string(nil), s.PublishedMarkers...)
	out.PostedTopics = append([]string(nil), s.PostedTopics...)
	if s.Topics != nil {
		out.Topics = make([]Topic, len(s.Topics))
		for i, t := range s.Topics {
			out.Topics[i] = t
			out.Topics[i].SourceFiles = append([]string(nil), t.SourceFiles...)
		}
	}
	return out
}

// RepoKey identifies the monitored repository in audit records.
func (s EngineState) RepoKey() string {
	if s.Mode == ModeRemote {
		return s.RemoteOwner + "/" + s.RemoteName
	}
	return "local"
}

// ResetQuotaIfNewDay rolls the quota counter when the calendar day in loc
// differs from QuotaDate. Re-deriving the day within the same day is a no-op,
// so the reset is idempotent.
func (s *EngineState) ResetQuotaIfNewDay(now time.Time, loc *time.Location) bool {
	day := now.In(loc).Format("2006-01-02")
	if day == s.QuotaDate {
		return false
	}
	s.QuotaDate = day
	s.PostsToday = 0
	return true
}

// MarkPublished appends a marker to the dedup guard, evicting the oldest
// entry once the cap is reached.
func (s *EngineState) MarkPublished(marker string) {
	if marker == "" || s.HasPublished(marker) {
		return
	}
	s.PublishedMarkers = append(s.PublishedMarkers, marker)
	if len(s.PublishedMarkers) > maxPublishedMarkers {
		s.PublishedMarkers = s.PublishedMarkers[len(s.PublishedMarkers)-maxPublishedMarkers:]
	}
}

// HasPublished reports whether the marker is in the dedup guard.
func (s EngineState) HasPublished(marker string) bool {
	for _, m := range s.PublishedMarkers {
		if m == marker {
			return true
		}
	}
	return false
}

// HasPostedTopic reports whether the named topic has been consumed.
func (s EngineState) HasPostedTopic(name string) bool {
	for _, n := range s.PostedTopics {
		if n == name {
			return true
		}
	}
	return false
}

// RecordPost updates the narrative-continuity fields after a confirmed publish.
// The excerpt is truncated to 200 chars (runes, not bytes).
func (s *EngineState) RecordPost(text string, at time.Time) {
	runes := []rune(text)
	if len(runes) > excerptMaxChars {
		runes = runes[:excerptMaxChars]
	}
	s.LastPostExcerpt = string(runes)
	s.LastPostAt = at
}
