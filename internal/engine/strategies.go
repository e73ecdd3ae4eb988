package engine

import (
	"github.com/hpungsan/herald/internal/gitwatch"
	"github.com/hpungsan/herald/internal/schedule"
	"github.com/hpungsan/herald/internal/scoring"
	"github.com/hpungsan/herald/internal/state"
	"github.com/hpungsan/herald/internal/topics"
)

type unitKind int

const (
	// unitBatch posts about everything new since the last processed marker.
	unitBatch unitKind = iota
	// unitBackfill resurrects one historical entry that never got posted.
	unitBackfill
	// unitTopic posts about a static talking point from the codebase itself.
	unitTopic
)

// unit is one candidate piece of content selected by the escalation ladder.
// Batch units keep the full commits, not just subjects: every member's marker
// goes into the dedup guard on publish so backfill never resurrects one.
type unit struct {
	kind    unitKind
	commits []gitwatch.Commit
	marker  string
	topic   *state.Topic
	slot    schedule.Slot
}

// subjects returns the unit's change descriptions in commit order.
func (u *unit) subjects() []string {
	return gitwatch.Subjects(u.commits)
}

func (u *unit) describe() string {
	switch u.kind {
	case unitBackfill:
		return "an earlier change: " + u.commits[0].Subject
	case unitTopic:
		return "topic " + u.topic.Name
	default:
		return short(u.marker)
	}
}

// selectUnit walks the escalation ladder: fresh changes first, then an
// unposted historical entry, then a codebase topic. Returns nil when every
// rung is exhausted, which the caller turns into a skip-advance.
//
// Backfill and topics only engage while quota remains; an over-quota tick
// with nothing new is a plain no-op rather than a rate-limit report.
func (t *tick) selectUnit(head, baseline string, entries []gitwatch.Commit) *unit {
	if len(entries) > 0 {
		return &unit{kind: unitBatch, commits: entries, marker: head}
	}
	if t.st.PostsToday >= t.cfg.DailyLimit {
		return nil
	}
	if u := t.selectBackfill(); u != nil {
		return u
	}
	return t.selectTopic()
}

// selectBackfill picks the OLDEST non-noise historical entry that was never
// published, within the configured lookback window. Oldest-first keeps the
// resurrected narrative chronological.
func (t *tick) selectBackfill() *unit {
	hist, err := t.deps.Inspector.History(t.ctx, t.cfg.BackfillWindow)
	if err != nil {
		t.logf("history unavailable for backfill: %v", err)
		return nil
	}
	for i := len(hist) - 1; i >= 0; i-- {
		c := hist[i]
		if scoring.IsNoise(c.Subject) || t.st.HasPublished(c.Marker) {
			continue
		}
		t.logf("backfilling unposted entry %s: %s", short(c.Marker), c.Subject)
		return &unit{kind: unitBackfill, commits: []gitwatch.Commit{c}, marker: c.Marker}
	}
	return nil
}

// selectTopic discovers talking points on first use (cached in state) and
// returns the highest-relevance one not yet posted.
func (t *tick) selectTopic() *unit {
	if len(t.st.Topics) == 0 && t.deps.Topics != nil {
		discovered, err := t.deps.Topics.Discover(t.ctx)
		if err != nil {
			t.logf("topic discovery failed: %v", err)
			return nil
		}
		t.st.Topics = discovered
		t.logf("discovered %d topic(s)", len(discovered))
	}
	topic := topics.Next(*t.st)
	if topic == nil {
		return nil
	}
	t.logf("falling back to topic %s", topic.Name)
	return &unit{kind: unitTopic, marker: "topic:" + topic.Name, topic: topic}
}
