// Package engine is the decision core: on each tick it decides whether to
// post, what to post, and how to advance the persisted progress markers so
// that no change-set is posted twice and no eligible content is silently
// lost.
//
// RunTick is pure-ish: it takes the current state and returns the next state
// plus an outcome. Persistence is the caller's job, performed only after the
// tick returns. That keeps the core testable without a filesystem and
// guarantees a tick aborted mid-flight persists nothing load-bearing.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/herald/internal/auditlog"
	"github.com/hpungsan/herald/internal/brief"
	"github.com/hpungsan/herald/internal/config"
	"github.com/hpungsan/herald/internal/errors"
	"github.com/hpungsan/herald/internal/gitwatch"
	"github.com/hpungsan/herald/internal/inspire"
	"github.com/hpungsan/herald/internal/publish"
	"github.com/hpungsan/herald/internal/schedule"
	"github.com/hpungsan/herald/internal/scoring"
	"github.com/hpungsan/herald/internal/state"
	"github.com/hpungsan/herald/internal/synth"
)

// Reason is the machine-readable tick outcome. These strings are a stable
// contract consumed by dashboards; do not rename.
type Reason string

const (
	ReasonInactive       Reason = "inactive"
	ReasonBadConfig      Reason = "bad_config"
	ReasonNoGit          Reason = "no_git"
	ReasonNoRemoteGit    Reason = "no_remote_git"
	ReasonNoChanges      Reason = "no_changes"
	ReasonSkippedNoise   Reason = "skipped_noise"
	ReasonBatching       Reason = "batching"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonOutsideWindow  Reason = "outside_window"
	ReasonGenFailed      Reason = "gen_failed"
	ReasonPostFailed     Reason = "post_failed"
	ReasonPosted         Reason = "posted"
	ReasonTickInProgress Reason = "tick_in_progress"
)

// Outcome is what a tick reports back. Success distinguishes "nothing to do"
// (true) from a failure that should trigger alerting (false); Trail is the
// human-readable account of what the tick did.
type Outcome struct {
	Success bool     `json:"success"`
	Reason  Reason   `json:"reason"`
	Message string   `json:"message,omitempty"`
	PostIDs []string `json:"post_ids,omitempty"`
	Trail   []string `json:"trail"`
}

// Synthesizer turns a brief into candidate post text.
type Synthesizer interface {
	Synthesize(ctx context.Context, b brief.Brief) (*synth.Draft, error)
}

// Publisher posts final text to the social platform.
type Publisher interface {
	PublishSingle(ctx context.Context, text string) (string, error)
	PublishThread(ctx context.Context, parts []publish.Part) ([]string, error)
}

// Audit is the append-only decision record and the cross-process
// "last published" oracle used in remote mode.
type Audit interface {
	Append(ctx context.Context, rec auditlog.Record) error
	LastSuccessMarker(ctx context.Context, repo string) (string, error)
}

// InspirationSource finds reference posts for a keyword. Best-effort.
type InspirationSource interface {
	Enabled() bool
	Lookup(ctx context.Context, keyword string) ([]string, error)
}

// VisualRenderer produces an image for a code excerpt. Best-effort.
type VisualRenderer interface {
	Enabled() bool
	Render(ctx context.Context, code, lang string) ([]byte, error)
}

// TopicSource lazily discovers fallback talking points for the monitored
// repository.
type TopicSource interface {
	Discover(ctx context.Context) ([]state.Topic, error)
}

// Collaborators are the external systems a tick orchestrates. Inspector,
// Synth, and Publisher are required; the rest are optional and nil simply
// disables the corresponding step.
type Collaborators struct {
	Inspector gitwatch.Inspector
	Synth     Synthesizer
	Publisher Publisher
	Audit     Audit
	Inspire   InspirationSource
	Visuals   VisualRenderer
	Topics    TopicSource
	Voice     *brief.Voice
}

// tick carries the per-tick working set so helpers don't need long
// parameter lists.
type tick struct {
	ctx   context.Context
	st    *state.EngineState
	now   time.Time
	loc   *time.Location
	cfg   *config.Config
	deps  Collaborators
	trail []string
}

func (t *tick) logf(format string, args ...any) {
	t.trail = append(t.trail, fmt.Sprintf(format, args...))
}

func (t *tick) done(success bool, reason Reason, msg string) Outcome {
	return Outcome{Success: success, Reason: reason, Message: msg, Trail: t.trail}
}

// RunTick runs one decision cycle. It never lets a collaborator error
// escape: every failure is converted into an Outcome. The returned state is
// safe to persist unconditionally; failure paths only ever carry the
// idempotent quota-day rollover (and the non-load-bearing topic cache).
func RunTick(ctx context.Context, st state.EngineState, now time.Time, cfg *config.Config, deps Collaborators) (state.EngineState, Outcome) {
	t := &tick{ctx: ctx, st: &st, now: now, cfg: cfg, deps: deps}
	st = st.Clone()
	t.st = &st

	if !st.Active {
		t.logf("engine disabled, nothing to do")
		return st, t.done(true, ReasonInactive, "engine is disabled")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		t.logf("invalid timezone %q: %v", cfg.Timezone, err)
		return st, t.done(false, ReasonBadConfig, fmt.Sprintf("invalid timezone %q", cfg.Timezone))
	}
	t.loc = loc

	if st.Mode == state.ModeRemote && (st.RemoteOwner == "" || st.RemoteName == "") {
		t.logf("remote mode without owner/name")
		return st, t.done(false, ReasonBadConfig, "remote monitor target requires owner and name")
	}
	if deps.Inspector == nil || deps.Synth == nil || deps.Publisher == nil {
		t.logf("missing required collaborator")
		return st, t.done(false, ReasonBadConfig, "inspector, synthesizer, and publisher are required")
	}

	// Quota day rollover happens once, up front. It is idempotent, so it is
	// the only mutation failure paths are allowed to carry.
	if st.ResetQuotaIfNewDay(now, loc) {
		t.logf("quota day rolled over to %s", st.QuotaDate)
	}

	head, err := deps.Inspector.Head(ctx)
	if err != nil {
		t.logf("inspector head failed: %v", err)
		return st, t.done(false, t.inspectorFailure(), err.Error())
	}
	t.logf("head is %s", short(head))

	baseline := t.baseline(head)

	var entries []gitwatch.Commit
	if head != baseline {
		entries, err = deps.Inspector.ChangesSince(ctx, baseline)
		if err != nil || len(entries) == 0 {
			// Ghost diff: the marker moved but history is not retrievable
			// (rewritten or stale baseline). Treated like no change.
			t.logf("marker moved but no descriptions retrievable since %s", short(baseline))
			entries = nil
		} else {
			t.logf("%d change(s) since %s", len(entries), short(baseline))
		}
	}

	u := t.selectUnit(head, baseline, entries)
	if u == nil {
		// Nothing postable anywhere on the ladder: permanently skip up to head.
		if st.LastProcessedMarker != head {
			st.LastProcessedMarker = head
			t.logf("advanced marker to %s with no publish", short(head))
		}
		t.audit(auditlog.ActionCheck, head, "", string(ReasonNoChanges))
		return st, t.done(true, ReasonNoChanges, "no new changes, backfill and topics exhausted")
	}

	if out, stop := t.gateUnit(u, head); stop {
		return st, out
	}

	return st, t.produce(u, head)
}

// inspectorFailure maps an unreachable repository to the mode-specific reason.
func (t *tick) inspectorFailure() Reason {
	if t.st.Mode == state.ModeRemote {
		return ReasonNoRemoteGit
	}
	return ReasonNoGit
}

// baseline picks the marker to diff against. Remote mode trusts the audit
// log's externally recorded last publish over local state, so two processes
// sharing one audit store cannot double-post; audit unavailability falls
// back to local state.
func (t *tick) baseline(head string) string {
	baseline := t.st.LastProcessedMarker
	if t.st.Mode != state.ModeRemote || t.deps.Audit == nil {
		return baseline
	}
	m, err := t.deps.Audit.LastSuccessMarker(t.ctx, t.st.RepoKey())
	if err != nil {
		t.logf("audit log unavailable, using local marker: %v", err)
		return baseline
	}
	if m != "" {
		t.logf("using audit-recorded last publish %s as baseline", short(m))
		return m
	}
	return baseline
}

// gateUnit applies the noise, batching, quota, and window gates in order.
// A true stop means the tick ends with the returned outcome.
func (t *tick) gateUnit(u *unit, head string) (Outcome, bool) {
	st := t.st

	if u.kind == unitBatch {
		surviving := make([]gitwatch.Commit, 0, len(u.commits))
		for _, c := range u.commits {
			if !scoring.IsNoise(c.Subject) {
				surviving = append(surviving, c)
			}
		}
		if len(surviving) == 0 {
			// Noise-only batches are permanently skipped: advance the
			// marker so the noise is never reconsidered.
			st.LastProcessedMarker = head
			t.logf("all %d entr(ies) are noise, marker advanced to %s", len(u.commits), short(head))
			t.audit(auditlog.ActionSkip, head, strings.Join(u.subjects(), "\n"), string(ReasonSkippedNoise))
			return t.done(true, ReasonSkippedNoise, "only noise since last post"), true
		}
		if len(surviving) < len(u.commits) {
			t.logf("noise filter kept %d of %d entries", len(surviving), len(u.commits))
		}
		u.commits = surviving

		subjects := u.subjects()
		if scoring.ShouldBatch(subjects) {
			// Too small to post: hold the marker so these entries merge
			// with newer ones on a future tick. No quota is consumed.
			t.logf("batch too small (score=%d count=%d), waiting for more", scoring.Score(subjects), len(subjects))
			t.audit(auditlog.ActionCheck, head, "", string(ReasonBatching))
			return t.done(true, ReasonBatching, "accumulating changes for a bigger post"), true
		}
	}

	if st.PostsToday >= t.cfg.DailyLimit {
		t.logf("daily quota reached (%d/%d)", st.PostsToday, t.cfg.DailyLimit)
		t.audit(auditlog.ActionCheck, u.marker, "", string(ReasonRateLimited))
		return t.done(true, ReasonRateLimited, fmt.Sprintf("daily quota of %d reached", t.cfg.DailyLimit)), true
	}

	slot := schedule.At(t.now, t.loc)
	if !slot.Open {
		t.logf("outside posting window at %s", t.now.In(t.loc).Format("15:04"))
		t.audit(auditlog.ActionCheck, u.marker, "", string(ReasonOutsideWindow))
		return t.done(true, ReasonOutsideWindow, "outside the posting window, content stays pending"), true
	}
	u.slot = slot
	if u.kind == unitTopic {
		// Topics have no change list to pace a short post around.
		u.slot.Format = schedule.FormatThread
	}
	t.logf("window open: format=%s tone=%s", u.slot.Format, u.slot.Tone)

	return Outcome{}, false
}

// produce runs synthesis and publication for the selected unit and settles
// state on success. Failures advance nothing so the same unit is retried on
// a later tick.
func (t *tick) produce(u *unit, head string) Outcome {
	st := t.st

	b := t.buildBrief(u)

	draft, err := t.deps.Synth.Synthesize(t.ctx, b)
	if err != nil || draft.Empty() {
		if err != nil {
			t.logf("synthesis failed: %v", err)
		} else {
			t.logf("synthesis returned no usable text")
		}
		t.audit(auditlog.ActionGenerate, u.marker, b.Render(), string(ReasonGenFailed))
		return t.done(false, ReasonGenFailed, "no usable text from any backend")
	}
	if draft.Canned {
		t.logf("all backends failed, using canned fallback text")
	}

	texts, parts := t.materialize(u, draft)

	var ids []string
	if parts != nil {
		ids, err = t.deps.Publisher.PublishThread(t.ctx, parts)
	} else {
		var id string
		id, err = t.deps.Publisher.PublishSingle(t.ctx, texts[0])
		if id != "" {
			ids = []string{id}
		}
	}
	if err != nil {
		t.logf("publish failed: %v", err)
		msg := err.Error()
		if resume := errors.ResumeAt(err); !resume.IsZero() {
			msg = fmt.Sprintf("platform rate limited, retry after %s", resume.Format(time.RFC3339))
		}
		t.audit(auditlog.ActionPostFail, u.marker, texts[0], string(ReasonPostFailed))
		return t.done(false, ReasonPostFailed, msg)
	}

	// Confirmed publish: quota, markers, and continuity advance together and
	// are persisted by the caller in one write.
	st.PostsToday++
	switch u.kind {
	case unitBatch:
		st.LastProcessedMarker = head
		// The post covered every surviving entry, so each member's marker
		// joins the dedup guard. Marking only head would leave the middle
		// commits eligible for backfill.
		for _, c := range u.commits {
			st.MarkPublished(c.Marker)
		}
		st.MarkPublished(head)
	case unitBackfill:
		st.MarkPublished(u.marker)
	case unitTopic:
		st.PostedTopics = append(st.PostedTopics, u.topic.Name)
	}
	st.RecordPost(texts[0], t.now)
	t.logf("published %d post(s): %s", len(ids), strings.Join(ids, ", "))

	t.audit(auditlog.ActionPostSuccess, u.marker, strings.Join(texts, "\n---\n"), string(ReasonPosted))

	out := t.done(true, ReasonPosted, fmt.Sprintf("published about %s", u.describe()))
	out.PostIDs = ids
	return out
}

// buildBrief assembles the synthesis brief for the unit, including the
// best-effort inspiration enrichment.
func (t *tick) buildBrief(u *unit) brief.Brief {
	b := brief.Brief{
		PreviousExcerpt: t.st.LastPostExcerpt,
		Tone:            u.slot.Tone,
		Format:          u.slot.Format,
	}
	if t.deps.Voice != nil {
		b.ProjectSummary = t.deps.Voice.ProjectSummary
		b.StyleRules = t.deps.Voice.StyleRules
	}
	if u.kind == unitTopic {
		topic := *u.topic
		b.Topic = &topic
	} else {
		b.Entries = u.subjects()
	}

	if t.deps.Inspire != nil && t.deps.Inspire.Enabled() && u.kind != unitTopic {
		for _, kw := range inspire.Keywords(b.Entries) {
			posts, err := t.deps.Inspire.Lookup(t.ctx, kw)
			if err != nil {
				t.logf("inspiration lookup %q failed, proceeding without: %v", kw, err)
				continue
			}
			b.Inspiration = append(b.Inspiration, posts...)
			if len(b.Inspiration) >= 3 {
				b.Inspiration = b.Inspiration[:3]
				break
			}
		}
		if len(b.Inspiration) > 0 {
			t.logf("folded %d reference post(s) into the brief", len(b.Inspiration))
		}
	}

	return b
}

// materialize picks the draft variant for the slot's format. Thread formats
// return parts (with best-effort visuals); single formats return one text.
func (t *tick) materialize(u *unit, draft *synth.Draft) (texts []string, parts []publish.Part) {
	switch u.slot.Format {
	case schedule.FormatPunchy:
		text := firstNonEmpty(draft.Short, draft.Explainer, firstOf(draft.Parts))
		text = t.withHashtags(text)
		return []string{text}, nil
	case schedule.FormatExplainer:
		text := firstNonEmpty(draft.Explainer, draft.Short, firstOf(draft.Parts))
		return []string{text}, nil
	}

	seq := draft.Parts
	if len(seq) == 0 {
		seq = []string{firstNonEmpty(draft.Explainer, draft.Short)}
	}
	parts = make([]publish.Part, len(seq))
	for i, text := range seq {
		parts[i] = publish.Part{Text: text}
		if t.deps.Visuals != nil && t.deps.Visuals.Enabled() && i < len(draft.VisualHints) {
			png, err := t.deps.Visuals.Render(t.ctx, draft.VisualHints[i], "go")
			if err != nil {
				t.logf("visual for part %d failed, posting text only: %v", i+1, err)
				continue
			}
			parts[i].Media = png
		}
	}
	return seq, parts
}

// withHashtags appends the voice profile's hashtags to a punchy post, but
// only those that still fit under the character ceiling.
func (t *tick) withHashtags(text string) string {
	if t.deps.Voice == nil || len(t.deps.Voice.Hashtags) == 0 {
		return text
	}
	out := text
	for _, tag := range t.deps.Voice.Hashtags {
		candidate := out + " " + tag
		if len([]rune(candidate)) > t.cfg.CharLimit {
			break
		}
		out = candidate
	}
	return out
}

// audit appends a record, swallowing sink failures into the trail: the audit
// log must never abort a tick.
func (t *tick) audit(action, marker, content, status string) {
	if t.deps.Audit == nil {
		return
	}
	err := t.deps.Audit.Append(t.ctx, auditlog.Record{
		Repo:      t.st.RepoKey(),
		Marker:    marker,
		Action:    action,
		Content:   content,
		Status:    status,
		CreatedAt: t.now.Unix(),
	})
	if err != nil {
		t.logf("audit append failed: %v", err)
	}
}

func short(marker string) string {
	if len(marker) > 8 {
		return marker[:8]
	}
	if marker == "" {
		return "(none)"
	}
	return marker
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

func firstOf(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
