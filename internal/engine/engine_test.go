package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/herald/internal/auditlog"
	"github.com/hpungsan/herald/internal/brief"
	"github.com/hpungsan/herald/internal/config"
	"github.com/hpungsan/herald/internal/errors"
	"github.com/hpungsan/herald/internal/gitwatch"
	"github.com/hpungsan/herald/internal/publish"
	"github.com/hpungsan/herald/internal/state"
	"github.com/hpungsan/herald/internal/synth"
)

// Test clock: noon UTC sits in the explainer window.
var (
	noon     = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	morning  = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	evening  = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	night    = time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	testDay  = "2026-03-02"
	yesterdy = "2026-03-01"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	return cfg
}

func activeState() state.EngineState {
	st := state.NewEngineState()
	st.Active = true
	st.LastProcessedMarker = "h1"
	st.QuotaDate = testDay
	return st
}

func commits(pairs ...string) []gitwatch.Commit {
	if len(pairs)%2 != 0 {
		panic("commits wants marker/subject pairs")
	}
	out := make([]gitwatch.Commit, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, gitwatch.Commit{Marker: pairs[i], Subject: pairs[i+1]})
	}
	return out
}

type fakeInspector struct {
	head       string
	headErr    error
	changes    []gitwatch.Commit
	changesErr error
	since      string
	history    []gitwatch.Commit
	historyErr error
}

func (f *fakeInspector) Head(context.Context) (string, error) { return f.head, f.headErr }

func (f *fakeInspector) ChangesSince(_ context.Context, marker string) ([]gitwatch.Commit, error) {
	f.since = marker
	return f.changes, f.changesErr
}

func (f *fakeInspector) History(context.Context, int) ([]gitwatch.Commit, error) {
	return f.history, f.historyErr
}

type fakeSynth struct {
	draft *synth.Draft
	err   error
	brief brief.Brief
	calls int
}

func (f *fakeSynth) Synthesize(_ context.Context, b brief.Brief) (*synth.Draft, error) {
	f.calls++
	f.brief = b
	return f.draft, f.err
}

type fakePublisher struct {
	singleErr error
	threadErr error
	texts     []string
	parts     []publish.Part
	calls     int
}

func (f *fakePublisher) PublishSingle(_ context.Context, text string) (string, error) {
	f.calls++
	if f.singleErr != nil {
		return "", f.singleErr
	}
	f.texts = append(f.texts, text)
	return fmt.Sprintf("post-%d", f.calls), nil
}

func (f *fakePublisher) PublishThread(_ context.Context, parts []publish.Part) ([]string, error) {
	f.calls++
	if f.threadErr != nil {
		return nil, f.threadErr
	}
	f.parts = append(f.parts, parts...)
	ids := make([]string, len(parts))
	for i, p := range parts {
		f.texts = append(f.texts, p.Text)
		ids[i] = fmt.Sprintf("post-%d-%d", f.calls, i)
	}
	return ids, nil
}

type fakeAudit struct {
	records    []auditlog.Record
	appendErr  error
	lastMarker string
	lastErr    error
}

func (f *fakeAudit) Append(_ context.Context, rec auditlog.Record) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAudit) LastSuccessMarker(context.Context, string) (string, error) {
	return f.lastMarker, f.lastErr
}

func (f *fakeAudit) byAction(action string) []auditlog.Record {
	var out []auditlog.Record
	for _, r := range f.records {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

type fakeTopics struct {
	topics []state.Topic
	err    error
}

func (f *fakeTopics) Discover(context.Context) ([]state.Topic, error) { return f.topics, f.err }

type fakeInspire struct {
	posts map[string][]string
	err   error
}

func (f *fakeInspire) Enabled() bool { return true }

func (f *fakeInspire) Lookup(_ context.Context, kw string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.posts[kw], nil
}

type fakeVisuals struct {
	png []byte
	err error
}

func (f *fakeVisuals) Enabled() bool { return true }

func (f *fakeVisuals) Render(context.Context, string, string) ([]byte, error) {
	return f.png, f.err
}

type fixture struct {
	inspector *fakeInspector
	synth     *fakeSynth
	publisher *fakePublisher
	audit     *fakeAudit
}

func (f *fixture) deps() Collaborators {
	return Collaborators{
		Inspector: f.inspector,
		Synth:     f.synth,
		Publisher: f.publisher,
		Audit:     f.audit,
	}
}

func newFixture() *fixture {
	return &fixture{
		inspector: &fakeInspector{head: "h1"},
		synth: &fakeSynth{draft: &synth.Draft{
			Short:     "short post",
			Explainer: "explainer post",
			Parts:     []string{"part one", "part two"},
		}},
		publisher: &fakePublisher{},
		audit:     &fakeAudit{},
	}
}

func TestRunTick_Inactive(t *testing.T) {
	f := newFixture()
	st := activeState()
	st.Active = false

	next, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())

	require.True(t, out.Success)
	require.Equal(t, ReasonInactive, out.Reason)
	require.Equal(t, st, next)
	require.Zero(t, f.publisher.calls)
}

func TestRunTick_BadTimezone(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus_Mons"

	_, out := RunTick(context.Background(), activeState(), noon, cfg, f.deps())

	require.False(t, out.Success)
	require.Equal(t, ReasonBadConfig, out.Reason)
}

func TestRunTick_InspectorUnavailable(t *testing.T) {
	f := newFixture()
	f.inspector.headErr = fmt.Errorf("not a git repository")

	_, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())
	require.False(t, out.Success)
	require.Equal(t, ReasonNoGit, out.Reason)

	st := activeState()
	st.Mode = state.ModeRemote
	st.RemoteOwner, st.RemoteName = "octo", "widgets"
	_, out = RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.Equal(t, ReasonNoRemoteGit, out.Reason)
}

func TestRunTick_RemoteWithoutTarget(t *testing.T) {
	f := newFixture()
	st := activeState()
	st.Mode = state.ModeRemote

	_, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.False(t, out.Success)
	require.Equal(t, ReasonBadConfig, out.Reason)
}

func TestRunTick_PublishesBatch(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")

	next, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())

	require.True(t, out.Success)
	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, []string{"post-1"}, out.PostIDs)
	require.Equal(t, "h2", next.LastProcessedMarker)
	require.Equal(t, 1, next.PostsToday)
	require.True(t, next.HasPublished("h2"))
	require.Equal(t, "explainer post", next.LastPostExcerpt)
	require.Equal(t, noon, next.LastPostAt)

	// Noon is the explainer window.
	require.Equal(t, []string{"explainer post"}, f.publisher.texts)

	successes := f.audit.byAction(auditlog.ActionPostSuccess)
	require.Len(t, successes, 1)
	require.Equal(t, "h2", successes[0].Marker)
	require.Equal(t, "local", successes[0].Repo)
}

func TestRunTick_FormatFollowsWindow(t *testing.T) {
	t.Run("morning is punchy", func(t *testing.T) {
		f := newFixture()
		f.inspector.head = "h2"
		f.inspector.changes = commits("h2", "feat: streaming parser")

		_, out := RunTick(context.Background(), activeState(), morning, testConfig(), f.deps())
		require.Equal(t, ReasonPosted, out.Reason)
		require.Equal(t, []string{"short post"}, f.publisher.texts)
	})

	t.Run("evening is a thread", func(t *testing.T) {
		f := newFixture()
		f.inspector.head = "h2"
		f.inspector.changes = commits("h2", "feat: streaming parser")

		_, out := RunTick(context.Background(), activeState(), evening, testConfig(), f.deps())
		require.Equal(t, ReasonPosted, out.Reason)
		require.Equal(t, []string{"part one", "part two"}, f.publisher.texts)
		require.Len(t, out.PostIDs, 2)
	})
}

func TestRunTick_NoiseOnlyAdvancesMarker(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h3"
	f.inspector.changes = commits("h3", "chore: bump deps", "h2", "wip: scratch")

	next, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())

	require.True(t, out.Success)
	require.Equal(t, ReasonSkippedNoise, out.Reason)
	require.Equal(t, "h3", next.LastProcessedMarker, "noise is permanently skipped")
	require.Zero(t, next.PostsToday)
	require.Zero(t, f.synth.calls)
	require.Zero(t, f.publisher.calls)
	require.Len(t, f.audit.byAction(auditlog.ActionSkip), 1)
}

func TestRunTick_NoiseFilteredFromBrief(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h3"
	f.inspector.changes = commits(
		"h3", "feat: streaming parser",
		"h2", "chore: bump deps",
	)

	_, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())

	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, []string{"feat: streaming parser"}, f.synth.brief.Entries)
}

func TestRunTick_BatchingHoldsMarker(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "fix: off-by-one in pager")

	next, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())

	require.True(t, out.Success)
	require.Equal(t, ReasonBatching, out.Reason)
	require.Equal(t, "h1", next.LastProcessedMarker, "marker must not advance while batching")
	require.Zero(t, f.synth.calls)
	require.Zero(t, f.publisher.calls)
}

func TestRunTick_GoldenTriggerBypassesBatching(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: one small thing")

	_, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())
	require.Equal(t, ReasonPosted, out.Reason)
}

func TestRunTick_BatchingConverges(t *testing.T) {
	// A held batch plus newer entries eventually crosses the threshold.
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "fix: off-by-one in pager")
	st := activeState()

	st, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.Equal(t, ReasonBatching, out.Reason)

	f.inspector.head = "h4"
	f.inspector.changes = commits(
		"h4", "fix: cache eviction order",
		"h3", "refactor: extract pager",
		"h2", "fix: off-by-one in pager",
	)

	next, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, "h4", next.LastProcessedMarker)
	require.Len(t, f.synth.brief.Entries, 3, "held entries merge into the bigger batch")
}

func TestRunTick_QuotaGate(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	cfg := testConfig()
	st := activeState()
	st.PostsToday = cfg.DailyLimit

	next, out := RunTick(context.Background(), st, noon, cfg, f.deps())

	require.True(t, out.Success)
	require.Equal(t, ReasonRateLimited, out.Reason)
	require.Equal(t, "h1", next.LastProcessedMarker, "content stays pending for tomorrow")
	require.Equal(t, cfg.DailyLimit, next.PostsToday)
	require.Zero(t, f.publisher.calls)
}

func TestRunTick_QuotaRollsOverAtMidnight(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	cfg := testConfig()
	st := activeState()
	st.PostsToday = cfg.DailyLimit
	st.QuotaDate = yesterdy

	next, out := RunTick(context.Background(), st, noon, cfg, f.deps())

	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, 1, next.PostsToday)
	require.Equal(t, testDay, next.QuotaDate)
}

func TestRunTick_OutsideWindowHoldsContent(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")

	next, out := RunTick(context.Background(), activeState(), night, testConfig(), f.deps())

	require.True(t, out.Success)
	require.Equal(t, ReasonOutsideWindow, out.Reason)
	require.Equal(t, "h1", next.LastProcessedMarker)
	require.Zero(t, f.synth.calls)
}

func TestRunTick_GenFailedRetriesSameUnit(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	f.synth.draft = nil
	f.synth.err = errors.NewUnavailable("synthesizer", fmt.Errorf("timeout"))

	st := activeState()
	next, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())

	require.False(t, out.Success)
	require.Equal(t, ReasonGenFailed, out.Reason)
	require.Equal(t, "h1", next.LastProcessedMarker)
	require.Zero(t, next.PostsToday)
	require.Zero(t, f.publisher.calls)
	require.Len(t, f.audit.byAction(auditlog.ActionGenerate), 1)

	// Backend recovers: the identical unit is retried and published.
	f.synth.err = nil
	f.synth.draft = &synth.Draft{Explainer: "recovered"}
	next, out = RunTick(context.Background(), next, noon, testConfig(), f.deps())
	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, "h2", next.LastProcessedMarker)
}

func TestRunTick_EmptyDraftIsGenFailed(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	f.synth.draft = &synth.Draft{}

	_, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())
	require.Equal(t, ReasonGenFailed, out.Reason)
}

func TestRunTick_PostFailed(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	f.publisher.singleErr = errors.NewUnavailable("platform", fmt.Errorf("502"))

	next, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())

	require.False(t, out.Success)
	require.Equal(t, ReasonPostFailed, out.Reason)
	require.Equal(t, "h1", next.LastProcessedMarker)
	require.Zero(t, next.PostsToday)
	require.Empty(t, next.LastPostExcerpt)
	require.Len(t, f.audit.byAction(auditlog.ActionPostFail), 1)
}

func TestRunTick_PostFailedRateLimitCarriesResume(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	resume := noon.Add(40 * time.Minute)
	f.publisher.singleErr = errors.NewRateLimited("platform cooldown", resume)

	_, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())

	require.Equal(t, ReasonPostFailed, out.Reason)
	require.Contains(t, out.Message, resume.UTC().Format(time.RFC3339))
}

func TestRunTick_NoChangesIsIdempotent(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h1"
	st := activeState()

	first, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.True(t, out.Success)
	require.Equal(t, ReasonNoChanges, out.Reason)

	second, out := RunTick(context.Background(), first, noon, testConfig(), f.deps())
	require.Equal(t, ReasonNoChanges, out.Reason)
	require.Equal(t, first, second, "repeated no-op ticks must not drift state")
	require.Zero(t, f.publisher.calls)
}

func TestRunTick_GhostDiffAdvancesMarker(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h9"
	f.inspector.changesErr = fmt.Errorf("unknown revision h1")

	next, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())

	require.Equal(t, ReasonNoChanges, out.Reason)
	require.Equal(t, "h9", next.LastProcessedMarker, "ghost diff is an explicit skip-advance")
	require.Zero(t, f.publisher.calls)
}

func TestRunTick_Backfill(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h3"
	f.inspector.history = commits(
		"h3", "feat: already posted",
		"h2", "fix: forgotten bugfix",
		"h1", "chore: bump deps",
	)
	st := activeState()
	st.LastProcessedMarker = "h3"
	st.MarkPublished("h3")

	next, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())

	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, "h3", next.LastProcessedMarker, "backfill must not move the head marker")
	require.True(t, next.HasPublished("h2"))
	require.Equal(t, 1, next.PostsToday)
	require.Equal(t, []string{"fix: forgotten bugfix"}, f.synth.brief.Entries)

	successes := f.audit.byAction(auditlog.ActionPostSuccess)
	require.Len(t, successes, 1)
	require.Equal(t, "h2", successes[0].Marker)
}

func TestRunTick_BackfillPicksOldestUnposted(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h4"
	f.inspector.history = commits(
		"h4", "feat: newest",
		"h3", "fix: newer unposted",
		"h2", "fix: older unposted",
		"h1", "wip: noise",
	)
	st := activeState()
	st.LastProcessedMarker = "h4"
	st.MarkPublished("h4")

	next, _ := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.True(t, next.HasPublished("h2"), "oldest eligible entry goes first")
	require.False(t, next.HasPublished("h3"))
}

func TestRunTick_BackfillSkipsBatchMembers(t *testing.T) {
	// A multi-commit batch covers every member, not just head: none of them
	// may come back as backfill material on a later idle tick.
	f := newFixture()
	f.inspector.head = "h4"
	f.inspector.changes = commits(
		"h4", "feat: streaming parser",
		"h3", "fix: off-by-one in pager",
		"h2", "refactor: split cache keys",
	)
	st := activeState()

	next, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, "h4", next.LastProcessedMarker)
	require.True(t, next.HasPublished("h4"))
	require.True(t, next.HasPublished("h3"))
	require.True(t, next.HasPublished("h2"))

	// Idle tick with the batch members still inside the lookback window.
	f.inspector.changes = nil
	f.inspector.history = commits(
		"h4", "feat: streaming parser",
		"h3", "fix: off-by-one in pager",
		"h2", "refactor: split cache keys",
		"h1", "chore: bump deps",
	)
	next, out = RunTick(context.Background(), next, noon, testConfig(), f.deps())
	require.Equal(t, ReasonNoChanges, out.Reason)
	require.Equal(t, 1, f.publisher.calls)
	require.Equal(t, 1, next.PostsToday)
}

func TestRunTick_NoiseFilteredBatchMemberStaysBackfillable(t *testing.T) {
	// Only the entries that survived the noise filter are guarded; noise is
	// already excluded from backfill by the scorer itself.
	f := newFixture()
	f.inspector.head = "h3"
	f.inspector.changes = commits(
		"h3", "feat: streaming parser",
		"h2", "chore: bump deps",
	)

	next, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())
	require.Equal(t, ReasonPosted, out.Reason)
	require.True(t, next.HasPublished("h3"))
	require.False(t, next.HasPublished("h2"), "noise entries need no guard entry")
}

func TestRunTick_BackfillSkippedWhenQuotaExhausted(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h3"
	f.inspector.history = commits("h2", "fix: forgotten bugfix")
	cfg := testConfig()
	st := activeState()
	st.LastProcessedMarker = "h3"
	st.PostsToday = cfg.DailyLimit

	_, out := RunTick(context.Background(), st, noon, cfg, f.deps())
	require.Equal(t, ReasonNoChanges, out.Reason, "an over-quota idle tick is a plain no-op")
	require.Zero(t, f.publisher.calls)
}

func TestRunTick_TopicFallback(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h1"
	f.inspector.history = commits("h1", "chore: bump deps")
	deps := f.deps()
	deps.Topics = &fakeTopics{topics: []state.Topic{
		{Name: "internal/parser", Description: "the parser", Relevance: 8},
		{Name: "internal/cache", Description: "the cache", Relevance: 6},
	}}

	next, out := RunTick(context.Background(), activeState(), noon, testConfig(), deps)

	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, "h1", next.LastProcessedMarker)
	require.Equal(t, []string{"internal/parser"}, next.PostedTopics)
	require.Len(t, next.Topics, 2, "discovery result is cached in state")
	require.NotNil(t, f.synth.brief.Topic)
	require.Equal(t, "internal/parser", f.synth.brief.Topic.Name)

	// Topic posts are always threads, even in a single-post window.
	require.NotEmpty(t, f.publisher.parts)
}

func TestRunTick_TopicFallbackConsumesInOrder(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h1"
	st := activeState()
	st.Topics = []state.Topic{
		{Name: "internal/parser", Relevance: 8},
		{Name: "internal/cache", Relevance: 6},
	}
	st.PostedTopics = []string{"internal/parser"}

	next, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, []string{"internal/parser", "internal/cache"}, next.PostedTopics)
}

func TestRunTick_TopicsExhausted(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h1"
	st := activeState()
	st.Topics = []state.Topic{{Name: "internal/parser", Relevance: 8}}
	st.PostedTopics = []string{"internal/parser"}

	next, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.Equal(t, ReasonNoChanges, out.Reason)
	require.Equal(t, st, next)
}

func TestRunTick_RemoteBaselineFromAuditLog(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h5"
	f.inspector.changes = commits("h5", "feat: streaming parser")
	f.audit.lastMarker = "h4"
	st := activeState()
	st.Mode = state.ModeRemote
	st.RemoteOwner, st.RemoteName = "octo", "widgets"
	st.LastProcessedMarker = "h2"

	_, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())

	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, "h4", f.inspector.since, "audit log outranks local state in remote mode")
}

func TestRunTick_RemoteFallsBackToLocalWhenAuditDown(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h5"
	f.inspector.changes = commits("h5", "feat: streaming parser")
	f.audit.lastErr = fmt.Errorf("database locked")
	st := activeState()
	st.Mode = state.ModeRemote
	st.RemoteOwner, st.RemoteName = "octo", "widgets"
	st.LastProcessedMarker = "h2"

	_, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())

	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, "h2", f.inspector.since)
}

func TestRunTick_AuditAppendFailureDoesNotAbort(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	f.audit.appendErr = fmt.Errorf("disk full")

	_, out := RunTick(context.Background(), activeState(), noon, testConfig(), f.deps())
	require.Equal(t, ReasonPosted, out.Reason)
}

func TestRunTick_InspirationEnrichesBrief(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat(parser): support nested tables")
	deps := f.deps()
	deps.Inspire = &fakeInspire{posts: map[string][]string{
		"parser": {"ref one", "ref two"},
	}}

	_, out := RunTick(context.Background(), activeState(), noon, testConfig(), deps)

	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, []string{"ref one", "ref two"}, f.synth.brief.Inspiration)
}

func TestRunTick_InspirationFailureIsBestEffort(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat(parser): support nested tables")
	deps := f.deps()
	deps.Inspire = &fakeInspire{err: fmt.Errorf("search down")}

	_, out := RunTick(context.Background(), activeState(), noon, testConfig(), deps)
	require.Equal(t, ReasonPosted, out.Reason)
	require.Empty(t, f.synth.brief.Inspiration)
}

func TestRunTick_VisualsAttachedToThreadParts(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	f.synth.draft.VisualHints = []string{"func Parse() {}"}
	deps := f.deps()
	deps.Visuals = &fakeVisuals{png: []byte{0x89, 'P', 'N', 'G'}}

	_, out := RunTick(context.Background(), activeState(), evening, testConfig(), deps)

	require.Equal(t, ReasonPosted, out.Reason)
	require.Len(t, f.publisher.parts, 2)
	require.NotEmpty(t, f.publisher.parts[0].Media, "hinted part carries the render")
	require.Empty(t, f.publisher.parts[1].Media, "unhinted part stays text-only")
}

func TestRunTick_VisualFailureDegradesToText(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	f.synth.draft.VisualHints = []string{"func Parse() {}"}
	deps := f.deps()
	deps.Visuals = &fakeVisuals{err: fmt.Errorf("renderer down")}

	_, out := RunTick(context.Background(), activeState(), evening, testConfig(), deps)

	require.Equal(t, ReasonPosted, out.Reason)
	require.Empty(t, f.publisher.parts[0].Media)
}

func TestRunTick_VoiceProfileFeedsBrief(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	deps := f.deps()
	deps.Voice = &brief.Voice{
		ProjectSummary: "a markdown toolkit",
		StyleRules:     []string{"no hashtags"},
	}

	_, _ = RunTick(context.Background(), activeState(), noon, testConfig(), deps)

	require.Equal(t, "a markdown toolkit", f.synth.brief.ProjectSummary)
	require.Equal(t, []string{"no hashtags"}, f.synth.brief.StyleRules)
}

func TestRunTick_HashtagsOnPunchyPosts(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	deps := f.deps()
	deps.Voice = &brief.Voice{Hashtags: []string{"#golang", "#parsers"}}

	_, out := RunTick(context.Background(), activeState(), morning, testConfig(), deps)

	require.Equal(t, ReasonPosted, out.Reason)
	require.Equal(t, "short post #golang #parsers", f.publisher.texts[0])
}

func TestRunTick_HashtagsRespectCharLimit(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	cfg := testConfig()
	cfg.CharLimit = len("short post #golang") // no room for a second tag
	deps := f.deps()
	deps.Voice = &brief.Voice{Hashtags: []string{"#golang", "#parsers"}}

	_, _ = RunTick(context.Background(), activeState(), morning, cfg, deps)
	require.Equal(t, "short post #golang", f.publisher.texts[0])
}

func TestRunTick_ContinuityExcerptFlowsForward(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	st := activeState()
	st.LastPostExcerpt = "yesterday we shipped the lexer"

	next, _ := RunTick(context.Background(), st, noon, testConfig(), f.deps())

	require.Equal(t, "yesterday we shipped the lexer", f.synth.brief.PreviousExcerpt)
	require.Equal(t, "explainer post", next.LastPostExcerpt, "excerpt rolls to the new post")
}

func TestRunTick_AtMostOnePublishPerMarker(t *testing.T) {
	f := newFixture()
	f.inspector.head = "h2"
	f.inspector.changes = commits("h2", "feat: streaming parser")
	st := activeState()

	st, out := RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.Equal(t, ReasonPosted, out.Reason)

	// Same head, nothing new: the marker already advanced, so no re-post.
	f.inspector.changes = nil
	f.inspector.history = commits("h2", "feat: streaming parser")
	_, out = RunTick(context.Background(), st, noon, testConfig(), f.deps())
	require.Equal(t, ReasonNoChanges, out.Reason)
	require.Equal(t, 1, f.publisher.calls)
}
