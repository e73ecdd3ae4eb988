package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hpungsan/herald/internal/config"
	"github.com/hpungsan/herald/internal/errors"
	"github.com/hpungsan/herald/internal/state"
)

// debounceWindow coalesces bursts of filesystem events (a git commit touches
// many files under .git) into a single tick.
const debounceWindow = 2 * time.Second

// DepsFunc builds the collaborator set for the given state. It is a function
// rather than a fixed value because the inspector depends on the monitor
// target, which can change between ticks.
type DepsFunc func(st state.EngineState) Collaborators

// Runner serializes ticks over the persisted state. At most one tick runs at
// a time; a tick requested while another is in flight reports
// tick_in_progress instead of queueing.
type Runner struct {
	store *state.Store
	cfg   *config.Config
	deps  DepsFunc

	tickMu sync.Mutex

	mu   sync.Mutex
	last *Outcome
}

// NewRunner wires a runner over the state store.
func NewRunner(store *state.Store, cfg *config.Config, deps DepsFunc) *Runner {
	return &Runner{store: store, cfg: cfg, deps: deps}
}

// Tick runs one decision cycle and persists the resulting state. Concurrent
// callers do not block: the loser returns immediately with tick_in_progress.
func (r *Runner) Tick(ctx context.Context) (Outcome, error) {
	if !r.tickMu.TryLock() {
		return Outcome{
			Success: true,
			Reason:  ReasonTickInProgress,
			Message: "another tick is already running",
		}, nil
	}
	defer r.tickMu.Unlock()

	st, err := r.store.Load()
	if err != nil {
		return Outcome{}, errors.NewInternal(err)
	}

	next, out := RunTick(ctx, st, time.Now(), r.cfg, r.deps(st))

	if err := r.store.Save(next); err != nil {
		return Outcome{}, errors.NewInternal(fmt.Errorf("persist state after tick: %w", err))
	}

	r.mu.Lock()
	r.last = &out
	r.mu.Unlock()
	return out, nil
}

// Snapshot returns a copy of the persisted state and the most recent tick
// outcome (nil before the first tick of this process).
func (r *Runner) Snapshot() (state.EngineState, *Outcome, error) {
	st, err := r.store.Load()
	if err != nil {
		return state.EngineState{}, nil, errors.NewInternal(err)
	}
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	return st.Clone(), last, nil
}

// SetActive flips the master switch.
func (r *Runner) SetActive(active bool) (state.EngineState, error) {
	return r.mutate(func(st *state.EngineState) error {
		st.Active = active
		return nil
	})
}

// SetTarget points the engine at a different repository. Progress markers,
// the dedup guard, and the topic cache belong to the old target and are
// cleared; the daily quota is a property of the account and survives.
func (r *Runner) SetTarget(mode state.Mode, owner, name string) (state.EngineState, error) {
	if mode != state.ModeLocal && mode != state.ModeRemote {
		return state.EngineState{}, errors.NewInvalidRequest(fmt.Sprintf("unknown mode %q", mode))
	}
	if mode == state.ModeRemote && (owner == "" || name == "") {
		return state.EngineState{}, errors.NewInvalidRequest("remote mode requires owner and name")
	}
	return r.mutate(func(st *state.EngineState) error {
		st.Mode = mode
		st.RemoteOwner, st.RemoteName = owner, name
		if mode == state.ModeLocal {
			st.RemoteOwner, st.RemoteName = "", ""
		}
		st.LastProcessedMarker = ""
		st.PublishedMarkers = nil
		st.Topics = nil
		st.PostedTopics = nil
		return nil
	})
}

// mutate applies fn to the persisted state under the tick lock so a
// concurrent tick cannot interleave with the edit.
func (r *Runner) mutate(fn func(*state.EngineState) error) (state.EngineState, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	st, err := r.store.Load()
	if err != nil {
		return state.EngineState{}, errors.NewInternal(err)
	}
	if err := fn(&st); err != nil {
		return state.EngineState{}, err
	}
	if err := r.store.Save(st); err != nil {
		return state.EngineState{}, errors.NewInternal(err)
	}
	return st, nil
}

// Run is the daemon loop: a tick on startup, then on every interval, plus an
// event-driven tick whenever watchDir (typically the monitored checkout's
// .git directory) changes. Blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, watchDir string) error {
	interval := time.Duration(r.cfg.TickIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	events := make(chan struct{}, 1)
	if watchDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(watchDir); err != nil {
			return fmt.Errorf("watch %s: %w", watchDir, err)
		}
		go debounce(ctx, watcher, events)
		log.Printf("watching %s for changes", watchDir)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		case <-events:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	out, err := r.Tick(ctx)
	if err != nil {
		log.Printf("tick error: %v", err)
		return
	}
	log.Printf("tick: reason=%s success=%t %s", out.Reason, out.Success, out.Message)
}

// debounce forwards watcher activity to out, collapsing event bursts into
// one notification per quiet window.
func debounce(ctx context.Context, watcher *fsnotify.Watcher, out chan<- struct{}) {
	var timer *time.Timer
	fire := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.AfterFunc(debounceWindow, fire)
			} else {
				timer.Reset(debounceWindow)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watch error: %v", err)
		}
	}
}
