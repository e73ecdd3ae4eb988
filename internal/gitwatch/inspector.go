// Package gitwatch inspects the monitored repository's change history.
// Two implementations sit behind one contract: Local shells out to git in a
// checkout, Remote polls the GitHub commits API.
package gitwatch

import (
	"context"
	"time"
)

// Commit is one change description in the monitored history.
type Commit struct {
	// Marker is the opaque change-set identifier (a commit id).
	Marker string
	// Subject is the first line of the commit message.
	Subject string
	// When is the commit timestamp.
	When time.Time
}

// Inspector answers "where is head" and "what happened since".
//
// ChangesSince must tolerate an unrecognized or stale marker by returning an
// empty slice rather than an error, since history can be rewritten. Results
// are newest-first.
type Inspector interface {
	Head(ctx context.Context) (string, error)
	ChangesSince(ctx context.Context, marker string) ([]Commit, error)
	History(ctx context.Context, limit int) ([]Commit, error)
}

// Subjects extracts the subject lines of the given commits, preserving order.
func Subjects(commits []Commit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.Subject
	}
	return out
}
