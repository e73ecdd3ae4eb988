package gitwatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// fieldSep separates the hash, subject, and timestamp in git log output.
// Unit separator cannot appear in a commit subject.
const fieldSep = "\x1f"

// Local inspects a git checkout on disk.
type Local struct {
	dir string
}

// NewLocal creates an inspector for the checkout at dir.
func NewLocal(dir string) *Local {
	return &Local{dir: dir}
}

// IsRepo reports whether dir looks like a git checkout.
func (l *Local) IsRepo() bool {
	_, err := os.Stat(filepath.Join(l.dir, ".git"))
	return err == nil
}

// GitDir returns the path the daemon watches for ref movement.
func (l *Local) GitDir() string {
	return filepath.Join(l.dir, ".git")
}

// Head returns the current HEAD commit id.
func (l *Local) Head(ctx context.Context) (string, error) {
	out, err := l.runGit(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ChangesSince lists commits after marker, newest-first. A marker git no
// longer recognizes yields an empty slice, not an error.
func (l *Local) ChangesSince(ctx context.Context, marker string) ([]Commit, error) {
	if marker == "" {
		return l.History(ctx, 20)
	}
	out, err := l.runGit(ctx, "log", marker+"..HEAD", "--pretty=format:%H"+fieldSep+"%s"+fieldSep+"%ct")
	if err != nil {
		// Stale or rewritten marker: treat as no retrievable changes.
		return nil, nil
	}
	return parseLog(out), nil
}

// History returns the most recent commits, newest-first.
func (l *Local) History(ctx context.Context, limit int) ([]Commit, error) {
	out, err := l.runGit(ctx, "log", "-n", strconv.Itoa(limit), "--pretty=format:%H"+fieldSep+"%s"+fieldSep+"%ct")
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

func (l *Local) runGit(ctx context.Context, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = l.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}

func parseLog(out string) []Commit {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	commits := make([]Commit, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, fieldSep, 3)
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		ts, _ := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		commits = append(commits, Commit{
			Marker:  parts[0],
			Subject: parts[1],
			When:    time.Unix(ts, 0),
		})
	}
	return commits
}
