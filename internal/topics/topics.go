// Package topics derives static talking points from a repository so the
// engine has something to post about once change history is exhausted.
// Discovery is deterministic: same tree, same topics.
package topics

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hpungsan/herald/internal/state"
)

// maxTopics bounds one discovery pass; the fallback ladder only ever needs a
// handful of talking points per repository.
const maxTopics = 12

// maxSourceFiles caps the representative files recorded per topic.
const maxSourceFiles = 5

// sourceExtensions are the file types considered representative of the code.
var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".ts": true, ".tsx": true,
	".js": true, ".rs": true, ".rb": true, ".java": true,
}

// skipDirs are never descended into during discovery.
var skipDirs = map[string]bool{
	".git": true, "vendor": true, "node_modules": true, "testdata": true,
}

// Discover scans the checkout at dir and returns talking points ordered by
// descending relevance (ties broken by name for determinism).
func Discover(dir string) ([]state.Topic, error) {
	groups := map[string][]string{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are simply not representative
		}
		name := d.Name()
		if d.IsDir() {
			if skipDirs[name] || strings.HasPrefix(name, "_") || (strings.HasPrefix(name, ".") && path != dir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(name)] || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		groups[topicKey(rel)] = append(groups[topicKey(rel)], rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	out := make([]state.Topic, 0, len(groups))
	for key, files := range groups {
		sort.Strings(files)
		picked := files
		if len(picked) > maxSourceFiles {
			picked = picked[:maxSourceFiles]
		}
		out = append(out, state.Topic{
			Name:        key,
			Description: describe(key, files),
			SourceFiles: append([]string(nil), picked...),
			Relevance:   relevance(len(files)),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > maxTopics {
		out = out[:maxTopics]
	}
	return out, nil
}

// Next returns the highest-relevance topic not yet posted, or nil when the
// fallback is exhausted.
func Next(st state.EngineState) *state.Topic {
	for i := range st.Topics {
		if !st.HasPostedTopic(st.Topics[i].Name) {
			t := st.Topics[i]
			return &t
		}
	}
	return nil
}

// topicKey groups files by their top-most meaningful directory.
func topicKey(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 1 {
		return "project root"
	}
	// internal/foo and cmd/foo are more telling than bare internal/ or cmd/.
	if (parts[0] == "internal" || parts[0] == "cmd" || parts[0] == "pkg") && len(parts) > 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func describe(key string, files []string) string {
	sample := files
	if len(sample) > 3 {
		sample = sample[:3]
	}
	return fmt.Sprintf("the %s area of the codebase (%d source files, e.g. %s)",
		key, len(files), strings.Join(sample, ", "))
}

// relevance buckets file count into the 1..10 scale.
func relevance(fileCount int) int {
	switch {
	case fileCount >= 20:
		return 9
	case fileCount >= 10:
		return 8
	case fileCount >= 5:
		return 6
	case fileCount >= 2:
		return 4
	default:
		return 2
	}
}

// Exists reports whether dir is a directory worth scanning.
func Exists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
