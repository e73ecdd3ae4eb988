// Package scoring classifies change descriptions by newsworthiness.
// Everything here is a pure function over commit subject lines; matching is
// case-insensitive substring work, no tokenization.
package scoring

import "strings"

// Batching thresholds: a batch below both is held for a future, larger batch
// unless a golden trigger is present.
const (
	MinScore = 3
	MinCount = 3
)

// noisePrefixes mark subjects with no content value. Noise-only batches are
// permanently skipped (the marker advances past them).
var noisePrefixes = []string{"chore:", "wip:", "merge"}

// IsNoise reports whether a subject line carries no content value.
func IsNoise(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, p := range noisePrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Filter returns the subjects that survive the noise filter, preserving order.
func Filter(subjects []string) []string {
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		if !IsNoise(s) {
			out = append(out, s)
		}
	}
	return out
}

// Score sums the significance of the given subjects:
// feat: +3, perf: +2, fix:/refactor: +1, anything else 0.
func Score(subjects []string) int {
	total := 0
	for _, s := range subjects {
		l := strings.ToLower(s)
		switch {
		case strings.Contains(l, "feat:"):
			total += 3
		case strings.Contains(l, "perf:"):
			total += 2
		case strings.Contains(l, "fix:"), strings.Contains(l, "refactor:"):
			total += 1
		}
	}
	return total
}

// HasGoldenTrigger reports whether any subject is strong enough to bypass
// the minimum-batch-size rule.
func HasGoldenTrigger(subjects []string) bool {
	for _, s := range subjects {
		l := strings.ToLower(s)
		if strings.Contains(l, "feat:") || strings.Contains(l, "major:") {
			return true
		}
	}
	return false
}

// ShouldBatch reports whether the surviving subjects should be held for a
// future tick rather than posted now.
func ShouldBatch(subjects []string) bool {
	if HasGoldenTrigger(subjects) {
		return false
	}
	return len(subjects) < MinCount && Score(subjects) < MinScore
}
