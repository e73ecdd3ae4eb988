// Package brief assembles the natural-language briefs handed to the content
// synthesizer. A brief is ephemeral: built for one synthesis call, never
// persisted.
package brief

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/herald/internal/schedule"
	"github.com/hpungsan/herald/internal/state"
)

// Brief carries everything the synthesizer needs for one post.
type Brief struct {
	// Entries are the surviving change descriptions, newest-first.
	// Empty when the brief is topic-driven.
	Entries []string

	// Topic is set in fallback mode instead of Entries.
	Topic *state.Topic

	// ProjectSummary is the free-text context from the voice profile.
	ProjectSummary string

	// Inspiration holds up to three reference posts used as style exemplars.
	Inspiration []string

	// PreviousExcerpt is the tail of the last published post, for
	// narrative continuity.
	PreviousExcerpt string

	// Tone and Format come from the schedule oracle.
	Tone   string
	Format schedule.Format

	// StyleRules are the voice profile's writing constraints.
	StyleRules []string
}

// Render flattens the brief into the prompt text for the synthesizer.
func (b Brief) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You write %s social posts about a software project. Tone: %s.\n", b.Format, b.Tone)
	if b.ProjectSummary != "" {
		fmt.Fprintf(&sb, "\nProject context:\n%s\n", b.ProjectSummary)
	}

	if b.Topic != nil {
		fmt.Fprintf(&sb, "\nWrite about this part of the codebase:\n%s\n", b.Topic.Description)
		if len(b.Topic.SourceFiles) > 0 {
			fmt.Fprintf(&sb, "Representative files: %s\n", strings.Join(b.Topic.SourceFiles, ", "))
		}
	} else if len(b.Entries) > 0 {
		sb.WriteString("\nRecent changes, newest first:\n")
		for _, e := range b.Entries {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}

	if b.PreviousExcerpt != "" {
		fmt.Fprintf(&sb, "\nThe previous post ended with: %q — continue the narrative, do not repeat it.\n", b.PreviousExcerpt)
	}

	if len(b.Inspiration) > 0 {
		sb.WriteString("\nStyle exemplars (match the register, never the content):\n")
		for _, ins := range b.Inspiration {
			fmt.Fprintf(&sb, "- %s\n", ins)
		}
	}

	if len(b.StyleRules) > 0 {
		sb.WriteString("\nHouse rules:\n")
		for _, r := range b.StyleRules {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}

	return sb.String()
}

// Age reports how long ago the previous post happened, for trail messages.
func Age(lastPostAt, now time.Time) string {
	if lastPostAt.IsZero() {
		return "never"
	}
	return now.Sub(lastPostAt).Round(time.Minute).String()
}
