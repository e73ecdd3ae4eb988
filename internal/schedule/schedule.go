// Package schedule maps wall-clock time to the posting window and the
// content format/tone for that part of the day.
//
// The hour bands are a fixed, non-overlapping partition of the day:
//
//	08:00–10:59  punchy, upbeat
//	11:00–15:59  explainer, informative
//	16:00–20:59  thread, reflective
//
// All other hours are closed. Exactly one band can match any hour, so the
// mapping is deterministic.
package schedule

import "time"

// Format is the content shape the synthesizer should target.
type Format string

const (
	FormatPunchy    Format = "punchy"
	FormatExplainer Format = "explainer"
	FormatThread    Format = "thread"
)

// Slot is the oracle's verdict for a moment in time.
type Slot struct {
	Open   bool
	Format Format
	Tone   string
}

// band is a half-open hour range [From, To).
type band struct {
	from, to int
	format   Format
	tone     string
}

var bands = []band{
	{8, 11, FormatPunchy, "upbeat"},
	{11, 16, FormatExplainer, "informative"},
	{16, 21, FormatThread, "reflective"},
}

// At returns the slot for the given instant in the given zone.
func At(now time.Time, loc *time.Location) Slot {
	hour := now.In(loc).Hour()
	for _, b := range bands {
		if hour >= b.from && hour < b.to {
			return Slot{Open: true, Format: b.format, Tone: b.tone}
		}
	}
	return Slot{}
}
