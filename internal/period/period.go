// Package period computes the [start, end) window a quest instance is scoped
// to. The calculator is pure: the same (kind, timezone, instant) always maps
// to the same window, which is what lets the tracker and the claim processor
// agree on which instance an event belongs to.
package period

import (
	"fmt"
	"time"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

// DefaultTimezone is used when a subject supplies no timezone or an invalid
// one.
const DefaultTimezone = "UTC"

// Window is a half-open [Start, End) instant range in a concrete timezone.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Location resolves an IANA timezone name, falling back to DefaultTimezone
// when the name is empty or unknown.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WindowFor returns the window of the given kind containing ref, aligned to
// local calendar boundaries in loc: DAILY is the local calendar day, WEEKLY
// the Monday-anchored local week, MONTHLY the local calendar month.
func WindowFor(kind string, loc *time.Location, ref time.Time) (Window, error) {
	local := ref.In(loc)

	switch kind {
	case models.QuestPeriodDaily:
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(0, 0, 1)}, nil

	case models.QuestPeriodWeekly:
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		// time.Weekday puts Sunday at 0; shift so Monday starts the week.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 7)}, nil

	case models.QuestPeriodMonthly:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return Window{Start: start, End: start.AddDate(0, 1, 0)}, nil

	default:
		return Window{}, fmt.Errorf("unknown period kind: %s", kind)
	}
}

// WindowForTZ is WindowFor with timezone resolution folded in.
func WindowForTZ(kind, tz string, ref time.Time) (Window, error) {
	return WindowFor(kind, Location(tz), ref)
}
