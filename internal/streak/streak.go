// Package streak computes the daily clearance streak over calendar days in
// the user's local timezone.
package streak

import (
	"fmt"
	"time"
)

// DayLayout is how local days are stored.
const DayLayout = "2006-01-02"

// State is a user's streak counters.
type State struct {
	Current int
	Best    int
	LastDay string // YYYY-MM-DD in the user's zone; empty if never counted
}

// LocalDay formats t as a calendar day in loc.
func LocalDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DayLayout)
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// DaysBetween returns the number of calendar days from a to b, both
// YYYY-MM-DD. Negative when b is before a.
func DaysBetween(a, b string) (int, error) {
	da, err := time.Parse(DayLayout, a)
	if err != nil {
		return 0, fmt.Errorf("parse day %q: %w", a, err)
	}
	db, err := time.Parse(DayLayout, b)
	if err != nil {
		return 0, fmt.Errorf("parse day %q: %w", b, err)
	}
	// Parsed in UTC, so every day is exactly 24h.
	return int(db.Sub(da).Hours() / 24), nil
}

// Advance applies one qualifying day to s. A repeat of the stored day or an
// older day leaves the streak alone; the day after the stored day extends
// it; anything else restarts it at 1. Best never decreases.
func Advance(s State, today string) (State, error) {
	next := s
	switch {
	case s.LastDay == "":
		next.Current = 1
		next.LastDay = today
	default:
		gap, err := DaysBetween(s.LastDay, today)
		if err != nil {
			return s, err
		}
		switch {
		case gap <= 0:
			// already counted, or the clock moved backwards
		case gap == 1:
			next.Current = s.Current + 1
			next.LastDay = today
		default:
			next.Current = 1
			next.LastDay = today
		}
	}
	next.Best = max(s.Best, next.Current)
	return next, nil
}

// Changed reports whether applying Advance produced a new state to persist.
func Changed(before, after State) bool {
	return before != after
}
