// Package reminder holds the gates that decide whether a user is due a push
// reminder on a given tick.
package reminder

import (
	"fmt"
	"time"
)

// Settings is the subset of user settings the gates need.
type Settings struct {
	PushOptIn    bool
	ReminderHour int
	Timezone     string
	LastPushAt   *time.Time
}

// Reason explains why a user was skipped. Empty means the user is due.
type Reason string

const (
	Due         Reason = ""
	NotOptedIn  Reason = "not_opted_in"
	WrongHour   Reason = "wrong_hour"
	AlreadySent Reason = "already_sent_today"
	EmptyToday  Reason = "empty_today"
	NoTokens    Reason = "no_tokens"
	BadTimezone Reason = "bad_timezone"
)

// LoadLocation resolves tz, falling back to fallback when tz is empty.
func LoadLocation(tz, fallback string) (*time.Location, error) {
	if tz == "" {
		tz = fallback
	}
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

// LocalHour is the hour of now in loc.
func LocalHour(now time.Time, loc *time.Location) int {
	return now.In(loc).Hour()
}

// SameLocalDay reports whether a and b fall on the same calendar day in loc.
func SameLocalDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Check runs the opt-in, hour and once-per-day gates, then the content gate
// against the user's current Today count.
func Check(s Settings, now time.Time, loc *time.Location, todayCount int) Reason {
	if r := Schedule(s, now, loc); r != Due {
		return r
	}
	if todayCount < 1 {
		return EmptyToday
	}
	return Due
}

// Schedule runs only the gates that need no store lookup, so callers can skip
// counting Today items for users who are not due anyway.
func Schedule(s Settings, now time.Time, loc *time.Location) Reason {
	if !s.PushOptIn {
		return NotOptedIn
	}
	if LocalHour(now, loc) != s.ReminderHour {
		return WrongHour
	}
	if s.LastPushAt != nil && SameLocalDay(*s.LastPushAt, now, loc) {
		return AlreadySent
	}
	return Due
}
