// Package item defines the saved-link lifecycle: the status enum and its
// transition table, content types, and the URL helpers used when a link is
// saved.
package item

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a saved item.
type Status string

const (
	StatusInbox   Status = "inbox"
	StatusToday   Status = "today"
	StatusSnoozed Status = "snoozed"
	StatusDone    Status = "done"
)

// ErrInvalidTransition is returned for any status change not in the table.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists every allowed from → to move. Items reach snoozed and
// done only by way of today. Done has no outgoing edges.
var transitions = map[Status][]Status{
	StatusInbox:   {StatusToday},
	StatusToday:   {StatusDone, StatusSnoozed},
	StatusSnoozed: {StatusToday},
	StatusDone:    nil,
}

// ParseStatus validates a stored or user-supplied status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from → to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns ErrInvalidTransition (wrapped with both states) when the
// move is not in the table.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Pinnable reports whether the pinned flag is meaningful in status s.
func (s Status) Pinnable() bool {
	return s == StatusInbox || s == StatusToday || s == StatusSnoozed
}

// Reachable returns every status reachable from s through one or more
// transitions, excluding s itself unless a cycle leads back to it.
func Reachable(s Status) []Status {
	seen := make(map[Status]bool)
	var out []Status
	queue := append([]Status(nil), transitions[s]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, transitions[next]...)
	}
	return out
}

// SnoozeVariant selects how far a snooze pushes the due time.
type SnoozeVariant string

const (
	SnoozeTomorrow SnoozeVariant = "tomorrow"
	SnoozeNextWeek SnoozeVariant = "next_week"
)

// ParseSnoozeVariant accepts "tomorrow" (the default for an empty string) or
// "next_week".
func ParseSnoozeVariant(s string) (SnoozeVariant, error) {
	switch SnoozeVariant(s) {
	case "", SnoozeTomorrow:
		return SnoozeTomorrow, nil
	case SnoozeNextWeek:
		return SnoozeNextWeek, nil
	}
	return "", fmt.Errorf("unknown snooze variant %q", s)
}

// Days is the number of days the variant adds to now.
func (v SnoozeVariant) Days() int {
	if v == SnoozeNextWeek {
		return 7
	}
	return 1
}
