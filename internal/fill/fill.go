// Package fill decides which backlog items are promoted into a user's Today
// list. It is pure policy: callers load the candidate pool and apply the
// resulting ids.
package fill

import (
	"cmp"
	"slices"
	"time"
)

// DefaultOversample is how many extra candidates beyond the deficit are kept
// in the ranked window so the diversity walk has room to skip duplicates.
const DefaultOversample = 4

// Candidate is one backlog item as seen by the selector.
type Candidate struct {
	ID        string
	Domain    string
	AddedAt   time.Time
	Pinned    bool
	Snoozed   bool
	DueAt     *time.Time // next_at for snoozed items, nil for inbox items
	SeenCount int
	LastSeen  *time.Time
}

// Unseen reports whether the item has never been surfaced.
func (c Candidate) Unseen() bool {
	return c.SeenCount == 0 && c.LastSeen == nil
}

// Tier is the priority class of a candidate; lower tiers are picked first.
type Tier int

const (
	TierPinned Tier = iota
	TierUnseen
	TierDueSnoozed
	TierBacklog
)

// TierOf classifies a candidate. Pinned wins over everything else.
func TierOf(c Candidate) Tier {
	switch {
	case c.Pinned:
		return TierPinned
	case c.Snoozed:
		return TierDueSnoozed
	case c.Unseen():
		return TierUnseen
	default:
		return TierBacklog
	}
}

// Comparator orders two candidates the way slices.SortFunc expects.
type Comparator func(a, b Candidate) int

// ByPriority is the default ranking: pinned, then unseen oldest-added first,
// then due snoozed items earliest-due first, then the rest oldest-added
// first. Ties fall back to the id so the order is deterministic.
func ByPriority(a, b Candidate) int {
	if c := cmp.Compare(TierOf(a), TierOf(b)); c != 0 {
		return c
	}
	if TierOf(a) == TierDueSnoozed {
		if c := compareTimePtr(a.DueAt, b.DueAt); c != 0 {
			return c
		}
	}
	if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// compareTimePtr sorts nil after any set time.
func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// Policy holds the tunables for one selection. A negative Oversample keeps
// the window at exactly the deficit.
type Policy struct {
	Oversample int
	Compare    Comparator
}

// DefaultPolicy returns the default oversample and ranking.
func DefaultPolicy() Policy {
	return Policy{Oversample: DefaultOversample, Compare: ByPriority}
}

// Deficit is how many items are missing from a Today list of size current
// to reach perDay. Never negative.
func Deficit(perDay, current int) int {
	return max(0, perDay-current)
}

// Rank returns a sorted copy of the candidates.
func (p Policy) Rank(cands []Candidate) []Candidate {
	ranked := slices.Clone(cands)
	compare := p.Compare
	if compare == nil {
		compare = ByPriority
	}
	slices.SortStableFunc(ranked, compare)
	return ranked
}

// Window is the number of ranked candidates considered for a deficit.
func (p Policy) Window(deficit int) int {
	return deficit + max(0, p.Oversample)
}

// Select ranks the pool, keeps the oversampled window, and walks it skipping
// any candidate whose domain was already chosen in this batch. The first pick
// is always taken so a batch of same-domain candidates still makes progress.
// Candidates without a domain never collide.
func (p Policy) Select(cands []Candidate, deficit int) []Candidate {
	if deficit <= 0 || len(cands) == 0 {
		return nil
	}
	ranked := p.Rank(cands)
	if w := p.Window(deficit); len(ranked) > w {
		ranked = ranked[:w]
	}

	chosen := make([]Candidate, 0, deficit)
	domains := make(map[string]bool)
	for _, c := range ranked {
		if len(chosen) >= deficit {
			break
		}
		if len(chosen) > 0 && c.Domain != "" && domains[c.Domain] {
			continue
		}
		chosen = append(chosen, c)
		if c.Domain != "" {
			domains[c.Domain] = true
		}
	}
	return chosen
}

// IDs extracts the ids of the chosen candidates, in order.
func IDs(cands []Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	return ids
}
