package stashloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matthewjhunter/stashloop/internal/fill"
	"github.com/matthewjhunter/stashloop/internal/item"
	"github.com/matthewjhunter/stashloop/internal/reminder"
	"github.com/matthewjhunter/stashloop/internal/storage"
	"github.com/matthewjhunter/stashloop/internal/streak"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FillToday tops up Today lists to each user's quota. A user caller fills
// its own list and gets its error back; the scheduler fills every user and
// records per-user failures in the report.
func (e *Engine) FillToday(ctx context.Context, caller CallerContext) (*Report[FillResult], error) {
	return run(ctx, e, caller, "fill", e.listAllUsers, e.fillUser)
}

// RecomputeStreak advances the streak of users whose Today list is cleared.
func (e *Engine) RecomputeStreak(ctx context.Context, caller CallerContext) (*Report[StreakResult], error) {
	return run(ctx, e, caller, "streak", e.listAllUsers, e.recomputeStreak)
}

// SendReminders sends the daily reminder to users who are due one now.
func (e *Engine) SendReminders(ctx context.Context, caller CallerContext) (*Report[ReminderResult], error) {
	return run(ctx, e, caller, "reminders", e.listOptedIn, e.remindUser)
}

func (e *Engine) listAllUsers(ctx context.Context) ([]string, error) {
	return e.store.ListUserIDs(ctx)
}

func (e *Engine) listOptedIn(ctx context.Context) ([]string, error) {
	users, err := e.store.ListOptedIn(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.UserID
	}
	return ids, nil
}

// run executes fn for the caller's scope. Users are processed independently
// with at most e.concurrency in flight; one user's failure never stops the
// others.
func run[T any](ctx context.Context, e *Engine, caller CallerContext, name string,
	list func(context.Context) ([]string, error),
	fn func(context.Context, string) (T, error),
) (*Report[T], error) {
	if !caller.TrustedBatch {
		if caller.UserID == "" {
			return nil, ErrUnauthorized
		}
		res, err := fn(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		return &Report[T]{Users: 1, Results: []T{res}}, nil
	}
	if caller.UserID != "" {
		res, err := fn(ctx, caller.UserID)
		if err != nil {
			return &Report[T]{Batch: true, Users: 1, Failed: 1,
				Errors: []UserError{{UserID: caller.UserID, Error: err.Error()}}}, nil
		}
		return &Report[T]{Batch: true, Users: 1, Results: []T{res}}, nil
	}

	users, err := list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users for %s: %w", name, err)
	}

	start := time.Now()
	results := make([]*T, len(users))
	errs := make([]error, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, userID := range users {
		g.Go(func() error {
			res, err := fn(gctx, userID)
			if err != nil {
				errs[i] = err
				e.log.Warn("user skipped", zap.String("run", name), zap.String("user_id", userID), zap.Error(err))
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	report := &Report[T]{Batch: true, Users: len(users), Results: make([]T, 0, len(users))}
	for i, userID := range users {
		if errs[i] != nil {
			report.Failed++
			report.Errors = append(report.Errors, UserError{UserID: userID, Error: errs[i].Error()})
			continue
		}
		report.Results = append(report.Results, *results[i])
	}
	e.log.Info("batch run complete",
		zap.String("run", name),
		zap.Int("users", report.Users),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

// fillUser promotes up to the user's deficit. The per-user lock keeps two
// fills in this process from both reading the same deficit; PromoteToToday
// itself only touches rows that are still eligible.
func (e *Engine) fillUser(ctx context.Context, userID string) (FillResult, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	res := FillResult{UserID: userID}
	st, err := e.ensureSettings(ctx, userID)
	if err != nil {
		return res, err
	}
	current, err := e.store.CountByStatus(ctx, userID, item.StatusToday)
	if err != nil {
		return res, fmt.Errorf("count today: %w", err)
	}
	res.Deficit = fill.Deficit(st.ItemsPerDay, current)
	if res.Deficit == 0 {
		return res, nil
	}

	now := e.now()
	backlog, err := e.store.BacklogCandidates(ctx, userID, now)
	if err != nil {
		return res, fmt.Errorf("load backlog: %w", err)
	}
	chosen := e.policy.Select(candidates(backlog), res.Deficit)
	if len(chosen) == 0 {
		return res, nil
	}

	ids := fill.IDs(chosen)
	n, err := e.store.PromoteToToday(ctx, userID, ids, now)
	if err != nil {
		return res, fmt.Errorf("promote: %w", err)
	}
	res.Promoted = n
	res.ItemIDs = ids
	e.log.Debug("today filled", zap.String("user_id", userID), zap.Int("deficit", res.Deficit), zap.Int("promoted", n))
	return res, nil
}

func candidates(items []storage.Item) []fill.Candidate {
	out := make([]fill.Candidate, len(items))
	for i, it := range items {
		out[i] = fill.Candidate{
			ID:        it.ID,
			Domain:    it.Domain,
			AddedAt:   it.AddedAt,
			Pinned:    it.Pinned,
			Snoozed:   it.Status == item.StatusSnoozed,
			DueAt:     it.NextAt,
			SeenCount: it.SeenCount,
			LastSeen:  it.LastSeenAt,
		}
	}
	return out
}

// recomputeStreak counts today as a qualifying day when the Today list is
// empty and something was completed since local midnight. The write is a
// compare-and-swap on the stored day, so concurrent callers advance the
// streak at most once.
func (e *Engine) recomputeStreak(ctx context.Context, userID string) (StreakResult, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	res := StreakResult{UserID: userID}
	st, err := e.ensureSettings(ctx, userID)
	if err != nil {
		return res, err
	}
	res.Streak = streakFromInternal(*st)

	loc, err := reminder.LoadLocation(st.Timezone, e.defaults.Timezone)
	if err != nil {
		return res, err
	}
	remaining, err := e.store.CountByStatus(ctx, userID, item.StatusToday)
	if err != nil {
		return res, fmt.Errorf("count today: %w", err)
	}
	if remaining > 0 {
		return res, nil
	}
	now := e.now()
	done, err := e.store.CountDoneSince(ctx, userID, streak.StartOfDay(now, loc))
	if err != nil {
		return res, fmt.Errorf("count done: %w", err)
	}
	if done == 0 {
		return res, nil
	}
	res.Qualified = true

	before := streak.State{Current: st.Streak, Best: st.BestStreak, LastDay: st.LastStreakAt}
	after, err := streak.Advance(before, streak.LocalDay(now, loc))
	if err != nil {
		return res, err
	}
	if !streak.Changed(before, after) {
		return res, nil
	}

	swapped, err := e.store.CompareAndSwapStreak(ctx, userID, before.LastDay, storage.StreakUpdate{
		Streak:       after.Current,
		BestStreak:   after.Best,
		LastStreakAt: after.LastDay,
	})
	if err != nil {
		return res, err
	}
	if !swapped {
		// another writer advanced it first; report what is stored now
		fresh, err := e.store.GetSettings(ctx, userID)
		if err != nil {
			return res, storeErr(err)
		}
		res.Streak = streakFromInternal(*fresh)
		return res, nil
	}
	res.Advanced = after.Current != before.Current || after.LastDay != before.LastDay
	res.Streak = Streak{Streak: after.Current, BestStreak: after.Best, LastStreakAt: after.LastDay}
	e.log.Info("streak advanced", zap.String("user_id", userID), zap.Int("streak", after.Current), zap.Int("best", after.Best))
	return res, nil
}

// remindUser applies the hour, once-per-day and content gates and sends the
// reminder. last_push_at moves only after the transport accepted at least
// one chunk.
func (e *Engine) remindUser(ctx context.Context, userID string) (ReminderResult, error) {
	res := ReminderResult{UserID: userID}
	st, err := e.store.GetSettings(ctx, userID)
	if err != nil {
		return res, storeErr(err)
	}
	loc, err := reminder.LoadLocation(st.Timezone, e.defaults.Timezone)
	if err != nil {
		res.Reason = string(reminder.BadTimezone)
		return res, err
	}

	now := e.now()
	gate := reminder.Settings{
		PushOptIn:    st.PushOptIn,
		ReminderHour: st.ReminderHour,
		Timezone:     st.Timezone,
		LastPushAt:   st.LastPushAt,
	}
	if r := reminder.Schedule(gate, now, loc); r != reminder.Due {
		res.Reason = string(r)
		return res, nil
	}
	todayCount, err := e.store.CountByStatus(ctx, userID, item.StatusToday)
	if err != nil {
		return res, fmt.Errorf("count today: %w", err)
	}
	if r := reminder.Check(gate, now, loc, todayCount); r != reminder.Due {
		res.Reason = string(r)
		return res, nil
	}

	tokens, err := e.store.ListDeviceTokensFor(ctx, []string{userID})
	if err != nil {
		return res, fmt.Errorf("list tokens: %w", err)
	}
	userTokens := tokens[userID]
	res.Tokens = len(userTokens)
	if len(userTokens) == 0 {
		res.Reason = string(reminder.NoTokens)
		return res, nil
	}

	sent, err := e.push.Send(ctx, userTokens, e.reminder)
	if err != nil {
		return res, fmt.Errorf("send reminder: %w", err)
	}
	res.Sent = true
	res.Delivered = sent.Sent
	if err := e.store.UpdateLastPush(ctx, userID, now); err != nil {
		return res, err
	}
	return res, nil
}

// userLocks serializes work on the same user inside one process.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
