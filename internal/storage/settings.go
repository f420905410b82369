package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Settings is a user's preferences plus the streak and push bookkeeping.
type Settings struct {
	UserID       string
	ItemsPerDay  int
	ReminderHour int
	Timezone     string
	PushOptIn    bool
	LastPushAt   *time.Time
	Streak       int
	BestStreak   int
	LastStreakAt string // YYYY-MM-DD, empty when never counted
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SettingsPatch holds the user-editable fields; nil means unchanged.
type SettingsPatch struct {
	ItemsPerDay  *int
	ReminderHour *int
	Timezone     *string
	PushOptIn    *bool
}

// StreakUpdate is the new streak triple written by CompareAndSwapStreak.
type StreakUpdate struct {
	Streak       int
	BestStreak   int
	LastStreakAt string
}

const settingsColumns = `user_id, items_per_day, reminder_hour, timezone, push_opt_in, last_push_at,
	streak, best_streak, last_streak_at, created_at, updated_at`

func scanSettings(row rowScanner) (*Settings, error) {
	var (
		st       Settings
		lastPush sql.NullTime
		lastDay  sql.NullString
	)
	err := row.Scan(&st.UserID, &st.ItemsPerDay, &st.ReminderHour, &st.Timezone, &st.PushOptIn,
		&lastPush, &st.Streak, &st.BestStreak, &lastDay, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.LastPushAt = timePtr(lastPush)
	st.LastStreakAt = lastDay.String
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// EnsureSettings creates the settings row with the given defaults if it does
// not exist yet, then returns the stored row.
func (s *SQLStore) EnsureSettings(ctx context.Context, userID string, defaults Settings, now time.Time) (*Settings, error) {
	_, err := s.exec(ctx, `
		INSERT INTO user_settings (user_id, items_per_day, reminder_hour, timezone, push_opt_in,
			streak, best_streak, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, defaults.ItemsPerDay, defaults.ReminderHour, defaults.Timezone, defaults.PushOptIn,
		utc(now), utc(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create settings: %w", err)
	}
	return s.GetSettings(ctx, userID)
}

// GetSettings returns ErrNotFound for users that were never initialized.
func (s *SQLStore) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	row := s.queryRow(ctx, "SELECT "+settingsColumns+" FROM user_settings WHERE user_id = ?", userID)
	st, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return st, nil
}

// UpdateSettings applies the non-nil fields of patch.
func (s *SQLStore) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch, now time.Time) (*Settings, error) {
	set := "updated_at = ?"
	args := []any{utc(now)}
	if patch.ItemsPerDay != nil {
		set += ", items_per_day = ?"
		args = append(args, *patch.ItemsPerDay)
	}
	if patch.ReminderHour != nil {
		set += ", reminder_hour = ?"
		args = append(args, *patch.ReminderHour)
	}
	if patch.Timezone != nil {
		set += ", timezone = ?"
		args = append(args, *patch.Timezone)
	}
	if patch.PushOptIn != nil {
		set += ", push_opt_in = ?"
		args = append(args, *patch.PushOptIn)
	}
	args = append(args, userID)

	res, err := s.exec(ctx, "UPDATE user_settings SET "+set+" WHERE user_id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetSettings(ctx, userID)
}

// ListUserIDs returns every user with a settings row.
func (s *SQLStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, "SELECT user_id FROM user_settings ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListOptedIn returns the settings of every user with push_opt_in set.
func (s *SQLStore) ListOptedIn(ctx context.Context) ([]Settings, error) {
	rows, err := s.query(ctx, "SELECT "+settingsColumns+" FROM user_settings WHERE push_opt_in = ? ORDER BY user_id", true)
	if err != nil {
		return nil, fmt.Errorf("failed to list opted-in users: %w", err)
	}
	defer rows.Close()

	var out []Settings
	for rows.Next() {
		st, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settings: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// UpdateLastPush records when the user was last reminded.
func (s *SQLStore) UpdateLastPush(ctx context.Context, userID string, at time.Time) error {
	_, err := s.exec(ctx, "UPDATE user_settings SET last_push_at = ? WHERE user_id = ?", utc(at), userID)
	if err != nil {
		return fmt.Errorf("failed to update last push: %w", err)
	}
	return nil
}

// CompareAndSwapStreak writes next only if last_streak_at still equals
// expectLastDay (empty meaning NULL). It returns false when another writer got
// there first.
func (s *SQLStore) CompareAndSwapStreak(ctx context.Context, userID, expectLastDay string, next StreakUpdate) (bool, error) {
	cmp := "IS"
	if s.dialect == Postgres {
		cmp = "IS NOT DISTINCT FROM"
	}
	res, err := s.exec(ctx, `
		UPDATE user_settings SET streak = ?, best_streak = ?, last_streak_at = ?
		WHERE user_id = ? AND last_streak_at `+cmp+` ?`,
		next.Streak, next.BestStreak, nullString(next.LastStreakAt), userID, nullString(expectLastDay))
	if err != nil {
		return false, fmt.Errorf("failed to update streak: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read updated count: %w", err)
	}
	return n == 1, nil
}
