package storage

import (
	"context"
	"fmt"
	"time"
)

type DeviceToken struct {
	UserID    string
	Token     string
	Platform  string
	CreatedAt time.Time
}

// AddDeviceToken registers a push token; re-registering is a no-op apart
// from refreshing the platform.
func (s *SQLStore) AddDeviceToken(ctx context.Context, userID, token, platform string, now time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO device_tokens (user_id, token, platform, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, token) DO UPDATE SET platform = excluded.platform`,
		userID, token, nullString(platform), utc(now))
	if err != nil {
		return fmt.Errorf("failed to add device token: %w", err)
	}
	return nil
}

// RemoveDeviceToken deletes a token; ErrNotFound if it was not registered.
func (s *SQLStore) RemoveDeviceToken(ctx context.Context, userID, token string) error {
	res, err := s.exec(ctx, "DELETE FROM device_tokens WHERE user_id = ? AND token = ?", userID, token)
	if err != nil {
		return fmt.Errorf("failed to remove device token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDeviceTokens returns a user's tokens, oldest first.
func (s *SQLStore) ListDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error) {
	rows, err := s.query(ctx, `
		SELECT user_id, token, COALESCE(platform, ''), created_at
		FROM device_tokens WHERE user_id = ? ORDER BY created_at, token`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var out []DeviceToken
	for rows.Next() {
		var dt DeviceToken
		if err := rows.Scan(&dt.UserID, &dt.Token, &dt.Platform, &dt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		dt.CreatedAt = dt.CreatedAt.UTC()
		out = append(out, dt)
	}
	return out, rows.Err()
}

// ListDeviceTokensFor returns the token strings for several users at once,
// keyed by user id.
func (s *SQLStore) ListDeviceTokensFor(ctx context.Context, userIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := s.query(ctx, `
		SELECT user_id, token FROM device_tokens
		WHERE user_id IN (`+placeholders(len(userIDs))+`)
		ORDER BY user_id, created_at, token`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, token string
		if err := rows.Scan(&userID, &token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		out[userID] = append(out[userID], token)
	}
	return out, rows.Err()
}
