package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FeedSource is an RSS/Atom feed whose entries are saved into a user's inbox.
type FeedSource struct {
	ID           int64
	UserID       string
	URL          string
	Title        string
	ETag         string
	LastModified string
	LastFetched  *time.Time
	LastError    *string
	CreatedAt    time.Time
}

const feedColumns = `id, user_id, url, title, COALESCE(etag, ''), COALESCE(last_modified, ''),
	last_fetched, last_error, created_at`

func scanFeedSources(rows *sql.Rows) ([]FeedSource, error) {
	defer rows.Close()
	var out []FeedSource
	for rows.Next() {
		var (
			f           FeedSource
			lastFetched sql.NullTime
			lastError   sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.URL, &f.Title, &f.ETag, &f.LastModified,
			&lastFetched, &lastError, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feed source: %w", err)
		}
		f.LastFetched = timePtr(lastFetched)
		if lastError.Valid {
			f.LastError = &lastError.String
		}
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// AddFeedSource registers a feed for a user. Adding the same URL twice
// returns the existing id and refreshes the title.
func (s *SQLStore) AddFeedSource(ctx context.Context, userID, url, title string, now time.Time) (int64, error) {
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO feed_sources (user_id, url, title, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, url) DO UPDATE SET title = excluded.title
		RETURNING id`,
		userID, url, title, utc(now)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add feed source: %w", err)
	}
	return id, nil
}

// ListFeedSources returns one user's feeds.
func (s *SQLStore) ListFeedSources(ctx context.Context, userID string) ([]FeedSource, error) {
	rows, err := s.query(ctx, "SELECT "+feedColumns+" FROM feed_sources WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feed sources: %w", err)
	}
	return scanFeedSources(rows)
}

// ListAllFeedSources returns every user's feeds, for the poller.
func (s *SQLStore) ListAllFeedSources(ctx context.Context) ([]FeedSource, error) {
	rows, err := s.query(ctx, "SELECT "+feedColumns+" FROM feed_sources ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list feed sources: %w", err)
	}
	return scanFeedSources(rows)
}

// RemoveFeedSource deletes a feed owned by userID.
func (s *SQLStore) RemoveFeedSource(ctx context.Context, userID string, id int64) error {
	res, err := s.exec(ctx, "DELETE FROM feed_sources WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to remove feed source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFeedCacheHeaders stores the validators for the next conditional fetch.
func (s *SQLStore) UpdateFeedCacheHeaders(ctx context.Context, id int64, etag, lastModified string) error {
	_, err := s.exec(ctx, "UPDATE feed_sources SET etag = ?, last_modified = ? WHERE id = ?",
		nullString(etag), nullString(lastModified), id)
	if err != nil {
		return fmt.Errorf("failed to update feed cache headers: %w", err)
	}
	return nil
}

// UpdateFeedError records a failed fetch.
func (s *SQLStore) UpdateFeedError(ctx context.Context, id int64, msg string, now time.Time) error {
	_, err := s.exec(ctx, "UPDATE feed_sources SET last_error = ?, last_fetched = ? WHERE id = ?", msg, utc(now), id)
	if err != nil {
		return fmt.Errorf("failed to update feed error: %w", err)
	}
	return nil
}

// ClearFeedError records a successful fetch.
func (s *SQLStore) ClearFeedError(ctx context.Context, id int64, now time.Time) error {
	_, err := s.exec(ctx, "UPDATE feed_sources SET last_error = NULL, last_fetched = ? WHERE id = ?", utc(now), id)
	if err != nil {
		return fmt.Errorf("failed to clear feed error: %w", err)
	}
	return nil
}
