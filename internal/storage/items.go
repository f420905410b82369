package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matthewjhunter/stashloop/internal/item"
)

type Item struct {
	ID          string
	UserID      string
	URL         string
	Domain      string
	Title       string
	Description string
	ThumbURL    string
	Type        item.ContentType
	Status      item.Status
	Pinned      bool
	AddedAt     time.Time
	LastSeenAt  *time.Time
	SeenCount   int
	NextAt      *time.Time
	DoneAt      *time.Time
}

// Metadata is the scraper-populated part of an item.
type Metadata struct {
	Domain      string
	Title       string
	Description string
	ThumbURL    string
	Type        item.ContentType
}

// ItemFilter selects items for a listing.
type ItemFilter struct {
	Statuses    []item.Status
	NewestFirst bool // pinned items always sort first
	Limit       int
}

// TransitionEffects are the column changes applied alongside a status move.
type TransitionEffects struct {
	Now    time.Time
	NextAt *time.Time // snoozed only
}

const itemColumns = `id, user_id, url, domain, title, description, thumb_url, type, status,
	pinned, added_at, last_seen_at, seen_count, next_at, done_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it                         Item
		domain, title, desc, thumb sql.NullString
		typ, status                string
		lastSeen, nextAt, doneAt   sql.NullTime
	)
	err := row.Scan(&it.ID, &it.UserID, &it.URL, &domain, &title, &desc, &thumb, &typ, &status,
		&it.Pinned, &it.AddedAt, &lastSeen, &it.SeenCount, &nextAt, &doneAt)
	if err != nil {
		return nil, err
	}
	it.Domain = domain.String
	it.Title = title.String
	it.Description = desc.String
	it.ThumbURL = thumb.String
	it.Type = item.ParseContentType(typ)
	it.Status = item.Status(status)
	it.AddedAt = it.AddedAt.UTC()
	it.LastSeenAt = timePtr(lastSeen)
	it.NextAt = timePtr(nextAt)
	it.DoneAt = timePtr(doneAt)
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// AddItem inserts a new item. ID, UserID, URL and AddedAt must be set; an
// empty status is stored as inbox.
func (s *SQLStore) AddItem(ctx context.Context, it *Item) error {
	if it.Status == "" {
		it.Status = item.StatusInbox
	}
	if it.Type == "" {
		it.Type = item.TypeOther
	}
	_, err := s.exec(ctx, `
		INSERT INTO items (id, user_id, url, domain, title, description, thumb_url, type, status,
			pinned, added_at, seen_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		it.ID, it.UserID, it.URL, nullString(it.Domain), nullString(it.Title),
		nullString(it.Description), nullString(it.ThumbURL), string(it.Type), string(it.Status),
		it.Pinned, utc(it.AddedAt))
	if err != nil {
		return fmt.Errorf("failed to add item: %w", err)
	}
	return nil
}

// GetItem returns the item if it exists and belongs to userID.
func (s *SQLStore) GetItem(ctx context.Context, userID, id string) (*Item, error) {
	row := s.queryRow(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ? AND user_id = ?", id, userID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// ItemExists reports whether userID already saved url.
func (s *SQLStore) ItemExists(ctx context.Context, userID, url string) (bool, error) {
	var n int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM items WHERE user_id = ? AND url = ?", userID, url).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check item: %w", err)
	}
	return n > 0, nil
}

// ListItems returns a user's items in the given statuses, pinned first and
// then by added_at.
func (s *SQLStore) ListItems(ctx context.Context, userID string, f ItemFilter) ([]Item, error) {
	args := []any{userID}
	q := "SELECT " + itemColumns + " FROM items WHERE user_id = ?"
	if len(f.Statuses) > 0 {
		q += " AND status IN (" + placeholders(len(f.Statuses)) + ")"
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	order := "ASC"
	if f.NewestFirst {
		order = "DESC"
	}
	q += " ORDER BY pinned DESC, added_at " + order + ", id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return scanItems(rows)
}

// CountByStatus counts a user's items in one status.
func (s *SQLStore) CountByStatus(ctx context.Context, userID string, status item.Status) (int, error) {
	var n int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM items WHERE user_id = ? AND status = ?",
		userID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// CountDoneSince counts items the user marked done at or after since.
func (s *SQLStore) CountDoneSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM items WHERE user_id = ? AND status = 'done' AND done_at >= ?",
		userID, utc(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count done items: %w", err)
	}
	return n, nil
}

// BacklogCandidates returns every item eligible for promotion: inbox items,
// and snoozed items whose next_at is at or before now. Ordering is left to
// the caller's ranking policy.
func (s *SQLStore) BacklogCandidates(ctx context.Context, userID string, now time.Time) ([]Item, error) {
	rows, err := s.query(ctx, "SELECT "+itemColumns+` FROM items
		WHERE user_id = ?
		  AND (status = 'inbox' OR (status = 'snoozed' AND next_at IS NOT NULL AND next_at <= ?))`,
		userID, utc(now))
	if err != nil {
		return nil, fmt.Errorf("failed to load backlog: %w", err)
	}
	return scanItems(rows)
}

// PromoteToToday moves the given items to today in one statement. Rows that
// are no longer eligible (already promoted, done, or not yet due) are left
// alone, so repeated or concurrent calls never over-promote. Returns the
// number of rows changed.
func (s *SQLStore) PromoteToToday(ctx context.Context, userID string, ids []string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{utc(now), userID}
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, utc(now))

	res, err := s.exec(ctx, `
		UPDATE items
		SET status = 'today', next_at = NULL, last_seen_at = ?, seen_count = seen_count + 1
		WHERE user_id = ?
		  AND id IN (`+placeholders(len(ids))+`)
		  AND (status = 'inbox' OR (status = 'snoozed' AND next_at IS NOT NULL AND next_at <= ?))`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to promote items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read promoted count: %w", err)
	}
	return int(n), nil
}

// TransitionItem moves one item from -> to if it is still in from. The
// boolean is false when the row was not in the expected status (or does not
// belong to userID). The caller validates the transition itself.
func (s *SQLStore) TransitionItem(ctx context.Context, userID, id string, from, to item.Status, fx TransitionEffects) (bool, error) {
	now := utc(fx.Now)
	var (
		set  string
		args []any
	)
	switch to {
	case item.StatusToday:
		set = "status = 'today', next_at = NULL, last_seen_at = ?, seen_count = seen_count + 1"
		args = []any{now}
	case item.StatusSnoozed:
		set = "status = 'snoozed', next_at = ?, last_seen_at = ?"
		args = []any{nullTime(fx.NextAt), now}
	case item.StatusDone:
		set = "status = 'done', pinned = ?, next_at = NULL, last_seen_at = ?, done_at = ?"
		args = []any{false, now, now}
	default:
		return false, fmt.Errorf("cannot move item to %q", to)
	}
	args = append(args, id, userID, string(from))

	res, err := s.exec(ctx, "UPDATE items SET "+set+" WHERE id = ? AND user_id = ? AND status = ?", args...)
	if err != nil {
		return false, fmt.Errorf("failed to update item status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read updated count: %w", err)
	}
	return n == 1, nil
}

// SetPinned updates the pinned flag on a non-done item.
func (s *SQLStore) SetPinned(ctx context.Context, userID, id string, pinned bool) (bool, error) {
	res, err := s.exec(ctx, "UPDATE items SET pinned = ? WHERE id = ? AND user_id = ? AND status <> 'done'",
		pinned, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to set pinned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read updated count: %w", err)
	}
	return n == 1, nil
}

// UpdateMetadata stores scraped display fields.
func (s *SQLStore) UpdateMetadata(ctx context.Context, userID, id string, md Metadata) error {
	res, err := s.exec(ctx, `
		UPDATE items SET domain = ?, title = ?, description = ?, thumb_url = ?, type = ?
		WHERE id = ? AND user_id = ?`,
		nullString(md.Domain), nullString(md.Title), nullString(md.Description),
		nullString(md.ThumbURL), string(md.Type), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
