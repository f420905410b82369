package stashloop

import (
	"context"
	"time"

	"github.com/matthewjhunter/stashloop/internal/fill"
	"github.com/matthewjhunter/stashloop/internal/push"
	"github.com/matthewjhunter/stashloop/internal/scrape"
	"github.com/matthewjhunter/stashloop/internal/storage"
	"go.uber.org/zap"
)

// EngineConfig configures the StashLoop engine.
type EngineConfig struct {
	Driver string        // "sqlite" (default) or "postgres"
	DSN    string        // database path for sqlite, connection URL for postgres
	Store  storage.Store // used instead of Driver/DSN when set

	Fill     fill.Policy // zero Oversample means fill.DefaultOversample
	Defaults Defaults

	// Concurrency bounds how many users a batch run processes at once.
	Concurrency int

	Reminder push.Message
	Push     push.Sender     // nil builds an Expo client with default settings
	Scraper  MetadataScraper // nil builds a scraper with default settings

	Logger *zap.Logger
	Now    func() time.Time
}

// Defaults are applied to a user's settings row when it is first created.
type Defaults struct {
	ItemsPerDay  int
	ReminderHour int
	Timezone     string
}

// MetadataScraper fetches display metadata for a saved URL.
type MetadataScraper interface {
	Scrape(ctx context.Context, rawURL string) (scrape.Metadata, error)
}

// CallerContext is who is asking. A user caller is scoped to its own data;
// a trusted batch caller (the scheduler) may run processes for every user,
// or for one user when UserID is also set.
type CallerContext struct {
	UserID       string
	TrustedBatch bool
}

// AsUser returns a caller scoped to userID.
func AsUser(userID string) CallerContext {
	return CallerContext{UserID: userID}
}

// AsScheduler returns the trusted batch caller.
func AsScheduler() CallerContext {
	return CallerContext{TrustedBatch: true}
}

// Item is a saved link.
type Item struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	URL         string     `json:"url"`
	Domain      string     `json:"domain,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	ThumbURL    string     `json:"thumbnail_url,omitempty"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Pinned      bool       `json:"pinned"`
	AddedAt     time.Time  `json:"added_at"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	SeenCount   int        `json:"seen_count"`
	NextAt      *time.Time `json:"next_at,omitempty"`
	DoneAt      *time.Time `json:"done_at,omitempty"`
}

// SaveRequest is a link to save. When URL is empty the first http(s) URL in
// Text (shared text from another app) is used.
type SaveRequest struct {
	URL         string `json:"url,omitempty"`
	Text        string `json:"text,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Settings are a user's preferences.
type Settings struct {
	ItemsPerDay  int        `json:"items_per_day"`
	ReminderHour int        `json:"reminder_hour"`
	Timezone     string     `json:"timezone"`
	PushOptIn    bool       `json:"push_opt_in"`
	LastPushAt   *time.Time `json:"last_push_at,omitempty"`
}

// SettingsPatch changes the non-nil fields.
type SettingsPatch struct {
	ItemsPerDay  *int    `json:"items_per_day,omitempty"`
	ReminderHour *int    `json:"reminder_hour,omitempty"`
	Timezone     *string `json:"timezone,omitempty"`
	PushOptIn    *bool   `json:"push_opt_in,omitempty"`
}

// Streak is the authoritative streak triple.
type Streak struct {
	Streak       int    `json:"streak"`
	BestStreak   int    `json:"best_streak"`
	LastStreakAt string `json:"last_streak_at,omitempty"`
}

// DoneResult is returned when an item is marked done. Streak is set only
// when the Today list became empty and the streak was recomputed.
type DoneResult struct {
	Item   Item    `json:"item"`
	Streak *Streak `json:"streak,omitempty"`
}

// DeviceToken is a registered push token.
type DeviceToken struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedSource is an RSS/Atom feed whose entries are saved to a user's inbox.
type FeedSource struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	LastFetched *time.Time `json:"last_fetched,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// FillResult is the Today-Fill outcome for one user.
type FillResult struct {
	UserID   string   `json:"user_id"`
	Deficit  int      `json:"deficit"`
	Promoted int      `json:"promoted"`
	ItemIDs  []string `json:"item_ids,omitempty"`
}

// StreakResult is the streak recompute outcome for one user. Qualified is
// false when the Today list is not empty or nothing was completed today;
// Streak always holds the stored triple after the run.
type StreakResult struct {
	UserID    string `json:"user_id"`
	Qualified bool   `json:"qualified"`
	Advanced  bool   `json:"advanced"`
	Streak    Streak `json:"streak"`
}

// ReminderResult is the dispatch outcome for one user. Reason is empty when
// a reminder was sent.
type ReminderResult struct {
	UserID    string `json:"user_id"`
	Sent      bool   `json:"sent"`
	Reason    string `json:"reason,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
	Delivered int    `json:"delivered,omitempty"`
}

// TestPushResult reports a test notification.
type TestPushResult struct {
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	Tokens    int    `json:"tokens"`
	Delivered int    `json:"delivered"`
}

// UserError is a per-user failure inside a batch run.
type UserError struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// Report summarizes a run of one scheduled process. In batch mode a user's
// failure is recorded in Errors and the other users still run.
type Report[T any] struct {
	Batch   bool        `json:"batch"`
	Users   int         `json:"users"`
	Failed  int         `json:"failed"`
	Results []T         `json:"results"`
	Errors  []UserError `json:"errors,omitempty"`
}

// FeedPollResult summarizes a feed polling cycle.
type FeedPollResult struct {
	Saved int `json:"saved"`
}
