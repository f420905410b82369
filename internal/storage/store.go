package storage

import (
	"context"
	"time"

	"github.com/matthewjhunter/stashloop/internal/item"
)

// Store defines the storage interface for stashloop's data layer.
type Store interface {
	Close() error

	// Items
	AddItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, userID, id string) (*Item, error)
	ItemExists(ctx context.Context, userID, url string) (bool, error)
	ListItems(ctx context.Context, userID string, f ItemFilter) ([]Item, error)
	CountByStatus(ctx context.Context, userID string, status item.Status) (int, error)
	CountDoneSince(ctx context.Context, userID string, since time.Time) (int, error)
	BacklogCandidates(ctx context.Context, userID string, now time.Time) ([]Item, error)
	PromoteToToday(ctx context.Context, userID string, ids []string, now time.Time) (int, error)
	TransitionItem(ctx context.Context, userID, id string, from, to item.Status, fx TransitionEffects) (bool, error)
	SetPinned(ctx context.Context, userID, id string, pinned bool) (bool, error)
	UpdateMetadata(ctx context.Context, userID, id string, md Metadata) error

	// Settings and streaks
	EnsureSettings(ctx context.Context, userID string, defaults Settings, now time.Time) (*Settings, error)
	GetSettings(ctx context.Context, userID string) (*Settings, error)
	UpdateSettings(ctx context.Context, userID string, patch SettingsPatch, now time.Time) (*Settings, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	ListOptedIn(ctx context.Context) ([]Settings, error)
	UpdateLastPush(ctx context.Context, userID string, at time.Time) error
	CompareAndSwapStreak(ctx context.Context, userID, expectLastDay string, next StreakUpdate) (bool, error)

	// Device tokens
	AddDeviceToken(ctx context.Context, userID, token, platform string, now time.Time) error
	RemoveDeviceToken(ctx context.Context, userID, token string) error
	ListDeviceTokens(ctx context.Context, userID string) ([]DeviceToken, error)
	ListDeviceTokensFor(ctx context.Context, userIDs []string) (map[string][]string, error)

	// Feed sources
	AddFeedSource(ctx context.Context, userID, url, title string, now time.Time) (int64, error)
	ListFeedSources(ctx context.Context, userID string) ([]FeedSource, error)
	ListAllFeedSources(ctx context.Context) ([]FeedSource, error)
	RemoveFeedSource(ctx context.Context, userID string, id int64) error
	UpdateFeedCacheHeaders(ctx context.Context, id int64, etag, lastModified string) error
	UpdateFeedError(ctx context.Context, id int64, msg string, now time.Time) error
	ClearFeedError(ctx context.Context, id int64, now time.Time) error
}

var _ Store = (*SQLStore)(nil)
