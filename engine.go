// Package stashloop is the engine behind the StashLoop save-for-later link
// manager: saved items and their lifecycle, the daily Today-Fill, the
// clearance streak and push reminders.
package stashloop

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matthewjhunter/stashloop/internal/feeds"
	"github.com/matthewjhunter/stashloop/internal/fill"
	"github.com/matthewjhunter/stashloop/internal/item"
	"github.com/matthewjhunter/stashloop/internal/push"
	"github.com/matthewjhunter/stashloop/internal/reminder"
	"github.com/matthewjhunter/stashloop/internal/scrape"
	"github.com/matthewjhunter/stashloop/internal/storage"
	"go.uber.org/zap"
)

const (
	maxItemsPerDay = 20
	defaultTZ      = "UTC"
)

var (
	testMessage = push.Message{Title: "Test notification", Body: "It works 🎉"}
	// DefaultReminder is sent by the Reminder Dispatcher unless configured.
	DefaultReminder = push.Message{
		Title: "Your saved gems are ready ✨",
		Body:  "Open StashLoop to review today’s picks.",
	}
)

// Engine is the public API for stashloop. It wraps the store, the metadata
// scraper, the push transport and the feed importer.
type Engine struct {
	store       storage.Store
	ownsStore   bool
	fetcher     *feeds.Fetcher
	scraper     MetadataScraper
	push        push.Sender
	policy      fill.Policy
	defaults    Defaults
	concurrency int
	reminder    push.Message
	log         *zap.Logger
	now         func() time.Time
	locks       userLocks
}

// NewEngine opens the configured store and wires the collaborators. Zero
// values in cfg fall back to defaults.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Fill.Compare == nil {
		cfg.Fill.Compare = fill.ByPriority
	}
	if cfg.Fill.Oversample == 0 {
		cfg.Fill.Oversample = fill.DefaultOversample
	}
	if cfg.Defaults == (Defaults{}) {
		cfg.Defaults.ReminderHour = 9
	}
	if cfg.Defaults.ItemsPerDay == 0 {
		cfg.Defaults.ItemsPerDay = 3
	}
	if cfg.Defaults.Timezone == "" {
		cfg.Defaults.Timezone = defaultTZ
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.Reminder.Title == "" && cfg.Reminder.Body == "" {
		cfg.Reminder = DefaultReminder
	}
	if cfg.Push == nil {
		cfg.Push = push.NewClient(push.WithLogger(cfg.Logger))
	}
	if cfg.Scraper == nil {
		cfg.Scraper = scrape.New(scrape.Config{}, cfg.Logger)
	}

	store, owns := cfg.Store, false
	if store == nil {
		dialect, err := storage.ParseDialect(cfg.Driver)
		if err != nil {
			return nil, err
		}
		if cfg.DSN == "" {
			return nil, errors.New("database dsn is required")
		}
		sqlStore, err := storage.Open(context.Background(), dialect, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		store, owns = sqlStore, true
	}

	e := &Engine{
		store:       store,
		ownsStore:   owns,
		scraper:     cfg.Scraper,
		push:        cfg.Push,
		policy:      cfg.Fill,
		defaults:    cfg.Defaults,
		concurrency: cfg.Concurrency,
		reminder:    cfg.Reminder,
		log:         cfg.Logger,
		now:         cfg.Now,
	}
	e.fetcher = feeds.NewFetcher(store, feedSaver{e}, cfg.Logger.Named("feeds"))
	return e, nil
}

// Close releases the store if the engine opened it.
func (e *Engine) Close() error {
	if e.ownsStore {
		return e.store.Close()
	}
	return nil
}

// userScope returns the user an item-level operation acts on. Both user
// callers and a trusted caller naming a user qualify.
func userScope(caller CallerContext) (string, error) {
	if caller.UserID == "" {
		if caller.TrustedBatch {
			return "", invalidInput("user id is required")
		}
		return "", ErrUnauthorized
	}
	return caller.UserID, nil
}

// EnsureUser creates the caller's settings row with defaults on first use.
func (e *Engine) EnsureUser(ctx context.Context, caller CallerContext) (*Settings, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	st, err := e.ensureSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := settingsFromInternal(*st)
	return &out, nil
}

func (e *Engine) ensureSettings(ctx context.Context, userID string) (*storage.Settings, error) {
	st, err := e.store.EnsureSettings(ctx, userID, storage.Settings{
		ItemsPerDay:  e.defaults.ItemsPerDay,
		ReminderHour: e.defaults.ReminderHour,
		Timezone:     e.defaults.Timezone,
	}, e.now())
	if err != nil {
		return nil, fmt.Errorf("ensure settings for %s: %w", userID, err)
	}
	return st, nil
}

// --- items ---

// SaveItem stores a new link in the caller's inbox. Metadata is filled in
// later by Enrich; until then only the URL-derived fields are set.
func (e *Engine) SaveItem(ctx context.Context, caller CallerContext, req SaveRequest) (*Item, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		raw = item.ExtractURL(req.Text)
	}
	if raw == "" {
		return nil, invalidInput("url is required")
	}
	u, err := item.NormalizeURL(raw)
	if err != nil {
		return nil, invalidInput("%v", err)
	}
	if _, err := e.ensureSettings(ctx, userID); err != nil {
		return nil, err
	}

	typ := item.DetectContentType(u)
	if req.Type != "" {
		typ = item.ParseContentType(req.Type)
	}
	it := &storage.Item{
		ID:          uuid.NewString(),
		UserID:      userID,
		URL:         u,
		Domain:      item.Domain(u),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Type:        typ,
		Status:      item.StatusInbox,
		AddedAt:     e.now().UTC(),
	}
	if err := e.store.AddItem(ctx, it); err != nil {
		return nil, fmt.Errorf("save item: %w", err)
	}
	e.log.Debug("item saved", zap.String("user_id", userID), zap.String("item_id", it.ID), zap.String("domain", it.Domain))
	out := itemFromInternal(*it)
	return &out, nil
}

// Enrich scrapes display metadata for an item and stores whatever was found.
// A scrape that finds nothing leaves the item as it was.
func (e *Engine) Enrich(ctx context.Context, caller CallerContext, id string) (*Item, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	it, err := e.store.GetItem(ctx, userID, id)
	if err != nil {
		return nil, storeErr(err)
	}

	md, err := e.scraper.Scrape(ctx, it.URL)
	if err != nil {
		e.log.Info("metadata scrape failed", zap.String("item_id", id), zap.String("url", it.URL), zap.Error(err))
		out := itemFromInternal(*it)
		return &out, nil
	}

	update := storage.Metadata{
		Domain:      cmp.Or(md.Domain, it.Domain),
		Title:       cmp.Or(md.Title, it.Title),
		Description: cmp.Or(md.Description, it.Description),
		ThumbURL:    cmp.Or(md.ThumbURL, it.ThumbURL),
		Type:        cmp.Or(md.Type, it.Type),
	}
	if err := e.store.UpdateMetadata(ctx, userID, id, update); err != nil {
		return nil, storeErr(err)
	}
	it.Domain, it.Title, it.Description, it.ThumbURL, it.Type =
		update.Domain, update.Title, update.Description, update.ThumbURL, update.Type
	out := itemFromInternal(*it)
	return &out, nil
}

// GetItem returns one of the caller's items.
func (e *Engine) GetItem(ctx context.Context, caller CallerContext, id string) (*Item, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	it, err := e.store.GetItem(ctx, userID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	out := itemFromInternal(*it)
	return &out, nil
}

// TodayItems lists the Today list, pinned first then oldest added.
func (e *Engine) TodayItems(ctx context.Context, caller CallerContext) ([]Item, error) {
	return e.listItems(ctx, caller, storage.ItemFilter{Statuses: []item.Status{item.StatusToday}})
}

// InboxItems lists inbox and snoozed items, pinned first then newest added.
func (e *Engine) InboxItems(ctx context.Context, caller CallerContext, limit int) ([]Item, error) {
	return e.listItems(ctx, caller, storage.ItemFilter{
		Statuses:    []item.Status{item.StatusInbox, item.StatusSnoozed},
		NewestFirst: true,
		Limit:       limit,
	})
}

// DoneItems lists completed items, newest first.
func (e *Engine) DoneItems(ctx context.Context, caller CallerContext, limit int) ([]Item, error) {
	return e.listItems(ctx, caller, storage.ItemFilter{
		Statuses:    []item.Status{item.StatusDone},
		NewestFirst: true,
		Limit:       limit,
	})
}

func (e *Engine) listItems(ctx context.Context, caller CallerContext, f storage.ItemFilter) ([]Item, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListItems(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	return itemsFromInternal(items), nil
}

// MoveToToday moves an inbox or snoozed item to Today regardless of its due
// time.
func (e *Engine) MoveToToday(ctx context.Context, caller CallerContext, id string) (*Item, error) {
	return e.transition(ctx, caller, id, item.StatusToday, nil)
}

// Snooze moves an item out of Today until the variant's due time.
func (e *Engine) Snooze(ctx context.Context, caller CallerContext, id string, variant item.SnoozeVariant) (*Item, error) {
	next := e.now().UTC().AddDate(0, 0, variant.Days())
	return e.transition(ctx, caller, id, item.StatusSnoozed, &next)
}

// MarkDone completes an item. When that empties the Today list the streak is
// recomputed and returned; a failed recompute is logged and reported as no
// change.
func (e *Engine) MarkDone(ctx context.Context, caller CallerContext, id string) (*DoneResult, error) {
	it, err := e.transition(ctx, caller, id, item.StatusDone, nil)
	if err != nil {
		return nil, err
	}
	res := &DoneResult{Item: *it}

	sr, err := e.recomputeStreak(ctx, it.UserID)
	if err != nil {
		e.log.Warn("streak recompute failed", zap.String("user_id", it.UserID), zap.Error(err))
		return res, nil
	}
	if sr.Qualified {
		res.Streak = &sr.Streak
	}
	return res, nil
}

// transition applies one status move as a conditional update. If the row
// changed between the read and the write the move is rejected.
func (e *Engine) transition(ctx context.Context, caller CallerContext, id string, to item.Status, nextAt *time.Time) (*Item, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	it, err := e.store.GetItem(ctx, userID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := item.Transition(it.Status, to); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	ok, err := e.store.TransitionItem(ctx, userID, id, it.Status, to, storage.TransitionEffects{Now: now, NextAt: nextAt})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %s is no longer %s", ErrInvalidTransition, id, it.Status)
	}

	updated, err := e.store.GetItem(ctx, userID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	out := itemFromInternal(*updated)
	return &out, nil
}

// SetPinned toggles the pinned flag. Done items cannot be pinned.
func (e *Engine) SetPinned(ctx context.Context, caller CallerContext, id string, pinned bool) (*Item, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	it, err := e.store.GetItem(ctx, userID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !it.Status.Pinnable() {
		return nil, fmt.Errorf("%w: cannot pin a %s item", ErrInvalidTransition, it.Status)
	}
	ok, err := e.store.SetPinned(ctx, userID, id, pinned)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %s was completed", ErrInvalidTransition, id)
	}
	it.Pinned = pinned
	out := itemFromInternal(*it)
	return &out, nil
}

// --- settings ---

// GetSettings returns the caller's settings, creating them on first use.
func (e *Engine) GetSettings(ctx context.Context, caller CallerContext) (*Settings, error) {
	return e.EnsureUser(ctx, caller)
}

// UpdateSettings validates and applies a settings patch.
func (e *Engine) UpdateSettings(ctx context.Context, caller CallerContext, patch SettingsPatch) (*Settings, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	if p := patch.ItemsPerDay; p != nil && (*p < 1 || *p > maxItemsPerDay) {
		return nil, invalidInput("items_per_day must be between 1 and %d", maxItemsPerDay)
	}
	if p := patch.ReminderHour; p != nil && (*p < 0 || *p > 23) {
		return nil, invalidInput("reminder_hour must be between 0 and 23")
	}
	if p := patch.Timezone; p != nil {
		if *p == "" {
			return nil, invalidInput("timezone must not be empty")
		}
		if _, err := time.LoadLocation(*p); err != nil {
			return nil, invalidInput("unknown timezone %q", *p)
		}
	}
	if _, err := e.ensureSettings(ctx, userID); err != nil {
		return nil, err
	}
	st, err := e.store.UpdateSettings(ctx, userID, storage.SettingsPatch{
		ItemsPerDay:  patch.ItemsPerDay,
		ReminderHour: patch.ReminderHour,
		Timezone:     patch.Timezone,
		PushOptIn:    patch.PushOptIn,
	}, e.now())
	if err != nil {
		return nil, storeErr(err)
	}
	out := settingsFromInternal(*st)
	return &out, nil
}

// GetStreak returns the caller's stored streak triple.
func (e *Engine) GetStreak(ctx context.Context, caller CallerContext) (*Streak, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	st, err := e.ensureSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := streakFromInternal(*st)
	return &out, nil
}

// --- device tokens ---

// RegisterDevice stores a push token for the caller.
func (e *Engine) RegisterDevice(ctx context.Context, caller CallerContext, token, platform string) error {
	userID, err := userScope(caller)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return invalidInput("token is required")
	}
	if _, err := e.ensureSettings(ctx, userID); err != nil {
		return err
	}
	return e.store.AddDeviceToken(ctx, userID, token, platform, e.now())
}

// UnregisterDevice removes a push token.
func (e *Engine) UnregisterDevice(ctx context.Context, caller CallerContext, token string) error {
	userID, err := userScope(caller)
	if err != nil {
		return err
	}
	return storeErr(e.store.RemoveDeviceToken(ctx, userID, token))
}

// ListDevices returns the caller's push tokens.
func (e *Engine) ListDevices(ctx context.Context, caller CallerContext) ([]DeviceToken, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	tokens, err := e.store.ListDeviceTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceToken, len(tokens))
	for i, t := range tokens {
		out[i] = DeviceToken{Token: t.Token, Platform: t.Platform, CreatedAt: t.CreatedAt}
	}
	return out, nil
}

// SendTestPush sends a fixed test notification to all of the caller's
// devices.
func (e *Engine) SendTestPush(ctx context.Context, caller CallerContext) (*TestPushResult, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	tokens, err := e.store.ListDeviceTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return &TestPushResult{Reason: string(reminder.NoTokens)}, nil
	}
	raw := make([]string, len(tokens))
	for i, t := range tokens {
		raw[i] = t.Token
	}
	res, err := e.push.Send(ctx, raw, testMessage)
	if err != nil {
		return nil, fmt.Errorf("send test push: %w", err)
	}
	return &TestPushResult{OK: true, Tokens: len(raw), Delivered: res.Sent}, nil
}

// --- feed sources ---

// AddFeed registers an RSS/Atom feed for the caller. The feed is fetched once
// to validate it and its current entries are saved to the inbox.
func (e *Engine) AddFeed(ctx context.Context, caller CallerContext, url, title string) (*FeedSource, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	if _, err := item.NormalizeURL(url); err != nil {
		return nil, invalidInput("%v", err)
	}
	if _, err := e.ensureSettings(ctx, userID); err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := e.fetcher.FetchFeed(fetchCtx, storage.FeedSource{URL: url})
	if err != nil {
		return nil, invalidInput("validate feed: %v", err)
	}
	if title == "" && result.Feed != nil {
		title = result.Feed.Title
	}
	if title == "" {
		title = url
	}

	id, err := e.store.AddFeedSource(ctx, userID, url, title, e.now())
	if err != nil {
		return nil, fmt.Errorf("add feed: %w", err)
	}
	src := storage.FeedSource{ID: id, UserID: userID, URL: url, Title: title}
	if result.Feed != nil {
		if saved, err := e.fetcher.SaveEntries(ctx, src, result.Feed); err == nil && saved > 0 {
			e.log.Info("saved initial feed entries", zap.String("user_id", userID), zap.String("url", url), zap.Int("saved", saved))
		}
	}
	if result.ETag != "" || result.LastModified != "" {
		if err := e.store.UpdateFeedCacheHeaders(ctx, id, result.ETag, result.LastModified); err != nil {
			e.log.Warn("failed to store cache headers", zap.Int64("feed_id", id), zap.Error(err))
		}
	}
	if err := e.store.ClearFeedError(ctx, id, e.now()); err != nil {
		e.log.Warn("failed to update last_fetched", zap.Int64("feed_id", id), zap.Error(err))
	}

	sources, err := e.store.ListFeedSources(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, s := range sources {
		if s.ID == id {
			out := feedFromInternal(s)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("feed %d vanished after insert", id)
}

// ListFeeds returns the caller's feed sources.
func (e *Engine) ListFeeds(ctx context.Context, caller CallerContext) ([]FeedSource, error) {
	userID, err := userScope(caller)
	if err != nil {
		return nil, err
	}
	sources, err := e.store.ListFeedSources(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]FeedSource, len(sources))
	for i, s := range sources {
		out[i] = feedFromInternal(s)
	}
	return out, nil
}

// RemoveFeed deletes one of the caller's feed sources. Items already saved
// from it stay.
func (e *Engine) RemoveFeed(ctx context.Context, caller CallerContext, id int64) error {
	userID, err := userScope(caller)
	if err != nil {
		return err
	}
	return storeErr(e.store.RemoveFeedSource(ctx, userID, id))
}

// ImportOPML registers every feed in an OPML file for the caller.
func (e *Engine) ImportOPML(ctx context.Context, caller CallerContext, path string) (int, error) {
	userID, err := userScope(caller)
	if err != nil {
		return 0, err
	}
	if _, err := e.ensureSettings(ctx, userID); err != nil {
		return 0, err
	}
	return e.fetcher.ImportOPML(ctx, path, userID)
}

// PollFeeds fetches every registered feed and saves new entry links. Only
// the scheduler may poll.
func (e *Engine) PollFeeds(ctx context.Context, caller CallerContext) (*FeedPollResult, error) {
	if !caller.TrustedBatch {
		return nil, ErrUnauthorized
	}
	saved, err := e.fetcher.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return &FeedPollResult{Saved: saved}, nil
}

// feedSaver lets the feed importer save entry links without a caller.
type feedSaver struct{ e *Engine }

func (s feedSaver) SaveFeedLink(ctx context.Context, userID, rawURL, title string) (bool, error) {
	u, err := item.NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}
	exists, err := s.e.store.ItemExists(ctx, userID, u)
	if err != nil || exists {
		return false, err
	}
	if _, err := s.e.SaveItem(ctx, AsUser(userID), SaveRequest{URL: u, Title: title}); err != nil {
		return false, err
	}
	return true, nil
}

// --- internal type conversion helpers ---

func itemFromInternal(it storage.Item) Item {
	return Item{
		ID:          it.ID,
		UserID:      it.UserID,
		URL:         it.URL,
		Domain:      it.Domain,
		Title:       it.Title,
		Description: it.Description,
		ThumbURL:    it.ThumbURL,
		Type:        string(it.Type),
		Status:      string(it.Status),
		Pinned:      it.Pinned,
		AddedAt:     it.AddedAt,
		LastSeenAt:  it.LastSeenAt,
		SeenCount:   it.SeenCount,
		NextAt:      it.NextAt,
		DoneAt:      it.DoneAt,
	}
}

func itemsFromInternal(items []storage.Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = itemFromInternal(it)
	}
	return out
}

func settingsFromInternal(st storage.Settings) Settings {
	return Settings{
		ItemsPerDay:  st.ItemsPerDay,
		ReminderHour: st.ReminderHour,
		Timezone:     st.Timezone,
		PushOptIn:    st.PushOptIn,
		LastPushAt:   st.LastPushAt,
	}
}

func streakFromInternal(st storage.Settings) Streak {
	return Streak{Streak: st.Streak, BestStreak: st.BestStreak, LastStreakAt: st.LastStreakAt}
}

func feedFromInternal(f storage.FeedSource) FeedSource {
	return FeedSource{
		ID:          f.ID,
		URL:         f.URL,
		Title:       f.Title,
		LastFetched: f.LastFetched,
		LastError:   f.LastError,
		CreatedAt:   f.CreatedAt,
	}
}
