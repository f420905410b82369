// Package feeds polls users' RSS/Atom feed sources and saves new entry links
// into their inbox.
package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/matthewjhunter/stashloop/internal/storage"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

const userAgent = "StashLoopBot/1.0"

// SourceStore is the subset of storage the fetcher uses.
type SourceStore interface {
	AddFeedSource(ctx context.Context, userID, url, title string, now time.Time) (int64, error)
	ListAllFeedSources(ctx context.Context) ([]storage.FeedSource, error)
	UpdateFeedCacheHeaders(ctx context.Context, id int64, etag, lastModified string) error
	UpdateFeedError(ctx context.Context, id int64, msg string, now time.Time) error
	ClearFeedError(ctx context.Context, id int64, now time.Time) error
}

// Saver stores one link for a user. It reports false when the user already
// has the link.
type Saver interface {
	SaveFeedLink(ctx context.Context, userID, url, title string) (bool, error)
}

type Fetcher struct {
	parser *gofeed.Parser
	client *http.Client
	store  SourceStore
	saver  Saver
	log    *zap.Logger
	now    func() time.Time
}

// OPML structures for parsing
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Body    OPMLBody `xml:"body"`
}

type OPMLBody struct {
	Outlines []OPMLOutline `xml:"outline"`
}

type OPMLOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Type     string        `xml:"type,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	HTMLURL  string        `xml:"htmlUrl,attr"`
	Outlines []OPMLOutline `xml:"outline"`
}

// NewFetcher creates a new feed fetcher
func NewFetcher(store SourceStore, saver Saver, log *zap.Logger) *Fetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		parser: parser,
		client: &http.Client{},
		store:  store,
		saver:  saver,
		log:    log,
		now:    time.Now,
	}
}

// FetchResult holds the outcome of a conditional feed fetch.
type FetchResult struct {
	Feed         *gofeed.Feed // nil when NotModified is true
	ETag         string       // ETag from response (empty if absent)
	LastModified string       // Last-Modified from response (empty if absent)
	NotModified  bool         // true when server returned 304
}

// FetchFeed fetches and parses a single feed using conditional HTTP requests.
// Stored ETag / Last-Modified values are sent as If-None-Match /
// If-Modified-Since; a 304 skips parsing and returns NotModified=true.
func (f *Fetcher) FetchFeed(ctx context.Context, src storage.FeedSource) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		req.Header.Set("If-Modified-Since", src.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s: %w", src.URL, err)
	}

	parsed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", src.URL, err)
	}

	return &FetchResult{
		Feed:         parsed,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// ImportOPML registers every feed in an OPML file as a source for userID and
// returns how many were added.
func (f *Fetcher) ImportOPML(ctx context.Context, opmlPath, userID string) (int, error) {
	data, err := os.ReadFile(opmlPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read OPML file: %w", err)
	}

	var opml OPML
	if err := xml.Unmarshal(data, &opml); err != nil {
		return 0, fmt.Errorf("failed to parse OPML: %w", err)
	}

	added := 0
	var walk func(outlines []OPMLOutline)
	walk = func(outlines []OPMLOutline) {
		for _, outline := range outlines {
			if outline.XMLURL != "" {
				title := outline.Title
				if title == "" {
					title = outline.Text
				}
				if title == "" {
					title = outline.XMLURL
				}
				if _, err := f.store.AddFeedSource(ctx, userID, outline.XMLURL, title, f.now()); err != nil {
					f.log.Warn("failed to add feed source", zap.String("url", outline.XMLURL), zap.Error(err))
				} else {
					added++
				}
			}
			// folders
			if len(outline.Outlines) > 0 {
				walk(outline.Outlines)
			}
		}
	}
	walk(opml.Body.Outlines)
	return added, nil
}

// SaveEntries saves each entry link of a parsed feed into the source owner's
// inbox, skipping links the user already has.
func (f *Fetcher) SaveEntries(ctx context.Context, src storage.FeedSource, feed *gofeed.Feed) (int, error) {
	saved := 0
	for _, entry := range feed.Items {
		if entry.Link == "" {
			continue
		}
		created, err := f.saver.SaveFeedLink(ctx, src.UserID, entry.Link, entry.Title)
		if err != nil {
			f.log.Debug("skipping feed entry", zap.String("link", entry.Link), zap.Error(err))
			continue
		}
		if created {
			saved++
		}
	}
	return saved, nil
}

// FetchAll polls every registered source and returns the number of new links
// saved. A failing feed is recorded on its row and does not stop the others.
func (f *Fetcher) FetchAll(ctx context.Context) (int, error) {
	sources, err := f.store.ListAllFeedSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed sources: %w", err)
	}

	total := 0
	for _, src := range sources {
		feedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		result, err := f.FetchFeed(feedCtx, src)
		cancel()
		if err != nil {
			f.log.Warn("failed to fetch feed", zap.String("url", src.URL), zap.String("user_id", src.UserID), zap.Error(err))
			if uerr := f.store.UpdateFeedError(ctx, src.ID, err.Error(), f.now()); uerr != nil {
				f.log.Warn("failed to record feed error", zap.Int64("feed_id", src.ID), zap.Error(uerr))
			}
			continue
		}

		if !result.NotModified {
			saved, err := f.SaveEntries(ctx, src, result.Feed)
			if err != nil {
				f.log.Warn("error saving feed entries", zap.String("url", src.URL), zap.Error(err))
			}
			total += saved

			// Persist cache headers for next conditional request
			if result.ETag != "" || result.LastModified != "" {
				if err := f.store.UpdateFeedCacheHeaders(ctx, src.ID, result.ETag, result.LastModified); err != nil {
					f.log.Warn("failed to store cache headers", zap.Int64("feed_id", src.ID), zap.Error(err))
				}
			}
		}

		if err := f.store.ClearFeedError(ctx, src.ID, f.now()); err != nil {
			f.log.Warn("failed to update last_fetched", zap.String("url", src.URL), zap.Error(err))
		}
	}
	return total, nil
}
