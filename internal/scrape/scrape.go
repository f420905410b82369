// Package scrape fetches display metadata for a saved link: oEmbed for the
// providers that offer it, falling back to OpenGraph and Twitter card tags.
package scrape

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/matthewjhunter/stashloop/internal/item"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const DefaultUserAgent = "StashLoopBot/1.0"

// Metadata is what the scraper learned about a URL. Empty fields mean
// nothing was found; that is not an error.
type Metadata struct {
	Title       string
	Description string
	ThumbURL    string
	Type        item.ContentType
	Domain      string
}

// Empty reports whether no display field was found.
func (m Metadata) Empty() bool {
	return m.Title == "" && m.Description == "" && m.ThumbURL == ""
}

// Config configures a Scraper.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	FacebookAppID  string
	FacebookSecret string
	// Endpoints overrides provider URLs; keys are provider names. Tests use
	// it to point providers at a local server.
	Endpoints map[string]string
}

// Scraper fetches metadata over HTTP.
type Scraper struct {
	cfg    Config
	client *http.Client
	strict *bluemonday.Policy
	log    *zap.Logger
}

type provider struct {
	name     string
	hosts    []string
	endpoint string
	kind     item.ContentType
}

var providers = []provider{
	{"youtube", []string{"youtube.com", "youtu.be"}, "https://www.youtube.com/oembed", item.TypeVideo},
	{"vimeo", []string{"vimeo.com"}, "https://vimeo.com/api/oembed.json", item.TypeVideo},
	{"tiktok", []string{"tiktok.com"}, "https://www.tiktok.com/oembed", item.TypeVideo},
	{"reddit", []string{"reddit.com"}, "https://www.reddit.com/oembed", item.TypeThread},
}

var facebookEndpoints = []string{
	"https://graph.facebook.com/v19.0/oembed_video",
	"https://graph.facebook.com/v19.0/oembed_post",
	"https://graph.facebook.com/v19.0/oembed_page",
}

// New creates a Scraper. A nil logger is replaced with a no-op logger.
func New(cfg Config, log *zap.Logger) *Scraper {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scraper{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		strict: bluemonday.StrictPolicy(),
		log:    log,
	}
}

func (s *Scraper) endpoint(name, fallback string) string {
	if ep, ok := s.cfg.Endpoints[name]; ok && ep != "" {
		return ep
	}
	return fallback
}

// Scrape returns the best metadata it can find for rawURL. Provider failures
// fall through to the next strategy; the error is non-nil only when rawURL
// itself is unusable.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (Metadata, error) {
	if _, err := item.NormalizeURL(rawURL); err != nil {
		return Metadata{}, err
	}
	host := item.Hostname(rawURL)
	md := Metadata{Domain: item.Domain(rawURL), Type: item.TypeOther}

	for _, p := range providers {
		if !matchesAny(host, p.hosts) {
			continue
		}
		oe, err := s.oembed(ctx, s.endpoint(p.name, p.endpoint), rawURL, nil)
		if err != nil {
			s.log.Debug("oembed failed", zap.String("provider", p.name), zap.Error(err))
			break
		}
		md.Title = s.clean(oe.Title)
		md.Description = byline(oe.AuthorName)
		md.ThumbURL = oe.ThumbnailURL
		if md.ThumbURL == "" && p.name == "youtube" {
			if id := YouTubeID(rawURL); id != "" {
				md.ThumbURL = YouTubeThumb(id)
			}
		}
		md.Type = p.kind
		break
	}

	if md.Title == "" && item.HostMatches(host, "facebook.com") {
		if oe, err := s.facebook(ctx, rawURL); err != nil {
			s.log.Debug("facebook oembed failed", zap.Error(err))
		} else {
			md.Title = s.clean(oe.Title)
			md.Description = byline(oe.AuthorName)
			if md.Description == "" {
				md.Description = cmp.Or(oe.ProviderName, "Facebook")
			}
			md.ThumbURL = oe.ThumbnailURL
			md.Type = item.TypeThread
			if oe.Type == "video" {
				md.Type = item.TypeVideo
			}
		}
	}

	if md.Empty() {
		page, err := s.page(ctx, rawURL)
		if err != nil {
			s.log.Debug("page fetch failed", zap.String("url", rawURL), zap.Error(err))
		}
		md.Title = page.Title
		md.Description = page.Description
		md.ThumbURL = page.Image
		md.Type = item.InferContentType(rawURL, page.OGType)
	}
	return md, nil
}

func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if item.HostMatches(host, d) {
			return true
		}
	}
	return false
}

func byline(author string) string {
	if author == "" {
		return ""
	}
	return "by " + author
}

// clean strips any markup from scraped text. The strict policy escapes
// entities, so they are decoded again for plain-text storage.
func (s *Scraper) clean(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(text)))
}

type oembedResponse struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ProviderName string `json:"provider_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

func (s *Scraper) oembed(ctx context.Context, endpoint, target string, extra url.Values) (*oembedResponse, error) {
	q := url.Values{}
	q.Set("url", target)
	q.Set("format", "json")
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create oembed request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch oembed %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oembed %s returned status %d", endpoint, resp.StatusCode)
	}
	var oe oembedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&oe); err != nil {
		return nil, fmt.Errorf("decode oembed %s: %w", endpoint, err)
	}
	return &oe, nil
}

var errNoFacebookCreds = errors.New("facebook app credentials not configured")

func (s *Scraper) facebook(ctx context.Context, target string) (*oembedResponse, error) {
	if s.cfg.FacebookAppID == "" || s.cfg.FacebookSecret == "" {
		return nil, errNoFacebookCreds
	}
	token := url.Values{"access_token": {s.cfg.FacebookAppID + "|" + s.cfg.FacebookSecret}}
	var lastErr error
	for i, ep := range facebookEndpoints {
		oe, err := s.oembed(ctx, s.endpoint(fmt.Sprintf("facebook%d", i), ep), target, token)
		if err == nil {
			return oe, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Page is the generic meta scraped from an HTML document.
type Page struct {
	Title       string
	Description string
	Image       string
	OGType      string
}

func (s *Scraper) page(ctx context.Context, target string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, fmt.Errorf("create page request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Page{}, fmt.Errorf("page returned status %d", resp.StatusCode)
	}
	return s.ParsePage(io.LimitReader(resp.Body, 4<<20))
}

// ParsePage extracts title, description, image and og:type from HTML.
func (s *Scraper) ParsePage(r io.Reader) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	meta := func(keys ...string) string {
		for _, k := range keys {
			sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, k, k)
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	p := Page{
		Title:       s.clean(meta("og:title", "twitter:title")),
		Description: s.clean(meta("og:description", "twitter:description", "description")),
		Image:       meta("og:image", "og:image:url", "twitter:image", "twitter:image:src"),
		OGType:      meta("og:type"),
	}
	if p.Title == "" {
		p.Title = s.clean(doc.Find("head title").First().Text())
	}
	return p, nil
}

// YouTubeID extracts the video id from watch, short-link, shorts and embed
// URLs.
func YouTubeID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if item.HostMatches(strings.ToLower(u.Hostname()), "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && (parts[0] == "shorts" || parts[0] == "embed") {
		return parts[1]
	}
	return ""
}

// YouTubeThumb is the static high-quality thumbnail URL for a video id.
func YouTubeThumb(id string) string {
	return "https://img.youtube.com/vi/" + id + "/hqdefault.jpg"
}
