package item

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ContentType classifies what a saved link points at.
type ContentType string

const (
	TypeArticle ContentType = "article"
	TypeVideo   ContentType = "video"
	TypeThread  ContentType = "thread"
	TypeOther   ContentType = "other"
)

// ParseContentType normalizes a stored or scraped type. "post" is the
// scraper's name for a social thread.
func ParseContentType(s string) ContentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "article":
		return TypeArticle
	case "video":
		return TypeVideo
	case "thread", "post":
		return TypeThread
	default:
		return TypeOther
	}
}

var urlInText = regexp.MustCompile(`https?://[^\s]+`)

// ExtractURL returns the first http(s) URL in shared text, or "".
func ExtractURL(text string) string {
	return urlInText.FindString(text)
}

// NormalizeURL trims the input and checks that it is an absolute http or
// https URL with a host.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q: missing host", raw)
	}
	return raw, nil
}

// Hostname returns the lowercased host of rawURL, or "" if it does not parse.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Domain is the hostname with a leading "www." stripped.
func Domain(rawURL string) string {
	return strings.TrimPrefix(Hostname(rawURL), "www.")
}

// HostMatches reports whether host equals domain or is a subdomain of it.
func HostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

var (
	videoHosts  = []string{"youtube.com", "youtu.be", "vimeo.com", "tiktok.com"}
	threadHosts = []string{"twitter.com", "x.com", "threads.net", "reddit.com", "linkedin.com", "facebook.com"}
)

// DetectContentType guesses a type from the URL alone, before any scrape.
// Links to known video hosts (and Instagram reels/posts) are videos, known
// social hosts are threads, everything else is assumed to be an article.
func DetectContentType(rawURL string) ContentType {
	host := Hostname(rawURL)
	if host == "" {
		return TypeOther
	}
	for _, d := range videoHosts {
		if HostMatches(host, d) {
			return TypeVideo
		}
	}
	if HostMatches(host, "instagram.com") {
		lower := strings.ToLower(rawURL)
		if strings.Contains(lower, "instagram.com/reel") || strings.Contains(lower, "instagram.com/p/") {
			return TypeVideo
		}
		return TypeThread
	}
	for _, d := range threadHosts {
		if HostMatches(host, d) {
			return TypeThread
		}
	}
	return TypeArticle
}

// InferContentType combines the URL with a scraped og:type value. Known video
// hosts win, then og:type, then social hosts; anything unrecognized is other.
func InferContentType(rawURL, ogType string) ContentType {
	host := Hostname(rawURL)
	for _, d := range []string{"youtube.com", "youtu.be", "vimeo.com", "tiktok.com"} {
		if HostMatches(host, d) {
			return TypeVideo
		}
	}
	og := strings.ToLower(ogType)
	switch {
	case strings.Contains(og, "video"):
		return TypeVideo
	case strings.Contains(og, "article"):
		return TypeArticle
	}
	for _, d := range append([]string{"instagram.com"}, threadHosts...) {
		if HostMatches(host, d) {
			return TypeThread
		}
	}
	return TypeOther
}
