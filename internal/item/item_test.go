package item

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusInbox, StatusToday, true},
		{StatusInbox, StatusSnoozed, false},
		{StatusInbox, StatusDone, false},
		{StatusToday, StatusDone, true},
		{StatusToday, StatusSnoozed, true},
		{StatusToday, StatusInbox, false},
		{StatusSnoozed, StatusToday, true},
		{StatusSnoozed, StatusDone, false},
		{StatusSnoozed, StatusInbox, false},
		{StatusDone, StatusToday, false},
		{StatusDone, StatusInbox, false},
		{StatusDone, StatusSnoozed, false},
		{StatusInbox, StatusInbox, false},
	}
	for _, tt := range tests {
		err := Transition(tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", tt.from, tt.to, err)
		}
	}
}

func TestReachableFromInbox(t *testing.T) {
	got := map[Status]bool{}
	for _, s := range Reachable(StatusInbox) {
		got[s] = true
	}
	for _, want := range []Status{StatusToday, StatusSnoozed, StatusDone} {
		if !got[want] {
			t.Errorf("expected %s reachable from inbox", want)
		}
	}
	if got[StatusInbox] {
		t.Error("inbox should not be reachable from itself")
	}
	if len(got) != 3 {
		t.Errorf("expected 3 reachable statuses, got %v", got)
	}
}

func TestDoneIsTerminal(t *testing.T) {
	if !StatusDone.Terminal() {
		t.Error("done should be terminal")
	}
	if len(Reachable(StatusDone)) != 0 {
		t.Error("nothing should be reachable from done")
	}
	if StatusDone.Pinnable() {
		t.Error("done items cannot be pinned")
	}
	for _, s := range []Status{StatusInbox, StatusToday, StatusSnoozed} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
		if !s.Pinnable() {
			t.Errorf("%s should be pinnable", s)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("today"); err != nil {
		t.Errorf("ParseStatus(today): %v", err)
	}
	if _, err := ParseStatus("archived"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestParseSnoozeVariant(t *testing.T) {
	v, err := ParseSnoozeVariant("")
	if err != nil || v != SnoozeTomorrow || v.Days() != 1 {
		t.Errorf("empty variant: got %q, %v", v, err)
	}
	v, err = ParseSnoozeVariant("next_week")
	if err != nil || v.Days() != 7 {
		t.Errorf("next_week: got %q days=%d, %v", v, v.Days(), err)
	}
	if _, err := ParseSnoozeVariant("someday"); err == nil {
		t.Error("expected error for unknown variant")
	}
}

func TestDomain(t *testing.T) {
	tests := map[string]string{
		"https://www.example.com/a":     "example.com",
		"https://Blog.Example.com/post": "blog.example.com",
		"http://example.com:8080/x":     "example.com",
		"not a url":                     "",
		"https://wwwx.com/":             "wwwx.com",
	}
	for in, want := range tests {
		if got := Domain(in); got != want {
			t.Errorf("Domain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	if got, err := NormalizeURL("  https://example.com/a  "); err != nil || got != "https://example.com/a" {
		t.Errorf("NormalizeURL: got %q, %v", got, err)
	}
	for _, bad := range []string{"ftp://example.com", "example.com", "https://", ""} {
		if _, err := NormalizeURL(bad); err == nil {
			t.Errorf("NormalizeURL(%q): expected error", bad)
		}
	}
}

func TestExtractURL(t *testing.T) {
	got := ExtractURL("look at this https://example.com/x?y=1 and that http://other.org")
	if got != "https://example.com/x?y=1" {
		t.Errorf("ExtractURL = %q", got)
	}
	if ExtractURL("no links here") != "" {
		t.Error("expected empty result")
	}
}

func TestDetectContentType(t *testing.T) {
	tests := map[string]ContentType{
		"https://www.youtube.com/watch?v=abc":      TypeVideo,
		"https://youtu.be/abc":                     TypeVideo,
		"https://vimeo.com/123":                    TypeVideo,
		"https://www.instagram.com/reel/xyz":       TypeVideo,
		"https://twitter.com/user/status/1":        TypeThread,
		"https://x.com/user/status/1":              TypeThread,
		"https://old.reddit.com/r/golang/":         TypeThread,
		"https://go.dev/blog/routing-enhancements": TypeArticle,
		"garbage":                                  TypeOther,
	}
	for in, want := range tests {
		if got := DetectContentType(in); got != want {
			t.Errorf("DetectContentType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInferContentType(t *testing.T) {
	if got := InferContentType("https://example.com/a", "video.other"); got != TypeVideo {
		t.Errorf("og video: got %q", got)
	}
	if got := InferContentType("https://example.com/a", "article"); got != TypeArticle {
		t.Errorf("og article: got %q", got)
	}
	if got := InferContentType("https://www.reddit.com/r/x", ""); got != TypeThread {
		t.Errorf("reddit: got %q", got)
	}
	if got := InferContentType("https://example.com/a", "website"); got != TypeOther {
		t.Errorf("website: got %q", got)
	}
}

func TestParseContentType(t *testing.T) {
	if ParseContentType("post") != TypeThread {
		t.Error("post should map to thread")
	}
	if ParseContentType("VIDEO") != TypeVideo {
		t.Error("case-insensitive parse failed")
	}
	if ParseContentType("podcast") != TypeOther {
		t.Error("unknown types map to other")
	}
}
