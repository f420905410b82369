package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/matthewjhunter/stashloop"
)

func sampleItem() stashloop.Item {
	due := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	return stashloop.Item{
		ID:          "it-1",
		URL:         "https://example.com/post",
		Domain:      "example.com",
		Title:       "A Post",
		Description: "Worth reading",
		Type:        "article",
		Status:      "snoozed",
		Pinned:      true,
		NextAt:      &due,
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "text", "human"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestOutputItems_JSON(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatJSON, &out, &errBuf)

	if err := f.OutputItems("Today", []stashloop.Item{sampleItem()}); err != nil {
		t.Fatalf("OutputItems failed: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("got %d items, want 1", len(decoded))
	}
	if decoded[0]["id"] != "it-1" {
		t.Errorf("id = %v, want it-1", decoded[0]["id"])
	}
	if decoded[0]["pinned"] != true {
		t.Errorf("pinned = %v, want true", decoded[0]["pinned"])
	}
}

func TestOutputItems_EmptyJSONIsArray(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatJSON, &out, &errBuf)

	if err := f.OutputItems("Today", nil); err != nil {
		t.Fatalf("OutputItems failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "[]" {
		t.Errorf("output = %q, want []", got)
	}
}

func TestOutputItems_Text(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatText, &out, &errBuf)

	if err := f.OutputItems("Today", []stashloop.Item{sampleItem()}); err != nil {
		t.Fatalf("OutputItems failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"id=it-1", "status=snoozed", "pinned=true", "domain=example.com", "next_at=2026-03-11T09:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output: %s", want, got)
		}
	}
}

func TestOutputItems_HumanEmpty(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	if err := f.OutputItems("Inbox", nil); err != nil {
		t.Fatalf("OutputItems failed: %v", err)
	}
	if !strings.Contains(out.String(), "Inbox is empty") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestOutputItem_HumanFallsBackToURL(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	it := sampleItem()
	it.Title = ""
	if err := f.OutputItem(it); err != nil {
		t.Fatalf("OutputItem failed: %v", err)
	}
	first := strings.SplitN(out.String(), "\n", 2)[0]
	if !strings.Contains(first, "https://example.com/post") {
		t.Errorf("first line = %q, want URL as title", first)
	}
}

func TestOutputDone(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatText, &out, &errBuf)

	res := &stashloop.DoneResult{
		Item:   sampleItem(),
		Streak: &stashloop.Streak{Streak: 3, BestStreak: 5, LastStreakAt: "2026-03-10"},
	}
	if err := f.OutputDone(res); err != nil {
		t.Fatalf("OutputDone failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "done=it-1") || !strings.Contains(got, "streak=3\tbest_streak=5") {
		t.Errorf("unexpected output: %s", got)
	}

	out.Reset()
	if err := f.OutputDone(&stashloop.DoneResult{Item: sampleItem()}); err != nil {
		t.Fatalf("OutputDone failed: %v", err)
	}
	if strings.Contains(out.String(), "streak=") {
		t.Errorf("streak printed without a change: %s", out.String())
	}
}

func TestOutputStreak_HumanNoStreak(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	if err := f.OutputStreak(stashloop.Streak{}); err != nil {
		t.Fatalf("OutputStreak failed: %v", err)
	}
	if !strings.Contains(out.String(), "No streak yet") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestOutputSettings_Text(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatText, &out, &errBuf)

	s := &stashloop.Settings{ItemsPerDay: 5, ReminderHour: 8, Timezone: "Europe/Berlin", PushOptIn: true}
	if err := f.OutputSettings(s); err != nil {
		t.Fatalf("OutputSettings failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"items_per_day=5", "reminder_hour=8", "timezone=Europe/Berlin", "push_opt_in=true", "last_push_at=\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output: %s", want, got)
		}
	}
}

func TestOutputFillReport(t *testing.T) {
	r := &stashloop.Report[stashloop.FillResult]{
		Batch:  true,
		Users:  3,
		Failed: 1,
		Results: []stashloop.FillResult{
			{UserID: "u1", Deficit: 3, Promoted: 3, ItemIDs: []string{"a", "b", "c"}},
			{UserID: "u2", Deficit: 1, Promoted: 0},
		},
		Errors: []stashloop.UserError{{UserID: "u3", Error: "database is locked"}},
	}

	t.Run("text", func(t *testing.T) {
		var out, errBuf bytes.Buffer
		f := NewFormatterWithWriters(FormatText, &out, &errBuf)
		if err := f.OutputFillReport(r); err != nil {
			t.Fatalf("OutputFillReport failed: %v", err)
		}
		got := out.String()
		if !strings.Contains(got, "user=u1\tdeficit=3\tpromoted=3") {
			t.Errorf("missing u1 line: %s", got)
		}
		if !strings.Contains(got, "users=3\tfailed=1\tpromoted=3") {
			t.Errorf("missing summary: %s", got)
		}
	})

	t.Run("human", func(t *testing.T) {
		var out, errBuf bytes.Buffer
		f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)
		if err := f.OutputFillReport(r); err != nil {
			t.Fatalf("OutputFillReport failed: %v", err)
		}
		got := out.String()
		if !strings.Contains(got, "2 user(s): 3 item(s)") {
			t.Errorf("unexpected summary: %s", got)
		}
		if !strings.Contains(got, "u3: database is locked") {
			t.Errorf("missing user error: %s", got)
		}
	})

	t.Run("json", func(t *testing.T) {
		var out, errBuf bytes.Buffer
		f := NewFormatterWithWriters(FormatJSON, &out, &errBuf)
		if err := f.OutputFillReport(r); err != nil {
			t.Fatalf("OutputFillReport failed: %v", err)
		}
		var decoded stashloop.Report[stashloop.FillResult]
		if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode JSON: %v", err)
		}
		if decoded.Failed != 1 || len(decoded.Results) != 2 {
			t.Errorf("decoded = %+v", decoded)
		}
	})
}

func TestOutputStreakReport_Human(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	r := &stashloop.Report[stashloop.StreakResult]{
		Users: 2,
		Results: []stashloop.StreakResult{
			{UserID: "u1", Qualified: true, Advanced: true, Streak: stashloop.Streak{Streak: 2, BestStreak: 2}},
			{UserID: "u2"},
		},
	}
	if err := f.OutputStreakReport(r); err != nil {
		t.Fatalf("OutputStreakReport failed: %v", err)
	}
	if !strings.Contains(out.String(), "Checked 2 user(s): 1 streak(s) advanced") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestOutputReminderReport_Human(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatHuman, &out, &errBuf)

	r := &stashloop.Report[stashloop.ReminderResult]{
		Users: 3,
		Results: []stashloop.ReminderResult{
			{UserID: "u1", Sent: true, Tokens: 2, Delivered: 2},
			{UserID: "u2", Reason: "wrong_hour"},
			{UserID: "u3", Reason: "wrong_hour"},
		},
	}
	if err := f.OutputReminderReport(r); err != nil {
		t.Fatalf("OutputReminderReport failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Sent 1 reminder(s)") {
		t.Errorf("missing sent count: %s", got)
	}
	if !strings.Contains(got, "skipped 2: wrong hour") {
		t.Errorf("missing skip reason: %s", got)
	}
}

func TestOutputFeeds_Text(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatText, &out, &errBuf)

	msg := "404 Not Found"
	feeds := []stashloop.FeedSource{{ID: 7, URL: "https://blog.example/feed", Title: "Blog", LastError: &msg}}
	if err := f.OutputFeeds(feeds); err != nil {
		t.Fatalf("OutputFeeds failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "id=7") || !strings.Contains(got, "error=404 Not Found") {
		t.Errorf("unexpected output: %s", got)
	}
}

func TestErrorAndWarning(t *testing.T) {
	var out, errBuf bytes.Buffer
	f := NewFormatterWithWriters(FormatText, &out, &errBuf)

	f.Error("bad %s", "thing")
	f.Warning("careful")
	got := errBuf.String()
	if !strings.Contains(got, "bad thing\n") || !strings.Contains(got, "Warning: careful\n") {
		t.Errorf("stderr = %q", got)
	}
	if out.Len() != 0 {
		t.Errorf("stdout should be empty, got %q", out.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  short  ", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("truncate long = %q", got)
	}
}
