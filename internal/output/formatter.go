package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/matthewjhunter/stashloop"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatText, FormatHuman:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want json, text or human)", s)
}

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// OutputItem outputs a single item
func (f *Formatter) OutputItem(it stashloop.Item) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(it)
	case FormatText:
		f.itemLine(it)
		return nil
	case FormatHuman:
		f.itemBlock(it)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputItems outputs a list of items under a heading such as "Today".
func (f *Formatter) OutputItems(heading string, items []stashloop.Item) error {
	switch f.format {
	case FormatJSON:
		if items == nil {
			items = []stashloop.Item{}
		}
		return json.NewEncoder(f.out).Encode(items)
	case FormatText:
		for _, it := range items {
			f.itemLine(it)
		}
		return nil
	case FormatHuman:
		if len(items) == 0 {
			fmt.Fprintf(f.out, "%s is empty\n", heading)
			return nil
		}
		fmt.Fprintf(f.out, "%s (%d):\n\n", heading, len(items))
		for _, it := range items {
			f.itemBlock(it)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func (f *Formatter) itemLine(it stashloop.Item) {
	fmt.Fprintf(f.out, "id=%s\tstatus=%s\tpinned=%t\ttype=%s\tdomain=%s\ttitle=%s\turl=%s\tnext_at=%s\n",
		it.ID, it.Status, it.Pinned, it.Type, it.Domain, it.Title, it.URL, formatTime(it.NextAt))
}

func (f *Formatter) itemBlock(it stashloop.Item) {
	title := it.Title
	if title == "" {
		title = it.URL
	}
	pin := ""
	if it.Pinned {
		pin = "📌 "
	}
	fmt.Fprintf(f.out, "%s%s\n", pin, title)
	fmt.Fprintf(f.out, "  %s\n", it.URL)
	fmt.Fprintf(f.out, "  %s · %s · %s\n", it.Status, it.Type, it.ID)
	if it.Description != "" {
		fmt.Fprintf(f.out, "  %s\n", truncate(it.Description, 200))
	}
	if it.NextAt != nil {
		fmt.Fprintf(f.out, "  due %s\n", it.NextAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(f.out, "---")
}

// OutputDone outputs a completed item and the streak when it changed.
func (f *Formatter) OutputDone(res *stashloop.DoneResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(res)
	case FormatText:
		fmt.Fprintf(f.out, "done=%s\n", res.Item.ID)
		if res.Streak != nil {
			f.streakLine(*res.Streak)
		}
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "✅ Done: %s\n", cmpTitle(res.Item))
		if res.Streak != nil {
			fmt.Fprintf(f.out, "🔥 Today cleared! Streak %d (best %d)\n", res.Streak.Streak, res.Streak.BestStreak)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputStreak outputs the streak triple
func (f *Formatter) OutputStreak(s stashloop.Streak) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(s)
	case FormatText:
		f.streakLine(s)
		return nil
	case FormatHuman:
		if s.LastStreakAt == "" {
			fmt.Fprintln(f.out, "No streak yet: clear your Today list to start one")
			return nil
		}
		fmt.Fprintf(f.out, "🔥 Streak: %d day(s), best %d (last %s)\n", s.Streak, s.BestStreak, s.LastStreakAt)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func (f *Formatter) streakLine(s stashloop.Streak) {
	fmt.Fprintf(f.out, "streak=%d\tbest_streak=%d\tlast_streak_at=%s\n", s.Streak, s.BestStreak, s.LastStreakAt)
}

// OutputSettings outputs a user's settings
func (f *Formatter) OutputSettings(s *stashloop.Settings) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(s)
	case FormatText:
		fmt.Fprintf(f.out, "items_per_day=%d\n", s.ItemsPerDay)
		fmt.Fprintf(f.out, "reminder_hour=%d\n", s.ReminderHour)
		fmt.Fprintf(f.out, "timezone=%s\n", s.Timezone)
		fmt.Fprintf(f.out, "push_opt_in=%t\n", s.PushOptIn)
		fmt.Fprintf(f.out, "last_push_at=%s\n", formatTime(s.LastPushAt))
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Items per day:  %d\n", s.ItemsPerDay)
		fmt.Fprintf(f.out, "Reminder:       %02d:00 %s", s.ReminderHour, s.Timezone)
		if !s.PushOptIn {
			fmt.Fprint(f.out, " (off)")
		}
		fmt.Fprintln(f.out)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputFillReport outputs the result of a Today-Fill run
func (f *Formatter) OutputFillReport(r *stashloop.Report[stashloop.FillResult]) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(r)
	case FormatText:
		promoted := 0
		for _, res := range r.Results {
			fmt.Fprintf(f.out, "user=%s\tdeficit=%d\tpromoted=%d\n", res.UserID, res.Deficit, res.Promoted)
			promoted += res.Promoted
		}
		fmt.Fprintf(f.out, "users=%d\tfailed=%d\tpromoted=%d\n", r.Users, r.Failed, promoted)
		return nil
	case FormatHuman:
		promoted := 0
		for _, res := range r.Results {
			promoted += res.Promoted
		}
		fmt.Fprintf(f.out, "Filled Today for %d user(s): %d item(s) promoted\n", r.Users-r.Failed, promoted)
		f.humanErrors(r.Errors)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputStreakReport outputs the result of a streak recompute run
func (f *Formatter) OutputStreakReport(r *stashloop.Report[stashloop.StreakResult]) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(r)
	case FormatText:
		for _, res := range r.Results {
			fmt.Fprintf(f.out, "user=%s\tqualified=%t\tadvanced=%t\tstreak=%d\tbest_streak=%d\n",
				res.UserID, res.Qualified, res.Advanced, res.Streak.Streak, res.Streak.BestStreak)
		}
		fmt.Fprintf(f.out, "users=%d\tfailed=%d\n", r.Users, r.Failed)
		return nil
	case FormatHuman:
		advanced := 0
		for _, res := range r.Results {
			if res.Advanced {
				advanced++
			}
		}
		fmt.Fprintf(f.out, "Checked %d user(s): %d streak(s) advanced\n", r.Users-r.Failed, advanced)
		f.humanErrors(r.Errors)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputReminderReport outputs the result of a reminder dispatch run
func (f *Formatter) OutputReminderReport(r *stashloop.Report[stashloop.ReminderResult]) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(r)
	case FormatText:
		for _, res := range r.Results {
			fmt.Fprintf(f.out, "user=%s\tsent=%t\treason=%s\tdelivered=%d\n",
				res.UserID, res.Sent, res.Reason, res.Delivered)
		}
		fmt.Fprintf(f.out, "users=%d\tfailed=%d\n", r.Users, r.Failed)
		return nil
	case FormatHuman:
		sent := 0
		skipped := make(map[string]int)
		for _, res := range r.Results {
			if res.Sent {
				sent++
			} else {
				skipped[res.Reason]++
			}
		}
		fmt.Fprintf(f.out, "🔔 Sent %d reminder(s)\n", sent)
		for reason, n := range skipped {
			fmt.Fprintf(f.out, "  skipped %d: %s\n", n, strings.ReplaceAll(reason, "_", " "))
		}
		f.humanErrors(r.Errors)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func (f *Formatter) humanErrors(errs []stashloop.UserError) {
	for _, e := range errs {
		fmt.Fprintf(f.out, "⚠️  %s: %s\n", e.UserID, e.Error)
	}
}

// OutputFeeds outputs a user's feed sources
func (f *Formatter) OutputFeeds(feeds []stashloop.FeedSource) error {
	switch f.format {
	case FormatJSON:
		if feeds == nil {
			feeds = []stashloop.FeedSource{}
		}
		return json.NewEncoder(f.out).Encode(feeds)
	case FormatText:
		for _, fs := range feeds {
			lastErr := ""
			if fs.LastError != nil {
				lastErr = *fs.LastError
			}
			fmt.Fprintf(f.out, "id=%d\ttitle=%s\turl=%s\tlast_fetched=%s\terror=%s\n",
				fs.ID, fs.Title, fs.URL, formatTime(fs.LastFetched), lastErr)
		}
		return nil
	case FormatHuman:
		if len(feeds) == 0 {
			fmt.Fprintln(f.out, "No feeds")
			return nil
		}
		for _, fs := range feeds {
			fmt.Fprintf(f.out, "[%d] %s\n    %s\n", fs.ID, fs.Title, fs.URL)
			if fs.LastError != nil {
				fmt.Fprintf(f.out, "    ⚠️  %s\n", *fs.LastError)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// Error outputs an error message to stderr
func (f *Formatter) Error(format string, args ...any) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

// Warning outputs a warning message to stderr
func (f *Formatter) Warning(format string, args ...any) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}

func cmpTitle(it stashloop.Item) string {
	if it.Title != "" {
		return it.Title
	}
	return it.URL
}

// formatTime formats a time pointer for output
func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
