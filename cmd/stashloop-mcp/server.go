package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matthewjhunter/stashloop"
	"github.com/matthewjhunter/stashloop/internal/item"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const serverVersion = "0.1.0"

// server exposes the engine as MCP tools.
type server struct {
	engine *stashloop.Engine
	userID string
	poller *poller // non-nil when --poll is enabled
	log    *zap.Logger
}

func newServer(engine *stashloop.Engine, userID string, log *zap.Logger) *server {
	return &server{engine: engine, userID: userID, log: log}
}

// caller maps an optional speaker onto a user caller. An empty speaker is the
// default user.
func (s *server) caller(speaker *string) stashloop.CallerContext {
	if speaker != nil && *speaker != "" {
		return stashloop.AsUser(*speaker)
	}
	return stashloop.AsUser(s.userID)
}

// jsonResult renders v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

func textResult(format string, args ...any) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}}}, nil, nil
}

func limitOr(p *int, def int) int {
	if p == nil || *p <= 0 {
		return def
	}
	return *p
}

// mcpServer builds the MCP server with every tool registered.
func (s *server) mcpServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "stashloop", Version: serverVersion}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "today_list",
		Description: "Get today's picks: the few saved links surfaced for the user today, pinned first.",
	}, s.todayList)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "inbox_list",
		Description: "Get saved links waiting in the inbox (including snoozed ones), newest first.",
	}, s.inboxList)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "item_save",
		Description: "Save a link for later. Accepts a URL or shared text containing one.",
	}, s.itemSave)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "item_done",
		Description: "Mark one of today's items done. Reports the streak when this cleared today's list.",
	}, s.itemDone)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "item_snooze",
		Description: "Snooze one of today's items until tomorrow or next week.",
	}, s.itemSnooze)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "item_today",
		Description: "Move an inbox or snoozed item onto today's list.",
	}, s.itemToday)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "item_pin",
		Description: "Pin or unpin an item. Pinned items are picked first.",
	}, s.itemPin)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "fill_today",
		Description: "Top up today's list from the backlog to the user's daily quota.",
	}, s.fillToday)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "streak_get",
		Description: "Get the current and best streak of fully cleared days.",
	}, s.streakGet)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "settings_get",
		Description: "Get the user's settings: items per day, reminder hour, timezone and push opt-in.",
	}, s.settingsGet)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "settings_update",
		Description: "Change one or more settings.",
	}, s.settingsUpdate)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feeds_list",
		Description: "List RSS/Atom feeds whose entries are saved to the inbox.",
	}, s.feedsList)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feed_subscribe",
		Description: "Subscribe to an RSS/Atom feed. Its current entries are saved to the inbox.",
	}, s.feedSubscribe)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feed_unsubscribe",
		Description: "Unsubscribe from a feed. Items already saved stay.",
	}, s.feedUnsubscribe)
	if s.poller != nil {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "poll_now",
			Description: "Poll every feed now and top up today's lists.",
		}, s.pollNow)
	}
	return srv
}

// run serves MCP over stdin/stdout until the client disconnects.
func (s *server) run(ctx context.Context) error {
	s.log.Info("stashloop-mcp starting", zap.String("user_id", s.userID))
	return s.mcpServer().Run(ctx, &mcp.StdioTransport{})
}

// --- tool handlers ---

func (s *server) todayList(ctx context.Context, _ *mcp.CallToolRequest, in speakerOnlyInput) (*mcp.CallToolResult, any, error) {
	items, err := s.engine.TodayItems(ctx, s.caller(in.Speaker))
	if err != nil {
		return nil, nil, err
	}
	if items == nil {
		items = []stashloop.Item{}
	}
	return jsonResult(items)
}

func (s *server) inboxList(ctx context.Context, _ *mcp.CallToolRequest, in listInput) (*mcp.CallToolResult, any, error) {
	items, err := s.engine.InboxItems(ctx, s.caller(in.Speaker), limitOr(in.Limit, 20))
	if err != nil {
		return nil, nil, err
	}
	if items == nil {
		items = []stashloop.Item{}
	}
	return jsonResult(items)
}

func (s *server) itemSave(ctx context.Context, _ *mcp.CallToolRequest, in itemSaveInput) (*mcp.CallToolResult, any, error) {
	var req stashloop.SaveRequest
	if in.URL != nil {
		req.URL = *in.URL
	}
	if in.Text != nil {
		req.Text = *in.Text
	}
	if in.Title != nil {
		req.Title = *in.Title
	}
	caller := s.caller(in.Speaker)
	it, err := s.engine.SaveItem(ctx, caller, req)
	if err != nil {
		return nil, nil, err
	}
	if in.Scrape == nil || *in.Scrape {
		if enriched, err := s.engine.Enrich(ctx, caller, it.ID); err == nil {
			it = enriched
		}
	}
	return jsonResult(it)
}

func (s *server) itemDone(ctx context.Context, _ *mcp.CallToolRequest, in itemIDInput) (*mcp.CallToolResult, any, error) {
	res, err := s.engine.MarkDone(ctx, s.caller(in.Speaker), in.ItemID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(res)
}

func (s *server) itemSnooze(ctx context.Context, _ *mcp.CallToolRequest, in itemSnoozeInput) (*mcp.CallToolResult, any, error) {
	until := ""
	if in.Until != nil {
		until = *in.Until
	}
	variant, err := item.ParseSnoozeVariant(until)
	if err != nil {
		return nil, nil, err
	}
	it, err := s.engine.Snooze(ctx, s.caller(in.Speaker), in.ItemID, variant)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(it)
}

func (s *server) itemToday(ctx context.Context, _ *mcp.CallToolRequest, in itemIDInput) (*mcp.CallToolResult, any, error) {
	it, err := s.engine.MoveToToday(ctx, s.caller(in.Speaker), in.ItemID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(it)
}

func (s *server) itemPin(ctx context.Context, _ *mcp.CallToolRequest, in itemPinInput) (*mcp.CallToolResult, any, error) {
	pinned := in.Pinned == nil || *in.Pinned
	it, err := s.engine.SetPinned(ctx, s.caller(in.Speaker), in.ItemID, pinned)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(it)
}

func (s *server) fillToday(ctx context.Context, _ *mcp.CallToolRequest, in speakerOnlyInput) (*mcp.CallToolResult, any, error) {
	report, err := s.engine.FillToday(ctx, s.caller(in.Speaker))
	if err != nil {
		return nil, nil, err
	}
	res := report.Results[0]
	if res.Promoted == 0 {
		return textResult("Today is already full (or the backlog is empty); nothing promoted.")
	}
	return jsonResult(res)
}

func (s *server) streakGet(ctx context.Context, _ *mcp.CallToolRequest, in speakerOnlyInput) (*mcp.CallToolResult, any, error) {
	st, err := s.engine.GetStreak(ctx, s.caller(in.Speaker))
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(st)
}

func (s *server) settingsGet(ctx context.Context, _ *mcp.CallToolRequest, in speakerOnlyInput) (*mcp.CallToolResult, any, error) {
	st, err := s.engine.GetSettings(ctx, s.caller(in.Speaker))
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(st)
}

func (s *server) settingsUpdate(ctx context.Context, _ *mcp.CallToolRequest, in settingsUpdateInput) (*mcp.CallToolResult, any, error) {
	st, err := s.engine.UpdateSettings(ctx, s.caller(in.Speaker), stashloop.SettingsPatch{
		ItemsPerDay:  in.ItemsPerDay,
		ReminderHour: in.ReminderHour,
		Timezone:     in.Timezone,
		PushOptIn:    in.PushOptIn,
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(st)
}

func (s *server) feedsList(ctx context.Context, _ *mcp.CallToolRequest, in speakerOnlyInput) (*mcp.CallToolResult, any, error) {
	feeds, err := s.engine.ListFeeds(ctx, s.caller(in.Speaker))
	if err != nil {
		return nil, nil, err
	}
	if feeds == nil {
		feeds = []stashloop.FeedSource{}
	}
	return jsonResult(feeds)
}

func (s *server) feedSubscribe(ctx context.Context, _ *mcp.CallToolRequest, in feedSubscribeInput) (*mcp.CallToolResult, any, error) {
	title := ""
	if in.Title != nil {
		title = *in.Title
	}
	src, err := s.engine.AddFeed(ctx, s.caller(in.Speaker), in.URL, title)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(src)
}

func (s *server) feedUnsubscribe(ctx context.Context, _ *mcp.CallToolRequest, in feedIDInput) (*mcp.CallToolResult, any, error) {
	if err := s.engine.RemoveFeed(ctx, s.caller(in.Speaker), in.FeedID); err != nil {
		return nil, nil, err
	}
	return textResult("Unsubscribed from feed %d", in.FeedID)
}

func (s *server) pollNow(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	res, err := s.poller.poll(ctx)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(res)
}
