package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matthewjhunter/stashloop"
	"github.com/matthewjhunter/stashloop/internal/auth"
	"github.com/matthewjhunter/stashloop/internal/config"
	"github.com/matthewjhunter/stashloop/internal/item"
	"github.com/matthewjhunter/stashloop/internal/logger"
	"github.com/matthewjhunter/stashloop/internal/output"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath   string
	cfg          *config.Config
	log          *zap.Logger
	outputFormat string
	userID       string
	batch        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stashloop",
		Short: "Save links now, get a few back every day",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init-config" {
				cfg = config.Default()
				return nil
			}
			return loadConfig()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path, .yaml or .toml (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "human", "output format: json, text, human")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", envOr("STASHLOOP_USER", "local"), "user to act as")

	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(listCmd("today", "Show today's picks"))
	rootCmd.AddCommand(listCmd("inbox", "Show saved items waiting in the inbox"))
	rootCmd.AddCommand(listCmd("done", "Show recently completed items"))
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(markDoneCmd())
	rootCmd.AddCommand(snoozeCmd())
	rootCmd.AddCommand(pinCmd())
	rootCmd.AddCommand(fillCmd())
	rootCmd.AddCommand(streakCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(issueTokenCmd())
	rootCmd.AddCommand(daemonCmd())

	err := rootCmd.Execute()
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	path := configPath
	if path == "" {
		path = "./config/config.yaml"
	}
	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}
	log, err = logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openEngine builds an engine from the loaded configuration.
func openEngine() (*stashloop.Engine, *output.Formatter, error) {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return nil, nil, err
	}
	engine, err := stashloop.NewEngine(stashloop.EngineConfigFrom(cfg, log))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, output.NewFormatter(format), nil
}

// caller is the identity commands act as. --batch runs scheduled processes
// as the trusted scheduler, for every user unless --user was given.
func caller(cmd *cobra.Command) stashloop.CallerContext {
	if batch {
		if cmd.Flags().Changed("user") {
			return stashloop.CallerContext{UserID: userID, TrustedBatch: true}
		}
		return stashloop.AsScheduler()
	}
	return stashloop.AsUser(userID)
}

func addBatchFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&batch, "batch", false, "run as the scheduler for all users (or only --user when given)")
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "./config/config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists at %s", path)
			}
			if err := cfg.WriteYAML(path); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	}
}

func saveCmd() *cobra.Command {
	var (
		title    string
		kind     string
		noScrape bool
	)
	cmd := &cobra.Command{
		Use:   "save <url-or-text>",
		Short: "Save a link to the inbox",
		Long: `Save a link to the inbox. The argument may be a URL or shared text that
contains one. Title, description and thumbnail are scraped unless --no-scrape
is given or scraping is disabled in the config.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			req := stashloop.SaveRequest{Title: title, Type: kind}
			arg := strings.Join(args, " ")
			if len(args) == 1 && !strings.ContainsAny(arg, " \n\t") {
				req.URL = arg
			} else {
				req.Text = arg
			}
			it, err := engine.SaveItem(ctx, caller(cmd), req)
			if err != nil {
				return err
			}
			if !noScrape && !cfg.Scrape.Disabled {
				if enriched, err := engine.Enrich(ctx, caller(cmd), it.ID); err == nil {
					it = enriched
				}
			}
			return formatter.OutputItem(*it)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "title to store instead of the scraped one")
	cmd.Flags().StringVar(&kind, "type", "", "content type: article, video, thread, other")
	cmd.Flags().BoolVar(&noScrape, "no-scrape", false, "skip fetching page metadata")
	return cmd
}

func listCmd(name, short string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			var items []stashloop.Item
			switch name {
			case "today":
				items, err = engine.TodayItems(ctx, caller(cmd))
			case "inbox":
				items, err = engine.InboxItems(ctx, caller(cmd), limit)
			case "done":
				items, err = engine.DoneItems(ctx, caller(cmd), limit)
			}
			if err != nil {
				return err
			}
			return formatter.OutputItems(strings.ToUpper(name[:1])+name[1:], items)
		},
	}
	if name != "today" {
		cmd.Flags().IntVarP(&limit, "limit", "l", 50, "maximum number of items")
	}
	return cmd
}

func itemCmd(use, short string, fn func(ctx context.Context, e *stashloop.Engine, c stashloop.CallerContext, id string) (*stashloop.Item, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			it, err := fn(context.Background(), engine, caller(cmd), args[0])
			if err != nil {
				return err
			}
			return formatter.OutputItem(*it)
		},
	}
}

func moveCmd() *cobra.Command {
	return itemCmd("move", "Move an item to Today", func(ctx context.Context, e *stashloop.Engine, c stashloop.CallerContext, id string) (*stashloop.Item, error) {
		return e.MoveToToday(ctx, c, id)
	})
}

func markDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <item-id>",
		Short: "Mark a Today item done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.MarkDone(context.Background(), caller(cmd), args[0])
			if err != nil {
				return err
			}
			return formatter.OutputDone(res)
		},
	}
}

func snoozeCmd() *cobra.Command {
	var until string
	cmd := itemCmd("snooze", "Snooze a Today item", func(ctx context.Context, e *stashloop.Engine, c stashloop.CallerContext, id string) (*stashloop.Item, error) {
		variant, err := item.ParseSnoozeVariant(until)
		if err != nil {
			return nil, err
		}
		return e.Snooze(ctx, c, id, variant)
	})
	cmd.Flags().StringVar(&until, "until", "tomorrow", "tomorrow or next_week")
	return cmd
}

func pinCmd() *cobra.Command {
	var unpin bool
	cmd := itemCmd("pin", "Pin an item so it is picked first", func(ctx context.Context, e *stashloop.Engine, c stashloop.CallerContext, id string) (*stashloop.Item, error) {
		return e.SetPinned(ctx, c, id, !unpin)
	})
	cmd.Flags().BoolVar(&unpin, "off", false, "unpin instead")
	return cmd
}

func fillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Top up Today from the backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			report, err := engine.FillToday(context.Background(), caller(cmd))
			if err != nil {
				return err
			}
			return formatter.OutputFillReport(report)
		},
	}
	addBatchFlag(cmd)
	return cmd
}

func streakCmd() *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Show the streak, or recompute it with --update",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if !recompute && !batch {
				s, err := engine.GetStreak(ctx, caller(cmd))
				if err != nil {
					return err
				}
				return formatter.OutputStreak(*s)
			}
			report, err := engine.RecomputeStreak(ctx, caller(cmd))
			if err != nil {
				return err
			}
			return formatter.OutputStreakReport(report)
		},
	}
	cmd.Flags().BoolVar(&recompute, "update", false, "recompute the streak from today's Today list")
	addBatchFlag(cmd)
	return cmd
}

func remindCmd() *cobra.Command {
	var test bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send due daily reminders, or a test notification with --test",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if test {
				res, err := engine.SendTestPush(ctx, caller(cmd))
				if err != nil {
					return err
				}
				if !res.OK {
					formatter.Warning("test notification not sent: %s", res.Reason)
					return nil
				}
				fmt.Printf("Test notification delivered to %d of %d device(s)\n", res.Delivered, res.Tokens)
				return nil
			}
			report, err := engine.SendReminders(ctx, caller(cmd))
			if err != nil {
				return err
			}
			return formatter.OutputReminderReport(report)
		},
	}
	cmd.Flags().BoolVar(&test, "test", false, "send a test notification to your devices")
	addBatchFlag(cmd)
	return cmd
}

func settingsCmd() *cobra.Command {
	var (
		perDay   int
		hour     int
		timezone string
		push     string
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			var patch stashloop.SettingsPatch
			if cmd.Flags().Changed("per-day") {
				patch.ItemsPerDay = &perDay
			}
			if cmd.Flags().Changed("hour") {
				patch.ReminderHour = &hour
			}
			if cmd.Flags().Changed("timezone") {
				patch.Timezone = &timezone
			}
			if cmd.Flags().Changed("push") {
				on, err := strconv.ParseBool(push)
				if err != nil {
					return fmt.Errorf("--push: %w", err)
				}
				patch.PushOptIn = &on
			}

			var st *stashloop.Settings
			if patch == (stashloop.SettingsPatch{}) {
				st, err = engine.EnsureUser(ctx, caller(cmd))
			} else {
				st, err = engine.UpdateSettings(ctx, caller(cmd), patch)
			}
			if err != nil {
				return err
			}
			return formatter.OutputSettings(st)
		},
	}
	cmd.Flags().IntVar(&perDay, "per-day", 3, "items per day (1-20)")
	cmd.Flags().IntVar(&hour, "hour", 9, "local hour for the daily reminder (0-23)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone, e.g. Europe/Berlin")
	cmd.Flags().StringVar(&push, "push", "", "enable daily reminders (true/false)")
	return cmd
}

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage push tokens",
	}

	var platform string
	add := &cobra.Command{
		Use:   "add <token>",
		Short: "Register a push token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.RegisterDevice(context.Background(), caller(cmd), args[0], platform)
		},
	}
	add.Flags().StringVar(&platform, "platform", "", "ios or android")

	remove := &cobra.Command{
		Use:   "remove <token>",
		Short: "Unregister a push token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.UnregisterDevice(context.Background(), caller(cmd), args[0])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered push tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			devices, err := engine.ListDevices(context.Background(), caller(cmd))
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Printf("%s\t%s\t%s\n", d.Token, d.Platform, d.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func feedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Manage RSS/Atom feeds whose entries land in the inbox",
	}

	var title string
	add := &cobra.Command{
		Use:   "add <url>",
		Short: "Subscribe to a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			src, err := engine.AddFeed(context.Background(), caller(cmd), args[0], title)
			if err != nil {
				return err
			}
			return formatter.OutputFeeds([]stashloop.FeedSource{*src})
		},
	}
	add.Flags().StringVarP(&title, "title", "t", "", "display title (default: the feed's own)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List subscribed feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, formatter, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			sources, err := engine.ListFeeds(context.Background(), caller(cmd))
			if err != nil {
				return err
			}
			return formatter.OutputFeeds(sources)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <feed-id>",
		Short: "Unsubscribe from a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid feed id %q", args[0])
			}
			engine, _, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.RemoveFeed(context.Background(), caller(cmd), id)
		},
	}

	importOPML := &cobra.Command{
		Use:   "import <opml-file>",
		Short: "Subscribe to every feed in an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			n, err := engine.ImportOPML(context.Background(), caller(cmd), args[0])
			if err != nil {
				return fmt.Errorf("failed to import OPML: %w", err)
			}
			fmt.Printf("Imported %d feed(s) from %s\n", n, args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, remove, importOPML)
	return cmd
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Fetch every subscribed feed once and save new entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			res, err := engine.PollFeeds(context.Background(), stashloop.AsScheduler())
			if err != nil {
				return err
			}
			fmt.Printf("Saved %d new item(s)\n", res.Saved)
			return nil
		},
	}
}

func issueTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a bearer token for --user, signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			a := auth.New(cfg.Auth.JWTSecret, cfg.Auth.CronSecret, cfg.Auth.Issuer)
			token, err := a.IssueToken(userID, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl)")
	return cmd
}
