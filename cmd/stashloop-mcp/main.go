// stashloop-mcp is an MCP server for StashLoop. It serves the Today list,
// the inbox and item actions over stdio so an assistant can save links and
// work through the day's picks on a user's behalf.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matthewjhunter/stashloop"
	"github.com/matthewjhunter/stashloop/internal/config"
	"github.com/matthewjhunter/stashloop/internal/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "config file path (.yaml or .toml)")
	userID := flag.String("user", "local", "default user for item operations")
	poll := flag.Duration("poll", 0, "poll feeds and fill Today on this interval (0 disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stashloop-mcp: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the protocol; logs go to stderr
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stashloop-mcp: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	engine, err := stashloop.NewEngine(stashloop.EngineConfigFrom(cfg, log))
	if err != nil {
		log.Fatal("create engine", zap.Error(err))
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newServer(engine, *userID, log)
	if *poll > 0 {
		srv.poller = newPoller(engine, max(*poll, time.Minute), log.Named("poller"))
		srv.poller.start(ctx)
		defer srv.poller.stop()
	}
	if err := srv.run(ctx); err != nil {
		log.Error("server error", zap.Error(err))
	}
}
