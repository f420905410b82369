package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matthewjhunter/stashloop"
	"github.com/matthewjhunter/stashloop/internal/auth"
	"github.com/matthewjhunter/stashloop/internal/config"
	"github.com/matthewjhunter/stashloop/internal/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "config file path (.yaml or .toml)")
	addr := flag.String("addr", "", "listen address (default: server.addr from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stashloop-web: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stashloop-web: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; user requests will be rejected")
	}
	if cfg.Auth.CronSecret == "" {
		log.Warn("auth.cron_secret is empty; batch runs are disabled")
	}

	engine, err := stashloop.NewEngine(stashloop.EngineConfigFrom(cfg, log))
	if err != nil {
		log.Fatal("failed to open engine", zap.Error(err))
	}
	defer engine.Close()

	authn := auth.New(cfg.Auth.JWTSecret, cfg.Auth.CronSecret, cfg.Auth.Issuer)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(engine, authn, log.Named("http")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	log.Info("stopped")
}
