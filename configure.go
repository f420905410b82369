package stashloop

import (
	"context"
	"errors"

	"github.com/matthewjhunter/stashloop/internal/config"
	"github.com/matthewjhunter/stashloop/internal/fill"
	"github.com/matthewjhunter/stashloop/internal/push"
	"github.com/matthewjhunter/stashloop/internal/scrape"
	"go.uber.org/zap"
)

// ErrScrapeDisabled is returned by the scraper when scraping is turned off.
var ErrScrapeDisabled = errors.New("metadata scraping is disabled")

// EngineConfigFrom maps a loaded configuration onto an EngineConfig.
func EngineConfigFrom(cfg *config.Config, log *zap.Logger) EngineConfig {
	if log == nil {
		log = zap.NewNop()
	}
	ec := EngineConfig{
		Driver:      cfg.Database.Driver,
		DSN:         cfg.DSN(),
		Fill:        fill.Policy{Oversample: cfg.Policy.Oversample, Compare: fill.ByPriority},
		Concurrency: cfg.Schedule.Concurrency,
		Defaults: Defaults{
			ItemsPerDay:  cfg.Policy.ItemsPerDay,
			ReminderHour: cfg.Policy.ReminderHour,
			Timezone:     cfg.Policy.Timezone,
		},
		Reminder: push.Message{Title: cfg.Push.Title, Body: cfg.Push.Body},
		Push: push.NewClient(
			push.WithEndpoint(cfg.Push.Endpoint),
			push.WithChunkSize(cfg.Push.ChunkSize),
			push.WithLogger(log.Named("push")),
		),
		Logger: log,
	}
	if cfg.Scrape.Disabled {
		ec.Scraper = disabledScraper{}
	} else {
		ec.Scraper = scrape.New(scrape.Config{
			UserAgent:      cfg.Scrape.UserAgent,
			Timeout:        cfg.Scrape.Timeout,
			FacebookAppID:  cfg.Scrape.FacebookAppID,
			FacebookSecret: cfg.Scrape.FacebookSecret,
		}, log.Named("scrape"))
	}
	return ec
}

type disabledScraper struct{}

func (disabledScraper) Scrape(context.Context, string) (scrape.Metadata, error) {
	return scrape.Metadata{}, ErrScrapeDisabled
}
