package main

import (
	"context"
	"sync"
	"time"

	"github.com/matthewjhunter/stashloop"
	"go.uber.org/zap"
)

// pollResult summarizes one poll cycle.
type pollResult struct {
	Saved    int `json:"saved"`
	Users    int `json:"users"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// poller runs a background feed-poll and Today-fill loop as the scheduler.
type poller struct {
	engine   *stashloop.Engine
	interval time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	done chan struct{}
}

func newPoller(engine *stashloop.Engine, interval time.Duration, log *zap.Logger) *poller {
	return &poller{
		engine:   engine,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// start launches the background poll loop. It polls immediately, then on
// each tick of the configured interval.
func (p *poller) start(ctx context.Context) {
	go p.loop(ctx)
	p.log.Info("poller started", zap.Duration("interval", p.interval))
}

// stop signals the poll loop to exit.
func (p *poller) stop() {
	close(p.done)
	p.log.Info("poller stopped")
}

// poll saves new feed entries, then tops up every Today list so fresh
// entries can be picked right away.
func (p *poller) poll(ctx context.Context) (*pollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sched := stashloop.AsScheduler()
	feeds, err := p.engine.PollFeeds(ctx, sched)
	if err != nil {
		return nil, err
	}
	report, err := p.engine.FillToday(ctx, sched)
	if err != nil {
		return nil, err
	}

	res := &pollResult{Saved: feeds.Saved, Users: report.Users, Failed: report.Failed}
	for _, r := range report.Results {
		res.Promoted += r.Promoted
	}
	p.log.Info("poll complete",
		zap.Int("saved", res.Saved),
		zap.Int("users", res.Users),
		zap.Int("promoted", res.Promoted),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (p *poller) loop(ctx context.Context) {
	if _, err := p.poll(ctx); err != nil {
		p.log.Warn("initial poll failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.poll(ctx); err != nil {
				p.log.Warn("poll failed", zap.Error(err))
			}
		}
	}
}
