package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matthewjhunter/stashloop"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// job is one scheduled process. Every run is made as the trusted scheduler.
type job struct {
	name string
	spec string
	run  func(ctx context.Context, e *stashloop.Engine) error
}

func daemonJobs(specFill, specStreaks, specReminders, specFeeds string) []job {
	sched := stashloop.AsScheduler()
	return []job{
		{"fill", specFill, func(ctx context.Context, e *stashloop.Engine) error {
			r, err := e.FillToday(ctx, sched)
			if err == nil {
				log.Info("fill finished", zap.Int("users", r.Users), zap.Int("failed", r.Failed))
			}
			return err
		}},
		{"streaks", specStreaks, func(ctx context.Context, e *stashloop.Engine) error {
			r, err := e.RecomputeStreak(ctx, sched)
			if err == nil {
				log.Info("streaks finished", zap.Int("users", r.Users), zap.Int("failed", r.Failed))
			}
			return err
		}},
		{"reminders", specReminders, func(ctx context.Context, e *stashloop.Engine) error {
			r, err := e.SendReminders(ctx, sched)
			if err == nil {
				sent := 0
				for _, res := range r.Results {
					if res.Sent {
						sent++
					}
				}
				log.Info("reminders finished", zap.Int("users", r.Users), zap.Int("sent", sent), zap.Int("failed", r.Failed))
			}
			return err
		}},
		{"feeds", specFeeds, func(ctx context.Context, e *stashloop.Engine) error {
			r, err := e.PollFeeds(ctx, sched)
			if err == nil {
				log.Info("feeds polled", zap.Int("saved", r.Saved))
			}
			return err
		}},
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// newCron builds the daemon scheduler. Overlapping runs of the same job are
// skipped and a panicking job is logged instead of killing the daemon.
func newCron(l cron.Logger) *cron.Cron {
	return cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}

// schedule registers the enabled jobs on c and returns how many there are.
func schedule(ctx context.Context, c *cron.Cron, engine *stashloop.Engine, jobs []job) (int, error) {
	registered := 0
	for _, j := range jobs {
		if j.spec == "" {
			log.Info("job disabled", zap.String("job", j.name))
			continue
		}
		_, err := c.AddFunc(j.spec, func() {
			start := time.Now()
			if err := j.run(ctx, engine); err != nil {
				log.Error("job failed", zap.String("job", j.name), zap.Error(err))
				return
			}
			log.Debug("job done", zap.String("job", j.name), zap.Duration("elapsed", time.Since(start)))
		})
		if err != nil {
			return registered, fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		log.Info("job scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
		registered++
	}
	return registered, nil
}

func daemonCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run fill, streak, reminder and feed jobs on their cron schedules",
		Long: `Run the scheduled processes in one long-lived process. Schedules come from
the schedule section of the config; an empty expression disables a job.
Handles SIGINT/SIGTERM for graceful shutdown (waits for running jobs).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			engine, err := stashloop.NewEngine(stashloop.EngineConfigFrom(cfg, log))
			if err != nil {
				return fmt.Errorf("failed to open engine: %w", err)
			}
			defer engine.Close()

			c := newCron(cronLogger{log.Named("cron").Sugar()})
			jobs := daemonJobs(cfg.Schedule.Fill, cfg.Schedule.Streaks, cfg.Schedule.Reminders, cfg.Schedule.Feeds)
			n, err := schedule(ctx, c, engine, jobs)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("no jobs scheduled")
			}

			if runNow {
				for _, j := range jobs {
					if j.spec == "" {
						continue
					}
					if err := j.run(ctx, engine); err != nil {
						log.Error("job failed", zap.String("job", j.name), zap.Error(err))
					}
				}
			}

			log.Info("stashloop daemon started", zap.Int("jobs", n))
			c.Start()
			<-ctx.Done()
			log.Info("received shutdown signal, waiting for running jobs")
			<-c.Stop().Done()
			log.Info("stashloop daemon stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "now", false, "run every enabled job once at startup")
	return cmd
}
