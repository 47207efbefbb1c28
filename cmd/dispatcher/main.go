// Command dispatcher claims eligible call jobs and places outbound calls.
// Without -continuous it performs one sweep and exits, suitable for an
// external scheduler.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outbound-orchestrator/internal/app"
	"outbound-orchestrator/internal/config"
	"outbound-orchestrator/internal/dispatcher"
	"outbound-orchestrator/pkg/logger"

	"github.com/robfig/cron/v3"
)

func main() {
	continuous := flag.Bool("continuous", false, "keep sweeping until interrupted")
	interval := flag.Duration("interval", 0, "pause after an empty sweep (default CALL_DISPATCHER_INTERVAL)")
	limit := flag.Int("limit", 0, "jobs per sweep (default CALL_DISPATCHER_LIMIT)")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if *limit <= 0 {
		*limit = cfg.Dispatcher.Limit
	}
	if *interval <= 0 {
		*interval = cfg.Dispatcher.Interval
	}

	a, err := app.New(rootCtx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if !*continuous {
		if _, err := a.Dispatcher.Reconcile(rootCtx); err != nil {
			log.Error("reconcile failed", "err", err)
		}
		rep, err := a.Dispatcher.RunOnce(rootCtx, *limit)
		if err != nil {
			log.Error("dispatcher run failed", "err", err)
			os.Exit(1)
		}
		log.Info("dispatcher run complete",
			"attempted", rep.Attempted,
			"succeeded_immediately", rep.SucceededImmediately,
			"failed_immediately", rep.FailedImmediately,
			"requeued", rep.Requeued,
			"abandoned", rep.Abandoned,
		)
		return
	}

	sched, err := startReconciler(rootCtx, a.Dispatcher, cfg.Dispatcher.ReconcileSchedule, log)
	if err != nil {
		log.Error("reconciler schedule invalid", "schedule", cfg.Dispatcher.ReconcileSchedule, "err", err)
		os.Exit(1)
	}

	log.Info("dispatcher started", "limit", *limit, "interval", *interval, "reconcile", cfg.Dispatcher.ReconcileSchedule)
	_ = a.Dispatcher.Run(rootCtx, dispatcher.RunOptions{Limit: *limit, Interval: *interval})

	log.Info("shutdown initiated")
	stopped := sched.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(20 * time.Second):
		log.Warn("reconciler did not stop in time")
	}
}

// startReconciler expires stale leases and promotes failed jobs on schedule.
// Overlapping runs are skipped.
func startReconciler(ctx context.Context, d *dispatcher.Dispatcher, schedule string, log *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{log: log.With("component", "reconciler")}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(schedule, func() {
		rep, err := d.Reconcile(ctx)
		if err != nil {
			cl.log.Error("reconcile failed", "err", err)
			return
		}
		if len(rep.Expired)+len(rep.Requeued)+len(rep.Abandoned) > 0 {
			cl.log.Info("reconcile",
				"expired", len(rep.Expired),
				"requeued", len(rep.Requeued),
				"abandoned", len(rep.Abandoned),
			)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
