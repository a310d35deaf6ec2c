package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run periodic background content checks until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, jnl, err := buildManager(cfg)
	if err != nil {
		return err
	}
	defer closeJournal(jnl)

	// Log every request the scheduler creates; diagnostics only.
	go func() {
		for req := range channelOrDone(ctx, manager.Updates()) {
			slog.Info("sync request created",
				"component", "cli",
				"action", "request_observed",
				"request_id", req.ID,
				"kind", string(req.Kind),
			)
		}
	}()

	if err := manager.ScheduleBackgroundUpdates(ctx); err != nil {
		return err
	}

	slog.Info("watching for content updates",
		"component", "cli",
		"action", "watch_started",
		"interval", time.Duration(cfg.Worker.Interval).String(),
	)

	<-ctx.Done()
	manager.CancelPendingRequests()
	slog.Info("shutdown complete")
	return nil
}

// channelOrDone adapts a request stream so the logging goroutine exits with
// the watch context instead of leaking.
func channelOrDone[T any](ctx context.Context, in <-chan T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- v:
				}
			}
		}
	}()
	return out
}
