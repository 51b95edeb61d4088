package jobs

import (
	"context"
	"time"

	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/realtime"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
)

// Names of the built-in jobs
const (
	OverdueSweepJob = "overdue-sweep"
	WatchdogJob     = "liveness-watchdog"
)

// OverdueSweep marks past-due tasks Overdue
func OverdueSweep(sweeper *tasks.OverdueSweeper, logger *observability.Logger) Job {
	logger = observability.OrNop(logger)
	return func(ctx context.Context) error {
		marked, err := sweeper.Sweep(ctx)
		if marked > 0 {
			logger.WithField("marked", marked).Info("Tasks marked overdue")
		}
		return err
	}
}

// Watchdog replaces live subscriptions that have been silent longer than
// their liveness timeout
func Watchdog(registry *realtime.Registry, logger *observability.Logger) Job {
	logger = observability.OrNop(logger)
	return func(context.Context) error {
		if n := registry.CheckLiveness(time.Now()); n > 0 {
			logger.WithField("resubscribed", n).Warn("Stale task subscriptions replaced")
		}
		return nil
	}
}
