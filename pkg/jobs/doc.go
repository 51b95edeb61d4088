// Package jobs schedules the background work of the daemon with
// robfig/cron: the overdue sweep and the realtime liveness watchdog.
//
//	scheduler := jobs.NewScheduler(logger)
//	scheduler.Add(jobs.OverdueSweepJob, "@every 15m", jobs.OverdueSweep(sweeper, logger))
//	scheduler.Add(jobs.WatchdogJob, "@every 30s", jobs.Watchdog(registry, logger))
//	scheduler.Start()
//	defer scheduler.Stop(ctx)
package jobs
