// Package jobs provides named one-shot job scheduling with a watchdog.
//
// A Registry keeps at most one handle per job name. Scheduling a name that is
// already pending replaces the old timer, so a self re-arming job can never be
// duplicated by a second Schedule call:
//
//	registry := jobs.NewRegistry(jobs.SystemClock{})
//	registry.Schedule("survey-allocation-push", time.Minute, run)
//
// A job counts as existing while its timer is pending and while its function is
// running. Jobs that re-arm themselves from inside their function therefore never
// leave a window in which Exists reports false.
//
// A Watchdog checks a name on a cron schedule and calls a restart function when
// the name has disappeared, e.g. after a run panicked before re-arming:
//
//	wd := jobs.NewWatchdog(registry, "survey-allocation-push", poller.Restart,
//		jobs.WithLogger(logger), jobs.WithMetrics(metrics))
//	wd.Start()
//	defer wd.Stop(ctx)
//
// ManualClock drives timers deterministically in tests.
package jobs
