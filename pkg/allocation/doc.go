// Package allocation reminds participants about surveys allocated to their group.
//
// # Eligibility
//
// An allocation is due for a push when all of these hold at the current time:
//
//   - its type is oneoff
//   - open_at is unset or in the past, close_at is unset or in the future
//   - it was never pushed, or it is overdue (pushed_at < due_at < now) and the
//     last push is older than the throttle (24h by default)
//
// Due implements the rule in Go and PostgresStore.ListDue in SQL; both must
// agree.
//
// # Poller
//
// Poller runs the push job on a jobs.Registry under JobName. The first run
// happens InitialDelay after Start, and each run re-arms the next one Interval
// later whatever its outcome, including a panic. A run selects up to BatchSize
// due allocations and processes them concurrently:
//
//  1. load the group's clients with a push token and the allocation's answers
//  2. notify clients without a complete answer ("New survey" the first time,
//     "Survey reminder" afterwards)
//  3. when notify.Succeeded accepts the dispatch results, stamp pushed_at
//
// An allocation whose dispatch failed keeps its pushed_at and is retried on
// the next run. Errors in one allocation never affect the others.
//
// A jobs.Watchdog pointed at JobName with Poller.Restart as its restart
// function brings the job back if it ever disappears from the registry.
package allocation
