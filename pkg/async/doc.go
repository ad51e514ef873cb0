// Package async provides small concurrency helpers with panic containment.
//
// All fans a function out over a slice and waits for every call, collecting
// one error per item. Panics are turned into errors so one bad item cannot
// take down the batch or the process:
//
//	errs := async.All(ctx, allocations, 0, func(ctx context.Context, a allocation.Allocation) error {
//		return push(ctx, a)
//	})
//	for _, err := range async.Failed(errs) {
//		logger.WithError(err).Warn("push failed")
//	}
//
// SafeGo starts fire-and-forget work with a timeout, panic recovery and error
// logging.
package async
