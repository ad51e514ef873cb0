package async

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

// SafeGo executes fn in a goroutine with a timeout, panic recovery and error
// logging. Use it instead of a bare `go func()` for fire-and-forget work.
//
//	async.SafeGo(ctx, 5*time.Second, logger, "config reload", func(ctx context.Context) error {
//	    return reload(ctx)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, logger *observability.Logger, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	go func() {
		ctx, cancel := parentCtx, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		}
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

// All runs fn for every item concurrently, at most limit at a time (no limit
// when limit <= 0), and waits for all of them. A failing or panicking call
// never stops the others. The returned slice holds the error of each item at
// its index, nil on success.
func All[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) []error {
	errs := make([]error, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		g.Go(func() error {
			errs[i] = call(ctx, item, fn)
			return nil
		})
	}
	g.Wait()

	return errs
}

// Failed returns the non-nil errors of an All result
func Failed(errs []error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func call[T any](ctx context.Context, item T, fn func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = observability.MustRecover(r)
		}
	}()
	return fn(ctx, item)
}
