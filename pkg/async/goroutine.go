package async

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// Go runs fn on its own goroutine with panic recovery. A positive timeout
// bounds fn's context. Errors are logged, never returned; the returned
// channel is closed when fn finishes.
//
//	done := async.Go(ctx, logger, 0, "websocket reader", func(ctx context.Context) error {
//		return readLoop(ctx, conn)
//	})
//	<-done
func Go(parent context.Context, logger *observability.Logger, timeout time.Duration, name string, fn func(context.Context) error) <-chan struct{} {
	logger = observability.OrNop(logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer observability.RecoverPanic(logger, name)

		ctx, cancel := parent, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parent, timeout)
		}
		defer cancel()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", name).Warn("Background task failed")
		}
	}()
	return done
}

// Batch calls fn for every item with at most workers calls in flight and
// returns the errors indexed like items (nil where fn succeeded). A
// panicking call is reported as its item's error. Items not yet started
// when ctx is cancelled report ctx.Err().
func Batch[T any](ctx context.Context, items []T, workers int, fn func(context.Context, T) error) []error {
	errs := make([]error, len(items))
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		// each goroutine owns errs[i]; returning nil keeps siblings running
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic: %v", r)
				}
			}()
			errs[i] = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Errors drops the nil entries of a Batch result
func Errors(errs []error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
