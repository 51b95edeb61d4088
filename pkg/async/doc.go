// Package async runs background work safely.
//
// Go starts a goroutine with panic recovery and an optional timeout and
// logs its error. Batch fans a slice out over a bounded number of
// goroutines and reports one error slot per item; the overdue sweep uses
// it to mark tasks in parallel.
//
//	errs := async.Batch(ctx, ids, 4, func(ctx context.Context, id string) error {
//		return mark(ctx, id)
//	})
//	if failed := async.Errors(errs); len(failed) > 0 {
//		return errors.Join(failed...)
//	}
package async
