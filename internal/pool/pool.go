// Package pool runs independent import units on a bounded set of goroutines
// and joins them before returning.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"
)

// Result reports which units ran to completion.
type Result struct {
	// Completed holds the indices of units that returned nil.
	Completed *roaring.Bitmap
	// Skipped holds the indices of units never started because an earlier
	// unit failed or the context was cancelled.
	Skipped *roaring.Bitmap
}

// Run calls fn for every unit with at most n calls in flight (n < 1 means 1).
// It blocks until every started call has returned. After the first failure no
// new units are started; calls already running are allowed to finish and the
// first error is returned. A panic in fn is reported as that unit's error.
func Run[T any](ctx context.Context, n int, units []T, fn func(ctx context.Context, unit T) error) (Result, error) {
	if n < 1 {
		n = 1
	}
	res := Result{Completed: roaring.New(), Skipped: roaring.New()}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	var mu sync.Mutex
	for i, u := range units {
		idx := uint32(i)
		g.Go(func() (err error) {
			if gctx.Err() != nil {
				mu.Lock()
				res.Skipped.Add(idx)
				mu.Unlock()
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("unit %d panicked: %v\n%s", idx, r, debug.Stack())
				}
				if err == nil {
					mu.Lock()
					res.Completed.Add(idx)
					mu.Unlock()
				}
			}()
			return fn(gctx, u)
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	// A parent cancellation with no unit error still leaves work undone.
	if !res.Skipped.IsEmpty() {
		return res, ctx.Err()
	}
	return res, nil
}
