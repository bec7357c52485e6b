// Package parallel runs range-partitioned work on a bounded set of goroutines.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// DefaultWorkers returns the number of goroutines used when callers pass 0.
func DefaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// ParallelizeN divides items into contiguous ranges, one per worker, and runs
// fn for each range (start, end) concurrently. workers <= 0 selects
// DefaultWorkers. The first error returned by any range is returned; a panic
// inside fn is converted to a PanicError.
func ParallelizeN(items, workers int, fn func(start, end int) error) error {
	if items <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if workers > items {
		workers = items
	}
	if workers == 1 {
		return filerrors.SafeExecute("parallel range", func() error { return fn(0, items) })
	}

	chunkSize := (items + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		s, e := start, end
		g.Go(func() (err error) {
			defer filerrors.Recover(&err, "parallel range")
			return fn(s, e)
		})
	}
	return g.Wait()
}
