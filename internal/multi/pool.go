package multi

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkersPerCPU scales the default pool size with the usable CPUs.
const WorkersPerCPU = 4

// DefaultWorkers is WorkersPerCPU times the CPUs this process may run on.
func DefaultWorkers() int {
	return WorkersPerCPU * availableCPUs()
}

// Map applies fn to every item with at most workers calls in flight and
// returns the results in input order. It waits for every call.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) R) []R {
	if workers < 1 {
		workers = 1
	}
	out := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			out[i] = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
