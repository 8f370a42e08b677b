// Package concurrency provides the bounded-parallelism primitives shared
// by the exporter and seeder: a fixed-worker-count pool for running many
// independent jobs (one per tile) and a cooperative cancellation token for
// long-running drivers that need to stop cleanly mid-run.
package concurrency

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of work submitted to a Pool.
type Job[T any] struct {
	Item T
}

// Result pairs a Job's input with its outcome.
type Result[T, R any] struct {
	Item    T
	Value   R
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is invoked after each job completes with running totals.
type ProgressFunc func(completed, total, failed int)

// Config configures a Pool.
type Config[T, R any] struct {
	// Workers caps the number of jobs in flight at once. Values <= 0 are
	// treated as 1.
	Workers int
	// Run executes a single job. It must be safe to call concurrently
	// from up to Workers goroutines.
	Run func(ctx context.Context, item T) (R, error)
	// OnProgress, if set, is called after every completed job.
	OnProgress ProgressFunc
}

// Pool runs a bounded number of jobs concurrently against a shared Run
// function, collecting one Result per input item. It is the generic
// successor of the fixed tile-generation worker pool: the same fan-out
// shape now drives export and seed operations over arbitrary item types.
type Pool[T, R any] struct {
	workers    int
	run        func(ctx context.Context, item T) (R, error)
	onProgress ProgressFunc
}

// New builds a Pool from cfg.
func New[T, R any](cfg Config[T, R]) *Pool[T, R] {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Pool[T, R]{workers: workers, run: cfg.Run, onProgress: cfg.OnProgress}
}

// Run executes items through the pool's Run function, at most Workers at
// a time, and returns one Result per item in the order items were
// submitted (not the order they completed). If ctx is cancelled, jobs not
// yet started are skipped and reported with ctx.Err(); jobs already
// running are allowed to finish or fail on their own.
func (p *Pool[T, R]) Run(ctx context.Context, items []T) []Result[T, R] {
	if len(items) == 0 {
		return nil
	}

	results := make([]Result[T, R], len(items))

	var (
		mu        sync.Mutex
		completed int
		failed    int
	)

	g, gctx := errgroup.WithContext(context.Background()) // own context; caller's ctx governs job skipping below, not group teardown
	sem := make(chan struct{}, p.workers)

	for i, item := range items {
		i, item := i, item

		select {
		case <-ctx.Done():
			results[i] = Result[T, R]{Item: item, Err: ctx.Err()}
			p.report(&mu, &completed, &failed, len(items), true)
			continue
		default:
		}

		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()

			start := time.Now()
			value, err := p.run(gctx, item)
			elapsed := time.Since(start)

			results[i] = Result[T, R]{Item: item, Value: value, Err: err, Elapsed: elapsed}
			p.report(&mu, &completed, &failed, len(items), err != nil)
			return nil // job errors are carried in Result, not propagated to the group
		})
	}

	_ = g.Wait()
	return results
}

func (p *Pool[T, R]) report(mu *sync.Mutex, completed, failed *int, total int, isFailure bool) {
	mu.Lock()
	*completed++
	if isFailure {
		*failed++
	}
	c, f := *completed, *failed
	mu.Unlock()

	if p.onProgress != nil {
		p.onProgress(c, total, f)
	}
}
