// Package bulk runs a function over a list of items, sequentially or on a
// fixed worker pool.
package bulk

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Operation configures a bulk run.
type Operation struct {
	// Jobs is the worker count; 0 uses the CPU count.
	Jobs            int
	ContinueOnError bool
	// Ordered forces sequential execution in item order.
	Ordered bool
	// Logger receives one debug event per failed item.
	Logger *zerolog.Logger
}

// Result represents the result of a bulk operation
type Result struct {
	TotalItems int
	Succeeded  int
	Failed     int
	// Skipped counts items never started because the run stopped early.
	Skipped int
	Errors  []ItemError
}

// ItemError represents an error for a specific item
type ItemError struct {
	Item  string
	Error error
}

// ItemFunc is the function to execute for each item
type ItemFunc func(ctx context.Context, item string) error

// Execute runs fn on every item. Without ContinueOnError the first failure
// stops new items from starting; items already running finish. Errors are
// returned sorted by item so output is stable across worker counts.
func (op *Operation) Execute(ctx context.Context, items []string, fn ItemFunc) *Result {
	if len(items) == 0 {
		return &Result{}
	}

	jobs := op.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if jobs > len(items) {
		jobs = len(items)
	}

	var result *Result
	if op.Ordered || jobs == 1 {
		result = op.executeSequential(ctx, items, fn)
	} else {
		result = op.executeParallel(ctx, items, fn, jobs)
	}

	sort.SliceStable(result.Errors, func(i, j int) bool {
		return result.Errors[i].Item < result.Errors[j].Item
	})
	return result
}

func (op *Operation) executeSequential(ctx context.Context, items []string, fn ItemFunc) *Result {
	result := &Result{TotalItems: len(items)}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			result.Skipped = len(items) - i
			return result
		}

		if err := fn(ctx, item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Item: item, Error: err})
			op.logFailure(item, err)
			if !op.ContinueOnError {
				result.Skipped = len(items) - i - 1
				return result
			}
			continue
		}
		result.Succeeded++
	}

	return result
}

func (op *Operation) executeParallel(ctx context.Context, items []string, fn ItemFunc, workers int) *Result {
	result := &Result{TotalItems: len(items)}

	workQueue := make(chan string, len(items))
	for _, item := range items {
		workQueue <- item
	}
	close(workQueue)

	var (
		succeeded  int32
		failed     int32
		errorsMux  sync.Mutex
		stopSignal int32 // 0 = continue, 1 = stop
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for item := range workQueue {
				if ctx.Err() != nil || (!op.ContinueOnError && atomic.LoadInt32(&stopSignal) == 1) {
					return
				}

				if err := fn(ctx, item); err != nil {
					atomic.AddInt32(&failed, 1)
					errorsMux.Lock()
					result.Errors = append(result.Errors, ItemError{Item: item, Error: err})
					errorsMux.Unlock()
					op.logFailure(item, err)

					if !op.ContinueOnError {
						atomic.StoreInt32(&stopSignal, 1)
					}
					continue
				}
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}

	wg.Wait()

	result.Succeeded = int(succeeded)
	result.Failed = int(failed)
	result.Skipped = result.TotalItems - result.Succeeded - result.Failed
	return result
}

func (op *Operation) logFailure(item string, err error) {
	if op.Logger == nil {
		return
	}
	op.Logger.Debug().Str("item", item).Err(err).Msg("bulk item failed")
}

// ExitCode returns the appropriate exit code for the result
func (r *Result) ExitCode() int {
	if r.Failed == 0 && r.Skipped == 0 {
		return 0
	}
	if r.Succeeded > 0 {
		return 5 // Partial success
	}
	return 1
}

// PrintSummary prints a human-readable summary of the result
func (r *Result) PrintSummary(w io.Writer) {
	switch {
	case r.Failed == 0 && r.Skipped == 0:
		fmt.Fprintf(w, "All %d checks passed\n", r.TotalItems)
	case r.Succeeded == 0:
		fmt.Fprintf(w, "All %d checks failed\n", r.TotalItems)
	default:
		fmt.Fprintf(w, "Partial success: %d passed, %d failed, %d skipped (out of %d)\n",
			r.Succeeded, r.Failed, r.Skipped, r.TotalItems)
	}

	shown := r.Errors
	if len(shown) > 10 {
		fmt.Fprintf(w, "Showing first 10 errors (of %d):\n", len(r.Errors))
		shown = shown[:10]
	} else if len(shown) > 0 {
		fmt.Fprintf(w, "Errors:\n")
	}
	for _, e := range shown {
		fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
	}
}
