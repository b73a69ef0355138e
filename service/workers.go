package service

import (
	"context"
	"sync"
)

// runWorkerPool applies fn to every item using at most slots goroutines.
// Results keep the item order. The bool reports whether ctx ended before all
// items were dispatched; undispatched items keep the zero result.
func runWorkerPool[T, R any](ctx context.Context, slots int, items []T, fn func(context.Context, T) R) ([]R, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]R, len(items))
	if slots <= 1 || len(items) <= 1 {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return results, true
			}
			results[i] = fn(ctx, item)
		}
		return results, false
	}

	tasks := make(chan int)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range tasks {
			if ctx.Err() != nil {
				continue
			}
			results[idx] = fn(ctx, items[idx])
		}
	}

	for i := 0; i < slots; i++ {
		wg.Add(1)
		go worker()
	}

	aborted := false
	for idx := range items {
		if ctx.Err() != nil {
			aborted = true
			break
		}
		tasks <- idx
	}
	close(tasks)
	wg.Wait()
	return results, aborted
}
