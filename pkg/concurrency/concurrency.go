package concurrency

import (
	"context"
	"sync"
)

// ErrorOr carries either a value or the error that prevented producing it.
type ErrorOr[T any] struct {
	Value T
	Error error
}

// MapLimit runs fn over every input with at most limit goroutines in flight
// and returns the results in input order. A limit below one means one.
// Cancellation of ctx stops scheduling new work; already started calls are
// expected to honor the same context themselves. Slots for inputs skipped
// after cancellation carry ctx.Err().
func MapLimit[In any, Out any](ctx context.Context, limit int, inputs []In, fn func(ctx context.Context, in In) (Out, error)) []ErrorOr[Out] {
	if limit < 1 {
		limit = 1
	}
	results := make([]ErrorOr[Out], len(inputs))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := range inputs {
		if err := ctx.Err(); err != nil {
			results[i] = ErrorOr[Out]{Error: err}
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			v, err := fn(ctx, inputs[i])
			results[i] = ErrorOr[Out]{Value: v, Error: err}
		}(i)
	}
	wg.Wait()
	return results
}

// FirstError returns the first non-nil error in results, or nil.
func FirstError[T any](results []ErrorOr[T]) error {
	for _, r := range results {
		if r.Error != nil {
			return r.Error
		}
	}
	return nil
}

// Values unwraps the result slice, dropping errored slots.
func Values[T any](results []ErrorOr[T]) []T {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if r.Error == nil {
			out = append(out, r.Value)
		}
	}
	return out
}
