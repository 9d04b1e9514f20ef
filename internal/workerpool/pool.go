// Package workerpool fans independent items out over a bounded number of
// goroutines and collects a result or error for every item.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of processing one item.
type Result[I, O any] struct {
	Item  I
	Value O
	Err   error
}

// Run calls fn for every item with at most workers calls in flight and
// returns one Result per item, in input order. A failing item never stops
// the others. A panic inside fn is recovered and reported as that item's
// error. Once ctx is done, items not yet started fail with ctx.Err().
//
// workers below 1 runs sequentially.
func Run[I, O any](ctx context.Context, workers int, items []I, fn func(context.Context, I) (O, error)) []Result[I, O] {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result[I, O], len(items))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		results[i].Item = item
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			results[i].Value, results[i].Err = call(ctx, item, fn)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func call[I, O any](ctx context.Context, item I, fn func(context.Context, I) (O, error)) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return fn(ctx, item)
}

// Errors returns the failed results.
func Errors[I, O any](results []Result[I, O]) []Result[I, O] {
	var failed []Result[I, O]
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
