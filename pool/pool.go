// Package pool implements the bounded parallel work pool (C5): run a
// sequence of items through a worker function with at most K
// concurrent in flight, preserving input order in the result, and
// abandoning remaining work on the first failure.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mjpitz/metarepo/errs"
)

// DefaultConcurrency is K when the caller passes k<=0, per spec.md
// §4.3's "default K=20".
const DefaultConcurrency = 20

// Work is a worker function mapping one item to one result.
type Work[T, R any] func(ctx context.Context, item T) (R, error)

// Run executes work over items with at most k concurrent calls,
// returning results in the same order as items. On the first failing
// call, in-flight calls are allowed to finish but no further calls are
// started, and the first error encountered is returned; all partial
// results are discarded, matching §4.3's "partial successful results
// are discarded".
func Run[T, R any](ctx context.Context, items []T, k int, work Work[T, R]) ([]R, error) {
	if k <= 0 {
		k = DefaultConcurrency
	}

	results := make([]R, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k)

	for i, item := range items {
		i, item := i, item

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			r, err := work(gctx, item)
			if err != nil {
				return err
			}

			results[i] = r

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// NamedItem pairs an item with the identifier used in failure
// reporting, per §4.3's "emitted with the offending item's identifier".
type NamedItem[T any] struct {
	ID   string
	Item T
}

// RunNamed behaves like Run but wraps a failing call's error with the
// offending item's identifier via errs.Wrap, so callers can report
// "widgets: fetch failed: ..." rather than a bare error.
func RunNamed[T, R any](
	ctx context.Context, op string, items []NamedItem[T], k int, work Work[T, R],
) ([]R, error) {
	wrapped := func(ctx context.Context, item NamedItem[T]) (R, error) {
		r, err := work(ctx, item.Item)
		if err != nil {
			return r, errs.Wrap(errs.KindOf(err), op, err).WithPath(item.ID)
		}

		return r, nil
	}

	return Run(ctx, items, k, wrapped)
}
