package pool_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mjpitz/metarepo/pool"
)

func TestRunPreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1, 0}

	results, err := pool.Run(context.Background(), items, 3, func(_ context.Context, item int) (int, error) {
		return item * 10, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{50, 40, 30, 20, 10, 0}, results)
}

func TestRunDefaultConcurrency(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	var maxConcurrent, current int32

	results, err := pool.Run(context.Background(), items, 0, func(_ context.Context, item int) (int, error) {
		n := atomic.AddInt32(&current, 1)
		defer atomic.AddInt32(&current, -1)

		for {
			m := atomic.LoadInt32(&maxConcurrent)
			if n <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, n) {
				break
			}
		}

		return item, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 50)
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), pool.DefaultConcurrency)
}

func TestRunFirstFailureAbandonsWork(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}

	var started int32

	_, err := pool.Run(context.Background(), items, 1, func(_ context.Context, item int) (int, error) {
		atomic.AddInt32(&started, 1)

		if item == 1 {
			return 0, fmt.Errorf("boom on %d", item)
		}

		return item, nil
	})
	require.Error(t, err)
	// With K=1, work is strictly sequential, so item 2,3,4 never start
	// once item 1 fails.
	require.LessOrEqual(t, int(started), 3)
}

func TestRunNamedWrapsIdentifier(t *testing.T) {
	items := []pool.NamedItem[string]{{ID: "widgets", Item: "widgets"}}

	_, err := pool.RunNamed(context.Background(), "test.Op", items, 1,
		func(_ context.Context, item string) (string, error) {
			return "", fmt.Errorf("fetch failed")
		},
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "widgets")
}
