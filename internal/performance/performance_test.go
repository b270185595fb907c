package performance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestWorkerPoolFunctionality(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()

	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		if !pool.Submit(context.Background(), func() { counter.Add(1) }) {
			t.Fatal("submit rejected while running")
		}
	}
	pool.Stop()

	if counter.Load() != 100 {
		t.Errorf("ran %d tasks, want 100", counter.Load())
	}
	stats := pool.Stats()
	if stats.Running || stats.TasksTotal != 100 || stats.TasksDone != 100 {
		t.Errorf("stats = %+v", stats)
	}
	if pool.Submit(context.Background(), func() {}) {
		t.Error("submit accepted after stop")
	}
}

func TestProperty_MapPreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)

	properties.Property("Map returns fn(item) at each index", prop.ForAll(
		func(items []int, workers int) bool {
			results, errs := Map(context.Background(), workers, items, func(_ context.Context, v int) (int, error) {
				return v * 2, nil
			})
			if len(results) != len(items) {
				return false
			}
			for i, v := range items {
				if results[i] != v*2 || errs[i] != nil {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-1000, 1000)),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

func TestMapErrorsAndCancellation(t *testing.T) {
	boom := errors.New("boom")
	_, errs := Map(context.Background(), 2, []int{1, 2, 3}, func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	})
	if errs[0] != nil || !errors.Is(errs[1], boom) || errs[2] != nil {
		t.Errorf("errs = %v", errs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, errs = Map(ctx, 1, []int{1, 2}, func(_ context.Context, v int) (int, error) {
		return v, nil
	})
	for i, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("errs[%d] = %v, want context.Canceled", i, err)
		}
	}
}
