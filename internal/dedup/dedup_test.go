package dedup_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketdata/internal/dedup"
)

func TestDo_ConcurrentCallersShareOneExecution(t *testing.T) {
	t.Parallel()

	// Arrange: a long window so a caller that arrives after completion still
	// coalesces.
	d := dedup.New(time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	slow := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "AAPL@189.5", nil
	}

	// Act
	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = dedup.Do(t.Context(), d, "quote:AAPL", slow)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, results[0], results[1])
	require.Equal(t, "AAPL@189.5", results[0])
}

func TestDo_ConcurrentCallersShareTheError(t *testing.T) {
	t.Parallel()

	d := dedup.New(time.Minute)
	boom := errors.New("upstream down")
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = dedup.Do(t.Context(), d, "k", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 0, boom
			})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, err := range errs {
		require.Same(t, boom, err)
	}
}

func TestDo_WindowExpires(t *testing.T) {
	t.Parallel()

	d := dedup.New(50 * time.Millisecond)
	var calls atomic.Int32
	fn := func(context.Context) (int32, error) { return calls.Add(1), nil }

	v1, _ := dedup.Do(t.Context(), d, "k", fn)
	v2, _ := dedup.Do(t.Context(), d, "k", fn)
	require.Equal(t, v1, v2, "second call lands inside the window")

	require.Eventually(t, func() bool {
		v, _ := dedup.Do(t.Context(), d, "k", fn)
		return v != v1
	}, time.Second, 20*time.Millisecond)
}

func TestDo_DistinctKeysRunSeparately(t *testing.T) {
	t.Parallel()

	d := dedup.New(time.Minute)
	var calls atomic.Int32
	fn := func(context.Context) (int, error) { calls.Add(1); return 1, nil }

	_, _ = dedup.Do(t.Context(), d, "quote:AAPL", fn)
	_, _ = dedup.Do(t.Context(), d, "quote:MSFT", fn)

	require.EqualValues(t, 2, calls.Load())
}

func TestDo_CallerCancellationStopsWaitingOnly(t *testing.T) {
	t.Parallel()

	d := dedup.New(time.Minute)
	release := make(chan struct{})
	done := make(chan int, 1)
	fn := func(ctx context.Context) (int, error) {
		<-release
		return 42, ctx.Err()
	}

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		v, _ := dedup.Do(t.Context(), d, "k", fn)
		done <- v
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	_, err := dedup.Do(ctx, d, "k", fn)
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.Equal(t, 42, <-done)
}

func TestDo_NilDeduplicatorCallsThrough(t *testing.T) {
	t.Parallel()

	v, err := dedup.Do(t.Context(), nil, "k", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestDo_PanicBecomesError(t *testing.T) {
	t.Parallel()

	d := dedup.New(0)
	_, err := dedup.Do(t.Context(), d, "k", func(context.Context) (int, error) {
		panic("boom")
	})
	require.ErrorContains(t, err, "panic")

	// The key is released, so later callers run again.
	v, err := dedup.Do(t.Context(), d, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestForget(t *testing.T) {
	t.Parallel()

	d := dedup.New(time.Minute)
	var calls atomic.Int32
	fn := func(context.Context) (int, error) { calls.Add(1); return 1, nil }

	_, _ = dedup.Do(t.Context(), d, "k", fn)
	d.Forget("k")
	_, _ = dedup.Do(t.Context(), d, "k", fn)

	require.EqualValues(t, 2, calls.Load())
}
