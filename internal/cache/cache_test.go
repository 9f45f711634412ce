package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/testutil"
)

func newCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := New(capacity, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewRejectsInvalidCapacity(t *testing.T) {
	_, err := New(0, nil)
	require.ErrorIs(t, err, embedding.ErrBackendConfig)
}

func TestGetOrComputeHitsAfterFirstCall(t *testing.T) {
	c := newCache(t, 10)
	p := testutil.NewStubProvider("stub", 3, nil)

	first, hit, err := c.GetOrCompute(context.Background(), p, "backend engineer")
	require.NoError(t, err)
	require.False(t, hit)

	second, hit, err := c.GetOrCompute(context.Background(), p, "  backend\n engineer ")
	require.NoError(t, err)
	require.True(t, hit)
	require.Same(t, first, second)
	require.Equal(t, 1, p.Calls())

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(1), stats.Computed)
	require.Equal(t, 1, stats.Size)
}

func TestGetOrComputeRejectsEmptyText(t *testing.T) {
	c := newCache(t, 10)
	p := testutil.NewStubProvider("stub", 3, nil)

	_, _, err := c.GetOrCompute(context.Background(), p, " \t ")
	require.ErrorIs(t, err, embedding.ErrInvalidInput)
	require.Zero(t, p.Calls())
}

func TestConcurrentRequestsShareOneComputation(t *testing.T) {
	c := newCache(t, 10)
	p := testutil.NewStubProvider("stub", 3, nil)
	p.Gate = make(chan struct{})
	p.Started = make(chan string, 16)

	const workers = 16
	var wg sync.WaitGroup
	records := make([]*embedding.VectorRecord, workers)
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records[i], _, errs[i] = c.GetOrCompute(context.Background(), p, "distributed systems engineer")
		}()
	}

	<-p.Started
	// Give the remaining workers a chance to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(p.Gate)
	wg.Wait()

	require.Equal(t, 1, p.Calls())
	for i := range workers {
		require.NoError(t, errs[i])
		require.Same(t, records[0], records[i])
	}
}

func TestConcurrentRequestsShareFailure(t *testing.T) {
	c := newCache(t, 10)
	p := testutil.NewStubProvider("stub", 3, nil)
	p.Gate = make(chan struct{})
	p.Started = make(chan string, 16)
	p.EmbedFunc = func(context.Context, string) ([]float32, error) {
		return nil, embedding.ErrBackendUnavailable
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = c.GetOrCompute(context.Background(), p, "graphic designer")
		}()
	}

	<-p.Started
	time.Sleep(20 * time.Millisecond)
	close(p.Gate)
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, embedding.ErrBackendUnavailable)
	}
	require.Zero(t, c.Len())
}

func TestFailuresAreNotCached(t *testing.T) {
	c := newCache(t, 10)
	p := testutil.NewStubProvider("stub", 2, nil)
	fail := true
	p.EmbedFunc = func(context.Context, string) ([]float32, error) {
		if fail {
			fail = false
			return nil, embedding.ErrBackendUnavailable
		}
		return []float32{1, 0}, nil
	}

	_, _, err := c.GetOrCompute(context.Background(), p, "text")
	require.ErrorIs(t, err, embedding.ErrBackendUnavailable)

	rec, hit, err := c.GetOrCompute(context.Background(), p, "text")
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, []float32{1, 0}, rec.Vector())
	require.Equal(t, 2, p.Calls())
}

func TestEvictionRecomputes(t *testing.T) {
	c := newCache(t, 1)
	p := testutil.NewStubProvider("stub", 2, nil)
	ctx := context.Background()

	for _, text := range []string{"A", "B", "A"} {
		_, _, err := c.GetOrCompute(ctx, p, text)
		require.NoError(t, err)
	}

	require.Equal(t, 3, p.Calls())
	require.Equal(t, []string{"A", "B", "A"}, p.Texts())
	require.Equal(t, int64(2), c.Stats().Evictions)
	require.Equal(t, 1, c.Len())
}

func TestLeastRecentlyUsedIsEvicted(t *testing.T) {
	c := newCache(t, 2)
	p := testutil.NewStubProvider("stub", 2, nil)
	ctx := context.Background()

	for _, text := range []string{"A", "B", "A", "C"} {
		_, _, err := c.GetOrCompute(ctx, p, text)
		require.NoError(t, err)
	}
	require.Equal(t, 3, p.Calls())

	_, hit, err := c.GetOrCompute(ctx, p, "A")
	require.NoError(t, err)
	require.True(t, hit, "A was used recently and must survive")

	_, hit, err = c.GetOrCompute(ctx, p, "B")
	require.NoError(t, err)
	require.False(t, hit, "B was least recently used and must be evicted")
	require.Equal(t, 4, p.Calls())
}

func TestBackendsDoNotShareEntries(t *testing.T) {
	c := newCache(t, 10)
	a := testutil.NewStubProvider("alpha", 2, nil)
	b := testutil.NewStubProvider("beta", 2, nil)

	ra, _, err := c.GetOrCompute(context.Background(), a, "same text")
	require.NoError(t, err)
	rb, hit, err := c.GetOrCompute(context.Background(), b, "same text")
	require.NoError(t, err)
	require.False(t, hit)
	require.NotEqual(t, ra.BackendID(), rb.BackendID())
	require.Equal(t, 1, a.Calls())
	require.Equal(t, 1, b.Calls())

	_, ok := c.Lookup(a.ID(), " same   text")
	require.True(t, ok)
}

func TestCancelledCallerStillPopulatesCache(t *testing.T) {
	c := newCache(t, 10)
	p := testutil.NewStubProvider("stub", 2, nil)
	p.Gate = make(chan struct{})
	p.Started = make(chan string, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, p, "backend engineer")
		done <- err
	}()

	<-p.Started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(p.Gate)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, hit, err := c.GetOrCompute(context.Background(), p, "backend engineer")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 1, p.Calls())
}

func TestDimensionMismatchIsConfigError(t *testing.T) {
	c := newCache(t, 10)
	p := testutil.NewStubProvider("stub", 3, nil)
	p.EmbedFunc = func(context.Context, string) ([]float32, error) {
		return []float32{1}, nil
	}

	_, _, err := c.GetOrCompute(context.Background(), p, "text")
	require.True(t, errors.Is(err, embedding.ErrBackendConfig), "got %v", err)
	require.Zero(t, c.Len())
}

func TestPurge(t *testing.T) {
	c := newCache(t, 10)
	p := testutil.NewStubProvider("stub", 2, nil)

	_, _, err := c.GetOrCompute(context.Background(), p, "text")
	require.NoError(t, err)
	c.Purge()
	require.Zero(t, c.Len())

	_, hit, err := c.GetOrCompute(context.Background(), p, "text")
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 2, p.Calls())
}
