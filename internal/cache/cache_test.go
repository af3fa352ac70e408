package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetOrLoadCachesUntilExpiry(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[int](time.Minute)
	c.now = func() time.Time { return now }

	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	now = now.Add(time.Minute)
	v, err = c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[string](time.Minute)
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c := New[int](0)
	c.Set("k", 1)
	_, ok := c.Get("k")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestConcurrentLoadsShareOneCall(t *testing.T) {
	c := New[int](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 7, nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		require.Equal(t, 7, v)
	}
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 7, v)
}

func TestCancelledCallerDoesNotFailWaiters(t *testing.T) {
	c := New[int](time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-release:
			return 9, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(first, "k", load)
		firstErr <- err
	}()
	<-started

	var (
		second    int
		secondErr error
		done      = make(chan struct{})
	)
	go func() {
		defer close(done)
		second, secondErr = c.GetOrLoad(context.Background(), "k", load)
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)
	<-done
	require.NoError(t, secondErr)
	require.Equal(t, 9, second)

	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 9, v)
}

func TestLoadIsBoundedByLoadTimeout(t *testing.T) {
	c := New[int](time.Minute)
	c.loadTimeout = 10 * time.Millisecond
	_, err := c.GetOrLoad(context.Background(), "k", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeleteAndPurge(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 1, c.Len())
	c.Purge()
	require.Zero(t, c.Len())
}
