package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService(time.Hour, time.Hour, nil)
}

func TestKey_ParamOrderIrrelevant(t *testing.T) {
	a := Key("/metrics", map[string]string{"asset": "BTC", "metric": "funding", "interval": "1h"})
	b := Key("/metrics", map[string]string{"interval": "1h", "metric": "funding", "asset": "BTC"})
	assert.Equal(t, a, b)
	assert.Equal(t, "/metrics?asset=BTC&interval=1h&metric=funding", a)

	assert.Equal(t, "/metrics", Key("/metrics", nil))
}

func TestDo_HitSkipsProducer(t *testing.T) {
	s := newTestService()
	var calls int32

	producer := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	v, err := s.Do(context.Background(), "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = s.Do(context.Background(), "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDo_TTLExpiryTriggersSingleRefetch(t *testing.T) {
	s := newTestService()

	// Deterministic clock: the service's notion of "now" is under our control.
	current := time.Unix(1_700_000_000, 0)
	var clockMu sync.Mutex
	s.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		current = current.Add(d)
		clockMu.Unlock()
	}

	var calls int32
	producer := func(ctx context.Context) (interface{}, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	const ttl = 10 * time.Second

	v, err := s.Do(context.Background(), "k", ttl, producer)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	// Any read before t0+ttl is served from cache.
	advance(ttl - time.Nanosecond)
	v, err = s.Do(context.Background(), "k", ttl, producer)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	// The first read at exactly t0+ttl refetches.
	advance(time.Nanosecond)
	v, err = s.Do(context.Background(), "k", ttl, producer)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_SingleflightCoalescing(t *testing.T) {
	s := newTestService()

	var calls int32
	release := make(chan struct{})
	producer := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	const n = 25
	var wg sync.WaitGroup
	results := make([]interface{}, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Do(context.Background(), "k", time.Minute, producer)
		}(i)
	}

	// Let every goroutine reach the cache before the producer completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "exactly one producer call")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestDo_FailurePropagatesToAllWaitersWithoutNegativeCaching(t *testing.T) {
	s := newTestService()

	var calls int32
	release := make(chan struct{})
	boom := errors.New("upstream down")
	producer := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil, boom
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Do(context.Background(), "k", time.Minute, producer)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		assert.ErrorIs(t, errs[i], boom)
	}

	// No negative caching: the next caller invokes the producer again.
	_, err := s.Do(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestDo_WaiterCancellation(t *testing.T) {
	s := newTestService()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		s.Do(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return "late", nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Do(ctx, "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		t.Fatal("waiter must not start its own fetch")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestSweep_EvictsOldEntriesAndStops(t *testing.T) {
	s := NewService(30*time.Millisecond, 10*time.Millisecond, nil)
	s.Start()
	defer s.Stop()

	_, err := s.Do(context.Background(), "k", time.Hour, func(ctx context.Context) (interface{}, error) {
		return 1, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	assert.Eventually(t, func() bool {
		return s.Len() == 0
	}, time.Second, 5*time.Millisecond, "sweep should evict the aged entry")
}
