// Package cache implements the request-coalescing micro-cache: a short-TTL
// in-process cache where at most one upstream fetch is ever in flight per
// key. Concurrent callers for the same key await the leader's result instead
// of issuing duplicate fetches.
package cache

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivwatch/internal/metrics"
)

// Producer computes the value for a key on a cache miss.
type Producer func(ctx context.Context) (interface{}, error)

type entry struct {
	value     interface{}
	createdAt time.Time
}

// call is one in-flight fetch. Waiters block on done; val and err are set
// before done is closed.
type call struct {
	done chan struct{}
	val  interface{}
	err  error
}

// Service owns the key→entry and key→in-flight maps. All mutation goes
// through the singleflight protocol; no other component touches the maps.
// Producers run outside the lock, so the sweep never blocks an in-flight
// fetch.
type Service struct {
	mu       sync.Mutex
	entries  map[string]*entry
	inflight map[string]*call

	maxAge     time.Duration
	sweepEvery time.Duration
	stopCh     chan struct{}
	stopped    chan struct{}

	metrics *metrics.Registry
	now     func() time.Time
}

// NewService creates a cache service. maxAge bounds how long any entry may
// live regardless of per-call TTLs; sweepEvery is the background eviction
// interval. The sweep does not run until Start is called. reg may be nil.
func NewService(maxAge, sweepEvery time.Duration, reg *metrics.Registry) *Service {
	return &Service{
		entries:    make(map[string]*entry),
		inflight:   make(map[string]*call),
		maxAge:     maxAge,
		sweepEvery: sweepEvery,
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
		metrics:    reg,
		now:        time.Now,
	}
}

// Start launches the periodic eviction sweep.
func (s *Service) Start() {
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		log.Info().Dur("interval", s.sweepEvery).Msg("Cache sweep started")
		for {
			select {
			case <-s.stopCh:
				log.Info().Msg("Cache sweep stopped")
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop terminates the sweep goroutine and waits for it to exit.
func (s *Service) Stop() {
	close(s.stopCh)
	<-s.stopped
}

// Key derives a deterministic cache key from a request path and its query
// parameters. Parameter order never causes a cache miss.
func Key(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Do returns the cached value for key when it is younger than ttl, otherwise
// coalesces concurrent callers onto a single producer invocation. A producer
// failure is propagated to every waiter and nothing is cached, so the next
// caller retries from scratch.
func (s *Service) Do(ctx context.Context, key string, ttl time.Duration, producer Producer) (interface{}, error) {
	s.mu.Lock()

	if e, ok := s.entries[key]; ok {
		age := s.now().Sub(e.createdAt)
		if age < ttl && (s.maxAge <= 0 || age < s.maxAge) {
			s.mu.Unlock()
			s.metrics.RecordCacheHit()
			return e.value, nil
		}
		delete(s.entries, key)
		s.metrics.RecordCacheEviction(1)
	}

	if c, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		s.metrics.RecordSingleflightWait()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			// The leader keeps running; this waiter just stops waiting.
			return nil, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	s.inflight[key] = c
	s.mu.Unlock()

	s.metrics.RecordCacheMiss()
	c.val, c.err = producer(ctx)

	s.mu.Lock()
	if c.err == nil {
		s.entries[key] = &entry{value: c.val, createdAt: s.now()}
	}
	delete(s.inflight, key)
	s.mu.Unlock()

	close(c.done)
	return c.val, c.err
}

// Invalidate drops a single key.
func (s *Service) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len reports the number of live entries, expired or not.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweep removes entries older than maxAge.
func (s *Service) sweep() {
	if s.maxAge <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for key, e := range s.entries {
		if e.createdAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.metrics.RecordCacheEviction(removed)
		log.Debug().Int("removed", removed).Int("remaining", len(s.entries)).Msg("Cache sweep evicted entries")
	}
}
