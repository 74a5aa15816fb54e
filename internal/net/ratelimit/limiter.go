// Package ratelimit provides per-host token-bucket rate limiting for the
// resilient fetch client so bursts against one data provider never starve
// requests to another.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter maintains one token bucket per upstream host.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter that allows rps sustained requests per second
// with the given burst capacity, per host.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Allow reports whether a request for host may proceed immediately.
func (l *Limiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// Wait blocks until a request for host is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// Hosts returns the hosts currently tracked, mainly for introspection.
func (l *Limiter) Hosts() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hosts := make([]string, 0, len(l.limiters))
	for host := range l.limiters {
		hosts = append(hosts, host)
	}
	return hosts
}
