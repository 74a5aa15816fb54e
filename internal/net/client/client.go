// Package client implements the resilient HTTP fetch layer: bounded retries
// with exponential backoff and jitter, Retry-After-aware 429 handling,
// fail-fast on structural 4xx errors, and optional per-host rate limiting
// plus circuit breaking.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/derivwatch/internal/metrics"
	"github.com/sawpanic/derivwatch/internal/net/ratelimit"
)

// Config controls retry, timeout, rate limit, and circuit breaker behavior.
type Config struct {
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	JitterMax      time.Duration `yaml:"jitter_max"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RPS <= 0 disables rate limiting.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`

	BreakerEnabled     bool          `yaml:"breaker_enabled"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`

	UserAgent string `yaml:"user_agent"`
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		BackoffBase:        250 * time.Millisecond,
		BackoffMax:         30 * time.Second,
		JitterMax:          200 * time.Millisecond,
		RequestTimeout:     30 * time.Second,
		ConnectTimeout:     10 * time.Second,
		RPS:                4,
		Burst:              8,
		BreakerEnabled:     false,
		BreakerMaxFailures: 10,
		BreakerOpenTimeout: 60 * time.Second,
		UserAgent:          "derivwatch/1.0",
	}
}

// Response is the raw result of a successful fetch. Semantic validation of
// the body is the caller's concern.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is a resilient HTTP GET client. All state is scoped to the instance;
// there are no package-level sessions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Registry
	rng        *rand.Rand
}

// New creates a client from cfg. reg may be nil to skip instrumentation.
func New(cfg Config, reg *metrics.Registry) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: cfg.ConnectTimeout,
			},
		},
		metrics: reg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = ratelimit.NewLimiter(cfg.RPS, burst)
	}

	if cfg.BreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "derivwatch-fetch",
			Timeout: cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
			},
		})
	}

	return c
}

// Get performs a GET against rawURL with the given query parameters using
// the configured retry budget.
func (c *Client) Get(ctx context.Context, rawURL string, params map[string]string) (*Response, error) {
	return c.GetWithRetries(ctx, rawURL, params, c.cfg.MaxRetries)
}

// GetWithRetries performs a GET with an explicit retry budget: up to
// maxRetries+1 attempts. Network errors and HTTP 5xx/429 are retried with
// exponential backoff (Retry-After overrides the backoff for 429); any other
// 4xx fails immediately.
func (c *Client) GetWithRetries(ctx context.Context, rawURL string, params map[string]string, maxRetries int) (*Response, error) {
	fullURL, host, err := buildURL(rawURL, params)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch URL %q: %w", rawURL, err)
	}

	requestID := uuid.NewString()
	started := time.Now()

	var (
		lastNetErr     error
		lastUpstream   *UpstreamError
		lastRetryAfter time.Duration
		rateLimited    bool
	)

	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			if lastRetryAfter > 0 {
				// Upstream told us exactly how long to wait.
				wait = lastRetryAfter
				lastRetryAfter = 0
			}
			log.Debug().
				Str("request_id", requestID).
				Str("url", rawURL).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Retrying fetch")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				c.metrics.ObserveFetch("cancelled", attempts, time.Since(started))
				return nil, &NetworkError{URL: rawURL, Attempts: attempts, Err: ctx.Err()}
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, host); err != nil {
				c.metrics.ObserveFetch("cancelled", attempts, time.Since(started))
				return nil, &NetworkError{URL: rawURL, Attempts: attempts, Err: err}
			}
		}

		attempts++
		resp, err := c.doAttempt(ctx, fullURL, requestID)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				log.Warn().
					Str("request_id", requestID).
					Str("url", rawURL).
					Msg("Fetch rejected: circuit breaker open")
			} else {
				log.Warn().
					Str("request_id", requestID).
					Str("url", rawURL).
					Int("attempt", attempt).
					Err(err).
					Msg("Fetch attempt failed")
			}
			lastNetErr = err
			rateLimited = false
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			log.Debug().
				Str("request_id", requestID).
				Str("url", rawURL).
				Int("status", resp.StatusCode).
				Int("attempts", attempts).
				Msg("Fetch succeeded")
			c.metrics.ObserveFetch("success", attempts, time.Since(started))
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			rateLimited = true
			lastNetErr = nil
			lastRetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			log.Warn().
				Str("request_id", requestID).
				Str("url", rawURL).
				Dur("retry_after", lastRetryAfter).
				Msg("Fetch rate limited")

		case resp.StatusCode >= 500:
			rateLimited = false
			lastNetErr = nil
			lastUpstream = &UpstreamError{
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				Message:    extractMessage(resp.Body),
			}
			log.Warn().
				Str("request_id", requestID).
				Str("url", rawURL).
				Int("status", resp.StatusCode).
				Msg("Fetch upstream error")

		default:
			// Structural 4xx: fail fast, no retry.
			upstream := &UpstreamError{
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				Message:    extractMessage(resp.Body),
			}
			log.Warn().
				Str("request_id", requestID).
				Str("url", rawURL).
				Int("status", resp.StatusCode).
				Str("message", upstream.Message).
				Msg("Fetch failed with non-retryable status")
			c.metrics.ObserveFetch("client_error", attempts, time.Since(started))
			return nil, upstream
		}
	}

	elapsed := time.Since(started)
	switch {
	case rateLimited:
		c.metrics.ObserveFetch("rate_limited", attempts, elapsed)
		return nil, &RateLimitError{URL: rawURL, Attempts: attempts, RetryAfter: lastRetryAfter}
	case lastUpstream != nil:
		c.metrics.ObserveFetch("upstream_error", attempts, elapsed)
		return nil, lastUpstream
	default:
		c.metrics.ObserveFetch("network_error", attempts, elapsed)
		return nil, &NetworkError{URL: rawURL, Attempts: attempts, Err: lastNetErr}
	}
}

// doAttempt performs a single HTTP round trip with the per-attempt timeout,
// routed through the circuit breaker when one is configured.
func (c *Client) doAttempt(ctx context.Context, fullURL, requestID string) (*Response, error) {
	attemptCtx := ctx
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	run := func() (*Response, error) {
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}
		req.Header.Set("X-Request-ID", requestID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	if c.breaker == nil {
		return run()
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := run()
		if err != nil {
			return nil, err
		}
		// 5xx responses count against the breaker but are returned to the
		// retry loop for normal classification.
		if resp.StatusCode >= 500 {
			return resp, &breakerStatusError{status: resp.StatusCode}
		}
		return resp, nil
	})

	var statusErr *breakerStatusError
	if errors.As(err, &statusErr) {
		return result.(*Response), nil
	}
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

type breakerStatusError struct{ status int }

func (e *breakerStatusError) Error() string {
	return fmt.Sprintf("upstream HTTP %d", e.status)
}

// backoff computes base*2^(attempt-1) capped at BackoffMax, plus uniform
// jitter in [0, JitterMax).
func (c *Client) backoff(attempt int) time.Duration {
	base := c.cfg.BackoffBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	wait := base << uint(attempt-1)
	if c.cfg.BackoffMax > 0 && wait > c.cfg.BackoffMax {
		wait = c.cfg.BackoffMax
	}

	if c.cfg.JitterMax > 0 {
		wait += time.Duration(c.rng.Int63n(int64(c.cfg.JitterMax)))
	}
	return wait
}

// buildURL merges params into rawURL's query string. url.Values.Encode sorts
// keys, so equivalent requests always produce the same URL.
func buildURL(rawURL string, params map[string]string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), u.Host, nil
}

// parseRetryAfter accepts the delta-seconds form of the Retry-After header.
// HTTP-date values and garbage yield zero, falling back to normal backoff.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
