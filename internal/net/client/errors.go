package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// NetworkError is a connection or timeout failure that survived the retry
// budget. Transient failures are retried internally and never surface on
// their own.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempts for %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError is an HTTP 429 that survived the retry budget. RetryAfter
// carries the upstream hint when one was provided.
type RateLimitError struct {
	URL        string
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited after %d attempts for %s (retry after %v)", e.Attempts, e.URL, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited after %d attempts for %s", e.Attempts, e.URL)
}

// UpstreamError is a non-429 HTTP error: 4xx fail immediately, 5xx after the
// retry budget is exhausted. Message holds whatever human-readable detail
// could be extracted from the response body.
type UpstreamError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error HTTP %d for %s: %s", e.StatusCode, e.URL, e.Message)
}

// Retryable reports whether the status would have been retried. 4xx other
// than 429 are structural failures.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode >= 500
}

const maxRawMessageLen = 200

// extractMessage pulls a human-readable error out of common upstream JSON
// shapes, falling back to the truncated raw body.
func extractMessage(body []byte) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, key := range []string{"message", "error", "detail", "msg", "description"} {
			if v, ok := fields[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
	}

	raw := string(body)
	if len(raw) > maxRawMessageLen {
		raw = raw[:maxRawMessageLen]
	}
	return raw
}
