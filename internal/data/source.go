package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivwatch/internal/data/cache"
	"github.com/sawpanic/derivwatch/internal/net/client"
)

// Source is the uniform market-metric fetch contract. Every upstream
// provider wrapper is consumed through this interface.
type Source interface {
	Fetch(ctx context.Context, req MetricRequest) (MetricSeries, error)
}

// HTTPSource fetches metric series over HTTP through the resilient client
// and the request-coalescing cache, so concurrent evaluation cycles never
// issue duplicate upstream calls.
type HTTPSource struct {
	baseURL string
	client  *client.Client
	cache   *cache.Service
	ttl     time.Duration
}

// NewHTTPSource wires a metric endpoint to the fetch client and cache.
func NewHTTPSource(baseURL string, c *client.Client, cs *cache.Service, ttl time.Duration) *HTTPSource {
	return &HTTPSource{baseURL: baseURL, client: c, cache: cs, ttl: ttl}
}

type wirePoint struct {
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	Value     float64 `json:"value"`
}

// Fetch returns the series for req, deduplicated and cached by
// (path, sorted params).
func (hs *HTTPSource) Fetch(ctx context.Context, req MetricRequest) (MetricSeries, error) {
	params := map[string]string{
		"asset":    req.Asset,
		"metric":   req.Metric,
		"interval": req.Interval.String(),
		"lookback": strconv.Itoa(req.Lookback),
	}
	key := cache.Key(hs.baseURL+"/metrics", params)

	v, err := hs.cache.Do(ctx, key, hs.ttl, func(ctx context.Context) (interface{}, error) {
		resp, err := hs.client.Get(ctx, hs.baseURL+"/metrics", params)
		if err != nil {
			return nil, err
		}
		series, err := parseSeries(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("parsing %s/%s series: %w", req.Asset, req.Metric, err)
		}
		log.Debug().
			Str("asset", req.Asset).
			Str("metric", req.Metric).
			Int("points", len(series)).
			Msg("Fetched metric series")
		return series, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(MetricSeries), nil
}

// parseSeries decodes the wire format (array of {timestamp, value} with unix
// millisecond timestamps), sorts defensively, and validates ordering.
func parseSeries(body []byte) (MetricSeries, error) {
	var points []wirePoint
	if err := json.Unmarshal(body, &points); err != nil {
		return nil, fmt.Errorf("malformed series payload: %w", err)
	}

	series := make(MetricSeries, 0, len(points))
	for _, p := range points {
		series = append(series, MetricPoint{
			Timestamp: time.UnixMilli(p.Timestamp).UTC(),
			Value:     p.Value,
		})
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}
