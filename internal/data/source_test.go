package data

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/derivwatch/internal/data/cache"
	"github.com/sawpanic/derivwatch/internal/net/client"
)

func TestParseSeries(t *testing.T) {
	body := []byte(`[
		{"timestamp": 1700000000000, "value": 0.0001},
		{"timestamp": 1700003600000, "value": 0.0002}
	]`)

	series, err := parseSeries(body)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), series[0].Timestamp)
	assert.Equal(t, 0.0001, series[0].Value)
	assert.Equal(t, 0.0002, series[1].Value)
}

func TestParseSeries_SortsOutOfOrderPoints(t *testing.T) {
	body := []byte(`[
		{"timestamp": 1700003600000, "value": 2},
		{"timestamp": 1700000000000, "value": 1}
	]`)

	series, err := parseSeries(body)
	require.NoError(t, err)
	assert.Equal(t, 1.0, series[0].Value)
	assert.Equal(t, 2.0, series[1].Value)
}

func TestParseSeries_RejectsDuplicateTimestamps(t *testing.T) {
	body := []byte(`[
		{"timestamp": 1700000000000, "value": 1},
		{"timestamp": 1700000000000, "value": 2}
	]`)

	_, err := parseSeries(body)
	assert.Error(t, err)
}

func TestParseSeries_MalformedPayload(t *testing.T) {
	_, err := parseSeries([]byte(`{"not":"an array"}`))
	assert.Error(t, err)
}

func TestHTTPSource_FetchCachesByRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "BTC", r.URL.Query().Get("asset"))
		assert.Equal(t, "funding", r.URL.Query().Get("metric"))
		w.Write([]byte(`[{"timestamp": 1700000000000, "value": 0.0001}]`))
	}))
	defer srv.Close()

	cfg := client.DefaultConfig()
	cfg.RPS = 0
	c := client.New(cfg, nil)
	cs := cache.NewService(time.Hour, time.Hour, nil)

	src := NewHTTPSource(srv.URL, c, cs, time.Minute)
	req := MetricRequest{Asset: "BTC", Metric: "funding", Interval: time.Hour, Lookback: 240}

	first, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Second fetch served from cache.
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestMetricSeries_TruncateAfter(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s := MetricSeries{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(time.Hour), Value: 2},
		{Timestamp: base.Add(2 * time.Hour), Value: 3},
	}

	cut := s.TruncateAfter(base.Add(time.Hour))
	require.Len(t, cut, 2)
	assert.Equal(t, 2.0, cut[1].Value)

	assert.Empty(t, s.TruncateAfter(base.Add(-time.Minute)))
	assert.Len(t, s.TruncateAfter(base.Add(3*time.Hour)), 3)
}
