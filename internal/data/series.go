// Package data defines the market-metric data model shared by the fetch
// layer and the evaluators: ordered {timestamp, value} series and the
// uniform source contract all upstream providers are consumed through.
package data

import (
	"fmt"
	"time"
)

// MetricPoint is a single observation of one metric for one asset.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is an ordered sequence of observations, insertion order equal
// to time order, no duplicate timestamps. Treated as immutable once captured
// for an evaluation cycle.
type MetricSeries []MetricPoint

// Values extracts the raw observation values in time order.
func (s MetricSeries) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Last returns the most recent observation, or false for an empty series.
func (s MetricSeries) Last() (MetricPoint, bool) {
	if len(s) == 0 {
		return MetricPoint{}, false
	}
	return s[len(s)-1], true
}

// LastTimestamp returns the timestamp of the most recent observation, zero
// for an empty series.
func (s MetricSeries) LastTimestamp() time.Time {
	if p, ok := s.Last(); ok {
		return p.Timestamp
	}
	return time.Time{}
}

// TruncateAfter returns the prefix of the series at or before t. Used to
// pin every metric of an asset to one consistent logical timestamp.
func (s MetricSeries) TruncateAfter(t time.Time) MetricSeries {
	cut := len(s)
	for cut > 0 && s[cut-1].Timestamp.After(t) {
		cut--
	}
	return s[:cut]
}

// Validate checks ordering and timestamp uniqueness.
func (s MetricSeries) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("series not strictly ordered at index %d (%s then %s)",
				i, s[i-1].Timestamp.Format(time.RFC3339), s[i].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Metric names understood by upstream providers.
const (
	MetricBias         = "bias"
	MetricFunding      = "funding"
	MetricOpenInterest = "open_interest"
	MetricPrice        = "price"
	MetricTakerRatio   = "taker_ratio"
	MetricLiquidation  = "liquidation"
	MetricLiqNet       = "liquidation_net"
	MetricETFFlow      = "etf_flow"
)

// MetricRequest identifies one (asset, metric, interval, lookback) slice of
// history.
type MetricRequest struct {
	Asset    string
	Metric   string
	Interval time.Duration
	Lookback int
}
