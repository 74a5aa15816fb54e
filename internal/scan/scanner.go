// Package scan orchestrates one evaluation cycle per asset: fetch every
// metric series, pin them to a consistent logical timestamp, calibrate the
// per-asset thresholds from trailing history, run the six layer evaluators,
// and aggregate the levels through the confluence policy.
package scan

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivwatch/internal/data"
	"github.com/sawpanic/derivwatch/internal/layers"
	"github.com/sawpanic/derivwatch/internal/metrics"
	"github.com/sawpanic/derivwatch/internal/signal"
)

// Histories holds every metric series for one asset, already pinned to a
// single logical timestamp.
type Histories struct {
	Asset     string
	Timestamp time.Time

	Bias         data.MetricSeries
	Funding      data.MetricSeries
	OpenInterest data.MetricSeries
	Price        data.MetricSeries
	TakerRatio   data.MetricSeries
	Liquidation  data.MetricSeries
	LiqNet       data.MetricSeries // long minus short liquidation USD
	ETFFlow      data.MetricSeries
}

// Scanner runs evaluation cycles against one upstream source.
type Scanner struct {
	source      data.Source
	calibration layers.CalibrationSettings
	confluence  signal.ConfluenceConfig
	interval    time.Duration
	lookback    int
	metrics     *metrics.Registry
}

// New builds a scanner. reg may be nil to disable instrumentation.
func New(source data.Source, cal layers.CalibrationSettings, conf signal.ConfluenceConfig,
	interval time.Duration, lookback int, reg *metrics.Registry) *Scanner {
	return &Scanner{
		source:      source,
		calibration: cal,
		confluence:  conf,
		interval:    interval,
		lookback:    lookback,
		metrics:     reg,
	}
}

// Scan evaluates every asset and returns the per-asset confluence results.
// A failed asset is logged and skipped; one bad upstream never poisons the
// rest of the cycle.
func (s *Scanner) Scan(ctx context.Context, assets []string) []signal.ConfluenceResult {
	started := time.Now()
	results := make([]signal.ConfluenceResult, 0, len(assets))

	for _, asset := range assets {
		res, err := s.ScanAsset(ctx, asset)
		if err != nil {
			log.Warn().Err(err).Str("asset", asset).Msg("Asset scan failed, skipping")
			continue
		}
		results = append(results, res)
	}

	s.metrics.ObserveScan(time.Since(started))
	log.Info().
		Int("assets", len(assets)).
		Int("evaluated", len(results)).
		Dur("elapsed", time.Since(started)).
		Msg("Scan cycle complete")
	return results
}

// ScanAsset fetches, calibrates, and evaluates a single asset.
func (s *Scanner) ScanAsset(ctx context.Context, asset string) (signal.ConfluenceResult, error) {
	h, err := s.fetchHistories(ctx, asset)
	if err != nil {
		return signal.ConfluenceResult{}, err
	}

	layerCfg, err := layers.Calibrate(calibrationHistory(h), s.calibration, h.Timestamp)
	if err != nil {
		return signal.ConfluenceResult{}, err
	}

	res := EvaluateAsset(h, layerCfg, s.confluence)
	for layer, lvl := range res.Layers {
		s.metrics.RecordLayerLevel(string(layer), lvl.String())
	}
	return res, nil
}

// fetchHistories pulls every metric series for the asset and truncates them
// all to the minimum of their last timestamps, so one slow upstream never
// mixes bars from different cycles into a single evaluation.
func (s *Scanner) fetchHistories(ctx context.Context, asset string) (Histories, error) {
	h := Histories{Asset: asset}

	fetch := func(metric string, dst *data.MetricSeries) error {
		series, err := s.source.Fetch(ctx, data.MetricRequest{
			Asset:    asset,
			Metric:   metric,
			Interval: s.interval,
			Lookback: s.lookback,
		})
		if err != nil {
			return err
		}
		*dst = series
		return nil
	}

	targets := []struct {
		metric string
		dst    *data.MetricSeries
	}{
		{data.MetricBias, &h.Bias},
		{data.MetricFunding, &h.Funding},
		{data.MetricOpenInterest, &h.OpenInterest},
		{data.MetricPrice, &h.Price},
		{data.MetricTakerRatio, &h.TakerRatio},
		{data.MetricLiquidation, &h.Liquidation},
		{data.MetricLiqNet, &h.LiqNet},
		{data.MetricETFFlow, &h.ETFFlow},
	}
	for _, t := range targets {
		if err := fetch(t.metric, t.dst); err != nil {
			return Histories{}, err
		}
	}

	h.pinTimestamp()
	return h, nil
}

// pinTimestamp truncates every non-empty series to the oldest of their last
// timestamps and records it as the snapshot's logical timestamp.
func (h *Histories) pinTimestamp() {
	var pin time.Time
	for _, s := range h.all() {
		last := s.LastTimestamp()
		if last.IsZero() {
			continue
		}
		if pin.IsZero() || last.Before(pin) {
			pin = last
		}
	}
	h.Timestamp = pin
	if pin.IsZero() {
		return
	}

	h.Bias = h.Bias.TruncateAfter(pin)
	h.Funding = h.Funding.TruncateAfter(pin)
	h.OpenInterest = h.OpenInterest.TruncateAfter(pin)
	h.Price = h.Price.TruncateAfter(pin)
	h.TakerRatio = h.TakerRatio.TruncateAfter(pin)
	h.Liquidation = h.Liquidation.TruncateAfter(pin)
	h.LiqNet = h.LiqNet.TruncateAfter(pin)
	h.ETFFlow = h.ETFFlow.TruncateAfter(pin)
}

func (h *Histories) all() []data.MetricSeries {
	return []data.MetricSeries{
		h.Bias, h.Funding, h.OpenInterest, h.Price,
		h.TakerRatio, h.Liquidation, h.LiqNet, h.ETFFlow,
	}
}

// calibrationHistory excludes each series' current bar, so thresholds are
// derived from history and never from the observation being graded.
func calibrationHistory(h Histories) layers.AssetHistory {
	return layers.AssetHistory{
		Asset:           h.Asset,
		BiasScores:      dropLast(h.Bias.Values()),
		FundingRates:    dropLast(h.Funding.Values()),
		OpenInterest:    dropLast(h.OpenInterest.Values()),
		TakerRatios:     dropLast(h.TakerRatio.Values()),
		LiquidationsUSD: dropLast(h.Liquidation.Values()),
		ETFFlowsUSD:     dropLast(h.ETFFlow.Values()),
	}
}

func dropLast(v []float64) []float64 {
	if len(v) == 0 {
		return v
	}
	return v[:len(v)-1]
}

// EvaluateAsset runs all six layer evaluators against the pinned snapshot
// and aggregates their levels through the confluence policy.
func EvaluateAsset(h Histories, layerCfg layers.LayerConfig, conf signal.ConfluenceConfig) signal.ConfluenceResult {
	diags := make(map[signal.Layer]signal.EvaluationResult, 6)

	biasValues := h.Bias.Values()
	if last, ok := h.Bias.Last(); ok {
		diags[signal.LayerBias] = layers.EvaluateBias(dropLast(biasValues), last.Value, layerCfg)
	} else {
		diags[signal.LayerBias] = signal.InsufficientData(1)
	}

	if last, ok := h.Funding.Last(); ok {
		diags[signal.LayerFunding] = layers.EvaluateFunding(last.Value, layerCfg)
	} else {
		diags[signal.LayerFunding] = signal.InsufficientData(1)
	}

	diags[signal.LayerOpenInterest] = layers.EvaluateOpenInterest(
		h.OpenInterest.Values(), priceChangePct(h.Price), layerCfg)

	if last, ok := h.TakerRatio.Last(); ok {
		diags[signal.LayerTakerRatio] = layers.EvaluateTakerRatio(last.Value, layerCfg)
	} else {
		diags[signal.LayerTakerRatio] = signal.InsufficientData(1)
	}

	if last, ok := h.Liquidation.Last(); ok {
		diags[signal.LayerLiquidation] = layers.EvaluateLiquidation(last.Value, layerCfg)
	} else {
		diags[signal.LayerLiquidation] = signal.InsufficientData(1)
	}

	etfValues := h.ETFFlow.Values()
	if last, ok := h.ETFFlow.Last(); ok {
		diags[signal.LayerETFFlow] = layers.EvaluateETFFlow(dropLast(etfValues), last.Value, layerCfg)
	} else {
		diags[signal.LayerETFFlow] = signal.InsufficientData(1)
	}

	levels := make(map[signal.Layer]signal.Level, len(diags))
	for layer, d := range diags {
		levels[layer] = d.Level
	}

	conflict := liqDirectionConflict(h, levels[signal.LayerLiquidation])
	overall, actionCount, watchCount, dampened := signal.Aggregate(levels, conf, conflict)

	log.Debug().
		Str("asset", h.Asset).
		Str("level", overall.String()).
		Int("action_count", actionCount).
		Int("watch_count", watchCount).
		Bool("dampened", dampened).
		Msg("Asset evaluated")

	return signal.ConfluenceResult{
		Asset:       h.Asset,
		Timestamp:   h.Timestamp,
		Level:       overall,
		Layers:      levels,
		Diagnostics: diags,
		ActionCount: actionCount,
		WatchCount:  watchCount,
		Dampened:    dampened,
	}
}

// priceChangePct is the fractional change over the last two price bars,
// zero when fewer than two bars exist.
func priceChangePct(price data.MetricSeries) float64 {
	if len(price) < 2 {
		return 0
	}
	return layers.RateOfChange(price[len(price)-2].Value, price[len(price)-1].Value)
}

// liqDirectionConflict reports a liquidation spike pointing against the move
// the rest of the snapshot describes. Net long liquidations (positive net)
// push price down; seeing them during a rising bar means the spike opposes
// the move, and vice versa. Only a spike at watch or better can dampen.
func liqDirectionConflict(h Histories, liqLevel signal.Level) bool {
	if liqLevel < signal.LevelWatch {
		return false
	}
	net, ok := h.LiqNet.Last()
	if !ok || net.Value == 0 {
		return false
	}
	change := priceChangePct(h.Price)
	if change == 0 {
		return false
	}
	return (net.Value > 0) == (change > 0)
}
