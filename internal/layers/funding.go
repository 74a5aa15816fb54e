package layers

import (
	"math"

	"github.com/sawpanic/derivwatch/internal/signal"
)

// NormalizeFundingBps converts a raw per-interval funding rate into basis
// points per 8h: rate × 8/intervalHours × 10,000. A non-positive interval is
// treated as an already 8h-quoted rate.
func NormalizeFundingBps(rate, intervalHours float64) float64 {
	if intervalHours < epsilon {
		intervalHours = 8
	}
	return rate * 8 / intervalHours * 10000
}

// EvaluateFunding grades the current funding rate magnitude against the
// calibrated bps-per-8h thresholds.
func EvaluateFunding(rateNow float64, cfg LayerConfig) signal.EvaluationResult {
	nowBps := math.Abs(NormalizeFundingBps(rateNow, cfg.FundingIntervalHours))

	diags := map[string]float64{
		"rate":       rateNow,
		"now_bps":    nowBps,
		"watch_bps":  cfg.FundingWatchBps,
		"action_bps": cfg.FundingActionBps,
	}

	level := signal.LevelNone
	switch {
	case nowBps >= cfg.FundingActionBps:
		level = signal.LevelAction
	case nowBps >= cfg.FundingWatchBps:
		level = signal.LevelWatch
	}

	return signal.EvaluationResult{Level: level, Diagnostics: diags}
}
