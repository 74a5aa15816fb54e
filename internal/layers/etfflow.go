package layers

import (
	"math"

	"github.com/sawpanic/derivwatch/internal/signal"
	"github.com/sawpanic/derivwatch/internal/stats"
)

// EvaluateETFFlow grades the absolute USD flow against a short moving
// average of recent flow magnitudes (1.5x for watch, 3x for action) and the
// calibrated p95 of the longer window. With no flow history the moving
// average is undefined and only the percentile rule can fire.
func EvaluateETFFlow(flowHistory []float64, flowNowUSD float64, cfg LayerConfig) signal.EvaluationResult {
	absNow := math.Abs(flowNowUSD)

	maWindow := cfg.ETFMAWindow
	if maWindow <= 0 {
		maWindow = 7
	}
	window := flowHistory
	if len(window) > maWindow {
		window = window[len(window)-maWindow:]
	}
	absWindow := make([]float64, len(window))
	for i, v := range window {
		absWindow[i] = math.Abs(v)
	}
	ma := stats.Mean(absWindow)
	maAvailable := !math.IsNaN(ma) && ma > epsilon

	diags := map[string]float64{
		"now_usd":         absNow,
		"ma":              ma,
		"ma_available":    boolToFloat(maAvailable),
		"watch_multiple":  cfg.ETFWatchMultiple,
		"action_multiple": cfg.ETFActionMultiple,
		"action_p95_usd":  cfg.ETFActionP95USD,
	}
	if !maAvailable {
		diags["ma"] = 0
		diags["insufficient_data"] = 1
	}

	level := signal.LevelNone
	switch {
	case (maAvailable && absNow >= cfg.ETFActionMultiple*ma) ||
		(cfg.ETFActionP95USD > 0 && absNow >= cfg.ETFActionP95USD):
		level = signal.LevelAction
	case maAvailable && absNow >= cfg.ETFWatchMultiple*ma:
		level = signal.LevelWatch
	}

	return signal.EvaluationResult{Level: level, Diagnostics: diags}
}
