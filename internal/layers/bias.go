package layers

import (
	"math"

	"github.com/sawpanic/derivwatch/internal/signal"
	"github.com/sawpanic/derivwatch/internal/stats"
)

// EvaluateBias grades the composite bias score of an asset against its own
// history: either the z-score of the current score versus the historical
// mean/stdev, or the absolute score, whichever trips a threshold first.
func EvaluateBias(history []float64, score float64, cfg LayerConfig) signal.EvaluationResult {
	window := history
	if cfg.LookbackWindow > 0 && len(history) > cfg.LookbackWindow {
		window = history[len(history)-cfg.LookbackWindow:]
	}

	mean := stats.Mean(window)
	std := stats.StdDev(window)

	z := 0.0
	zAvailable := 0.0
	if !math.IsNaN(mean) && !math.IsNaN(std) && std > epsilon && len(window) >= cfg.MinPeriods {
		z = (score - mean) / std
		zAvailable = 1.0
	}

	diags := map[string]float64{
		"score":        score,
		"z":            z,
		"z_available":  zAvailable,
		"watch_z":      cfg.BiasWatchZ,
		"action_z":     cfg.BiasActionZ,
		"watch_abs":    cfg.BiasWatchAbs,
		"action_abs":   cfg.BiasActionAbs,
		"sample_count": float64(len(window)),
	}

	level := signal.LevelNone
	switch {
	case (zAvailable == 1 && math.Abs(z) >= cfg.BiasActionZ) || math.Abs(score) >= cfg.BiasActionAbs:
		level = signal.LevelAction
	case (zAvailable == 1 && math.Abs(z) >= cfg.BiasWatchZ) || math.Abs(score) >= cfg.BiasWatchAbs:
		level = signal.LevelWatch
	}

	return signal.EvaluationResult{Level: level, Diagnostics: diags}
}
