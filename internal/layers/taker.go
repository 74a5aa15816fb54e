package layers

import (
	"github.com/sawpanic/derivwatch/internal/signal"
)

// EvaluateTakerRatio grades the buy/sell USD volume ratio against both
// tails: sustained aggressor buying pushes the ratio above the high
// thresholds, sustained selling below the low ones.
func EvaluateTakerRatio(ratioNow float64, cfg LayerConfig) signal.EvaluationResult {
	diags := map[string]float64{
		"ratio":     ratioNow,
		"watch_hi":  cfg.TakerWatchHi,
		"action_hi": cfg.TakerActionHi,
		"watch_lo":  cfg.TakerWatchLo,
		"action_lo": cfg.TakerActionLo,
	}

	level := signal.LevelNone
	switch {
	case ratioNow >= cfg.TakerActionHi || ratioNow <= cfg.TakerActionLo:
		level = signal.LevelAction
	case ratioNow >= cfg.TakerWatchHi || ratioNow <= cfg.TakerWatchLo:
		level = signal.LevelWatch
	}

	return signal.EvaluationResult{Level: level, Diagnostics: diags}
}
