package layers

import (
	"math"

	"github.com/sawpanic/derivwatch/internal/signal"
)

// RateOfChange computes (now-prev)/prev with guards: a zero or NaN previous
// value yields 0.0 rather than an error or infinity.
func RateOfChange(prev, now float64) float64 {
	if math.IsNaN(prev) || math.IsNaN(now) || math.Abs(prev) < epsilon {
		return 0.0
	}
	return (now - prev) / prev
}

// EvaluateOpenInterest grades the open-interest rate-of-change, gated by a
// same-direction price move: an OI build-up only signals when price confirms
// it. A series shorter than two points yields none with an insufficient-data
// diagnostic.
func EvaluateOpenInterest(oiSeries []float64, priceChangePct float64, cfg LayerConfig) signal.EvaluationResult {
	if len(oiSeries) < 2 {
		return signal.InsufficientData(1)
	}

	prev := oiSeries[len(oiSeries)-2]
	now := oiSeries[len(oiSeries)-1]
	roc := RateOfChange(prev, now)

	sameDirection := roc*priceChangePct > 0

	diags := map[string]float64{
		"roc":          roc,
		"prev":         prev,
		"now":          now,
		"price_change": priceChangePct,
		"same_dir":     boolToFloat(sameDirection),
		"watch_roc":    cfg.OIWatchROC,
		"action_roc":   cfg.OIActionROC,
	}

	level := signal.LevelNone
	switch {
	case sameDirection && math.Abs(roc) >= cfg.OIActionROC:
		level = signal.LevelAction
	case sameDirection && math.Abs(roc) >= cfg.OIWatchROC:
		level = signal.LevelWatch
	}

	return signal.EvaluationResult{Level: level, Diagnostics: diags}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
