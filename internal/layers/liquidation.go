package layers

import (
	"github.com/sawpanic/derivwatch/internal/signal"
)

// EvaluateLiquidation grades the coin-aggregated long+short USD liquidation
// sum against the calibrated p95/p99 thresholds.
func EvaluateLiquidation(liqNowUSD float64, cfg LayerConfig) signal.EvaluationResult {
	diags := map[string]float64{
		"now_usd":    liqNowUSD,
		"watch_usd":  cfg.LiqWatchUSD,
		"action_usd": cfg.LiqActionUSD,
	}

	level := signal.LevelNone
	switch {
	case liqNowUSD >= cfg.LiqActionUSD:
		level = signal.LevelAction
	case liqNowUSD >= cfg.LiqWatchUSD:
		level = signal.LevelWatch
	}

	return signal.EvaluationResult{Level: level, Diagnostics: diags}
}
