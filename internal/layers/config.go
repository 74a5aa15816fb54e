// Package layers implements the six threshold evaluation layers and the
// adaptive calibrator that produces their per-asset configuration. All
// evaluators are pure: history + current inputs + config in, graded result
// out. They never fetch, never mutate, never block.
package layers

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// epsilon guards every division in the evaluators.
const epsilon = 1e-9

// LayerConfig is the complete, immutable per-asset threshold set. It is
// produced only by Calibrate and consumed read-only by the evaluators; it is
// never hand-edited mid-evaluation. The flat JSON shape is the audit
// snapshot format consumed by external tooling.
type LayerConfig struct {
	Asset       string    `json:"asset"`
	GeneratedAt time.Time `json:"generated_at"`

	// Bias layer: z-score and absolute-score thresholds.
	BiasWatchZ    float64 `json:"bias_watch_z"`
	BiasActionZ   float64 `json:"bias_action_z"`
	BiasWatchAbs  float64 `json:"bias_watch_abs"`
	BiasActionAbs float64 `json:"bias_action_abs"`

	// Funding layer: thresholds in bps per 8h on the normalized magnitude.
	FundingIntervalHours float64 `json:"funding_interval_hours"`
	FundingWatchBps      float64 `json:"funding_watch_bps"`
	FundingActionBps     float64 `json:"funding_action_bps"`

	// Open-interest layer: fractional rate-of-change thresholds.
	OIWatchROC  float64 `json:"oi_watch_roc"`
	OIActionROC float64 `json:"oi_action_roc"`

	// Taker-ratio layer: high and low side thresholds. The low side is
	// calibrated from the ratio series' own low tail, not mirrored from the
	// high side.
	TakerWatchHi  float64 `json:"taker_watch_hi"`
	TakerActionHi float64 `json:"taker_action_hi"`
	TakerWatchLo  float64 `json:"taker_watch_lo"`
	TakerActionLo float64 `json:"taker_action_lo"`

	// Liquidation layer: coin-aggregated USD thresholds.
	LiqWatchUSD  float64 `json:"liq_watch_usd"`
	LiqActionUSD float64 `json:"liq_action_usd"`

	// ETF-flow layer: moving-average multiples plus the calibrated p95 of
	// absolute flow. ETFActionP95USD of zero means no percentile history was
	// available and only the multiple rule applies.
	ETFWatchMultiple  float64 `json:"etf_watch_multiple"`
	ETFActionMultiple float64 `json:"etf_action_multiple"`
	ETFActionP95USD   float64 `json:"etf_action_p95_usd"`
	ETFMAWindow       int     `json:"etf_ma_window"`

	// Lookbacks the config was calibrated with; the bias evaluator reuses
	// them for its rolling mean/stdev.
	LookbackWindow int `json:"lookback_window"`
	MinPeriods     int `json:"min_periods"`
}

// WriteSnapshot persists the config as an indented flat JSON document so
// external tooling can audit and version calibration over time.
func (c LayerConfig) WriteSnapshot(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal layer config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write layer config snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a config previously written by WriteSnapshot.
func LoadSnapshot(path string) (LayerConfig, error) {
	var cfg LayerConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read layer config snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse layer config snapshot: %w", err)
	}
	return cfg, nil
}
