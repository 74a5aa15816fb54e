package layers

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivwatch/internal/stats"
)

// CalibrationSettings holds the lookback sizes and conservative absolute
// floors applied to the percentile thresholds, so a low-volatility asset
// never calibrates below sane minimums.
type CalibrationSettings struct {
	Window     int `yaml:"window" json:"window"`
	MinPeriods int `yaml:"min_periods" json:"min_periods"`

	FundingIntervalHours float64 `yaml:"funding_interval_hours" json:"funding_interval_hours"`

	BiasWatchZ         float64 `yaml:"bias_watch_z" json:"bias_watch_z"`
	BiasActionZ        float64 `yaml:"bias_action_z" json:"bias_action_z"`
	BiasWatchFloorAbs  float64 `yaml:"bias_watch_floor_abs" json:"bias_watch_floor_abs"`
	BiasActionFloorAbs float64 `yaml:"bias_action_floor_abs" json:"bias_action_floor_abs"`

	FundingWatchFloorBps  float64 `yaml:"funding_watch_floor_bps" json:"funding_watch_floor_bps"`
	FundingActionFloorBps float64 `yaml:"funding_action_floor_bps" json:"funding_action_floor_bps"`

	OIWatchFloorROC  float64 `yaml:"oi_watch_floor_roc" json:"oi_watch_floor_roc"`
	OIActionFloorROC float64 `yaml:"oi_action_floor_roc" json:"oi_action_floor_roc"`

	TakerWatchHiFloor float64 `yaml:"taker_watch_hi_floor" json:"taker_watch_hi_floor"`
	TakerActionHiFloor float64 `yaml:"taker_action_hi_floor" json:"taker_action_hi_floor"`
	// Low-side bounds are ceilings: the calibrated low threshold never rises
	// above them, mirroring what the floors do for the high side.
	TakerWatchLoCeil  float64 `yaml:"taker_watch_lo_ceil" json:"taker_watch_lo_ceil"`
	TakerActionLoCeil float64 `yaml:"taker_action_lo_ceil" json:"taker_action_lo_ceil"`

	LiqWatchFloorUSD  float64 `yaml:"liq_watch_floor_usd" json:"liq_watch_floor_usd"`
	LiqActionFloorUSD float64 `yaml:"liq_action_floor_usd" json:"liq_action_floor_usd"`

	ETFWatchMultiple  float64 `yaml:"etf_watch_multiple" json:"etf_watch_multiple"`
	ETFActionMultiple float64 `yaml:"etf_action_multiple" json:"etf_action_multiple"`
	ETFMAWindow       int     `yaml:"etf_ma_window" json:"etf_ma_window"`
}

// DefaultCalibrationSettings returns the conservative production floors.
func DefaultCalibrationSettings() CalibrationSettings {
	return CalibrationSettings{
		Window:     2160, // 90 days of hourly bars
		MinPeriods: 48,

		FundingIntervalHours: 1,

		BiasWatchZ:         2.0,
		BiasActionZ:        3.0,
		BiasWatchFloorAbs:  50,
		BiasActionFloorAbs: 70,

		FundingWatchFloorBps:  5,
		FundingActionFloorBps: 10,

		OIWatchFloorROC:  0.025,
		OIActionFloorROC: 0.05,

		TakerWatchHiFloor:  1.2,
		TakerActionHiFloor: 1.4,
		TakerWatchLoCeil:   1 / 1.2,
		TakerActionLoCeil:  1 / 1.4,

		LiqWatchFloorUSD:  1_000_000,
		LiqActionFloorUSD: 5_000_000,

		ETFWatchMultiple:  1.5,
		ETFActionMultiple: 3.0,
		ETFMAWindow:       7,
	}
}

// AssetHistory carries the per-metric historical bars one asset is
// calibrated from. All slices are in time order; missing metrics may be nil.
type AssetHistory struct {
	Asset           string
	BiasScores      []float64
	FundingRates    []float64 // raw per-interval rates
	OpenInterest    []float64
	TakerRatios     []float64
	LiquidationsUSD []float64
	ETFFlowsUSD     []float64
}

// Calibrate computes the per-asset LayerConfig from the asset's own
// historical window: p85/p95/p99 per layer metric, each bounded by the
// configured floor. Identical input bars always yield identical thresholds;
// asOf is only a label on the output.
func Calibrate(h AssetHistory, s CalibrationSettings, asOf time.Time) (LayerConfig, error) {
	if s.Window <= 0 {
		return LayerConfig{}, fmt.Errorf("calibration window must be positive, got %d", s.Window)
	}
	if s.MinPeriods <= 0 {
		return LayerConfig{}, fmt.Errorf("calibration min_periods must be positive, got %d", s.MinPeriods)
	}

	cfg := LayerConfig{
		Asset:       h.Asset,
		GeneratedAt: asOf,

		BiasWatchZ:  s.BiasWatchZ,
		BiasActionZ: s.BiasActionZ,

		FundingIntervalHours: s.FundingIntervalHours,

		ETFWatchMultiple:  s.ETFWatchMultiple,
		ETFActionMultiple: s.ETFActionMultiple,
		ETFMAWindow:       s.ETFMAWindow,

		LookbackWindow: s.Window,
		MinPeriods:     s.MinPeriods,
	}

	// Bias: absolute thresholds from the |score| distribution.
	biasAbs := absTail(window(h.BiasScores, s.Window))
	cfg.BiasWatchAbs = floorMax(stats.Percentile(biasAbs, 0.85), s.BiasWatchFloorAbs)
	cfg.BiasActionAbs = floorMax(stats.Percentile(biasAbs, 0.95), s.BiasActionFloorAbs)

	// Funding: normalized |bps/8h| distribution.
	fundingBps := make([]float64, 0, len(h.FundingRates))
	for _, r := range window(h.FundingRates, s.Window) {
		fundingBps = append(fundingBps, math.Abs(NormalizeFundingBps(r, s.FundingIntervalHours)))
	}
	cfg.FundingWatchBps = floorMax(stats.Percentile(fundingBps, 0.85), s.FundingWatchFloorBps)
	cfg.FundingActionBps = floorMax(stats.Percentile(fundingBps, 0.95), s.FundingActionFloorBps)

	// Open interest: |ROC| distribution over consecutive bars.
	oi := window(h.OpenInterest, s.Window)
	rocs := make([]float64, 0, len(oi))
	for i := 1; i < len(oi); i++ {
		rocs = append(rocs, math.Abs(RateOfChange(oi[i-1], oi[i])))
	}
	cfg.OIWatchROC = floorMax(stats.Percentile(rocs, 0.85), s.OIWatchFloorROC)
	cfg.OIActionROC = floorMax(stats.Percentile(rocs, 0.95), s.OIActionFloorROC)

	// Taker ratio: the high side from the upper tail, the low side computed
	// independently from the series' own low tail rather than mirrored.
	ratios := window(h.TakerRatios, s.Window)
	cfg.TakerWatchHi = floorMax(stats.Percentile(ratios, 0.85), s.TakerWatchHiFloor)
	cfg.TakerActionHi = floorMax(stats.Percentile(ratios, 0.95), s.TakerActionHiFloor)
	cfg.TakerWatchLo = ceilMin(stats.Percentile(ratios, 0.15), s.TakerWatchLoCeil)
	cfg.TakerActionLo = ceilMin(stats.Percentile(ratios, 0.05), s.TakerActionLoCeil)

	// Liquidations: p95/p99 of the aggregated USD sums.
	liqs := window(h.LiquidationsUSD, s.Window)
	cfg.LiqWatchUSD = floorMax(stats.Percentile(liqs, 0.95), s.LiqWatchFloorUSD)
	cfg.LiqActionUSD = floorMax(stats.Percentile(liqs, 0.99), s.LiqActionFloorUSD)

	// ETF flows: p95 of |flow|; zero disables the percentile rule when no
	// history exists.
	etfAbs := absTail(window(h.ETFFlowsUSD, s.Window))
	if p95 := stats.Percentile(etfAbs, 0.95); !math.IsNaN(p95) {
		cfg.ETFActionP95USD = p95
	}

	log.Debug().
		Str("asset", h.Asset).
		Float64("funding_action_bps", cfg.FundingActionBps).
		Float64("oi_action_roc", cfg.OIActionROC).
		Float64("liq_action_usd", cfg.LiqActionUSD).
		Time("as_of", asOf).
		Msg("Calibrated layer thresholds")

	return cfg, nil
}

// window returns the trailing n observations.
func window(series []float64, n int) []float64 {
	if len(series) > n {
		return series[len(series)-n:]
	}
	return series
}

func absTail(series []float64) []float64 {
	out := make([]float64, len(series))
	for i, v := range series {
		out[i] = math.Abs(v)
	}
	return out
}

// floorMax applies a conservative floor: the calibrated threshold is the
// percentile or the floor, whichever is higher. NaN percentiles (no history)
// collapse to the floor.
func floorMax(percentile, floor float64) float64 {
	if math.IsNaN(percentile) {
		return floor
	}
	return math.Max(percentile, floor)
}

// ceilMin is the low-tail mirror of floorMax.
func ceilMin(percentile, ceil float64) float64 {
	if math.IsNaN(percentile) {
		return ceil
	}
	return math.Min(percentile, ceil)
}
