package layers

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticHistory(n int) AssetHistory {
	h := AssetHistory{Asset: "BTC"}
	for i := 0; i < n; i++ {
		h.BiasScores = append(h.BiasScores, float64(i%80)-40)       // |score| up to 40, below floors
		h.FundingRates = append(h.FundingRates, 0.00001*float64(i%5)) // up to 3.2 bps/8h
		h.OpenInterest = append(h.OpenInterest, 1e9+1e6*float64(i%20))
		h.TakerRatios = append(h.TakerRatios, 0.9+0.01*float64(i%21)) // 0.9..1.1
		h.LiquidationsUSD = append(h.LiquidationsUSD, 100_000*float64(i%10))
		h.ETFFlowsUSD = append(h.ETFFlowsUSD, 50_000_000*float64(i%4)-75_000_000)
	}
	return h
}

func TestCalibrate_Deterministic(t *testing.T) {
	h := syntheticHistory(500)
	s := DefaultCalibrationSettings()
	asOf := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	a, err := Calibrate(h, s, asOf)
	require.NoError(t, err)
	b, err := Calibrate(h, s, asOf)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "BTC", a.Asset)
	assert.Equal(t, asOf, a.GeneratedAt)
}

func TestCalibrate_FloorsApplyOnQuietHistory(t *testing.T) {
	// The synthetic series is deliberately quiet: every percentile lands
	// below its floor, so the floors must win across the board.
	h := syntheticHistory(500)
	s := DefaultCalibrationSettings()

	cfg, err := Calibrate(h, s, time.Now())
	require.NoError(t, err)

	assert.Equal(t, s.BiasWatchFloorAbs, cfg.BiasWatchAbs)
	assert.Equal(t, s.BiasActionFloorAbs, cfg.BiasActionAbs)
	assert.Equal(t, s.FundingWatchFloorBps, cfg.FundingWatchBps)
	assert.Equal(t, s.FundingActionFloorBps, cfg.FundingActionBps)
	assert.Equal(t, s.OIWatchFloorROC, cfg.OIWatchROC)
	assert.Equal(t, s.OIActionFloorROC, cfg.OIActionROC)
	assert.Equal(t, s.TakerWatchHiFloor, cfg.TakerWatchHi)
	assert.Equal(t, s.TakerActionHiFloor, cfg.TakerActionHi)
	assert.Equal(t, s.LiqWatchFloorUSD, cfg.LiqWatchUSD)
	assert.Equal(t, s.LiqActionFloorUSD, cfg.LiqActionUSD)

	// The quiet taker low tail sits above the ceilings, so the ceilings win.
	assert.Equal(t, s.TakerWatchLoCeil, cfg.TakerWatchLo)
	assert.Equal(t, s.TakerActionLoCeil, cfg.TakerActionLo)
}

func TestCalibrate_PercentilesWinOnVolatileHistory(t *testing.T) {
	s := DefaultCalibrationSettings()
	h := AssetHistory{Asset: "VOLATILE"}
	for i := 0; i < 400; i++ {
		h.FundingRates = append(h.FundingRates, 0.0005*float64(i%4)) // up to 120 bps/8h
		h.LiquidationsUSD = append(h.LiquidationsUSD, 5_000_000*float64(i%10))
		h.TakerRatios = append(h.TakerRatios, 0.3+0.05*float64(i%30)) // 0.3..1.75
	}

	cfg, err := Calibrate(h, s, time.Now())
	require.NoError(t, err)

	assert.Greater(t, cfg.FundingActionBps, s.FundingActionFloorBps)
	assert.Greater(t, cfg.LiqActionUSD, s.LiqActionFloorUSD)
	assert.Greater(t, cfg.TakerActionHi, s.TakerActionHiFloor)
	// A fat low tail pulls the low thresholds below the ceilings.
	assert.Less(t, cfg.TakerActionLo, s.TakerActionLoCeil)
	assert.Less(t, cfg.TakerWatchLo, s.TakerWatchLoCeil)
	// Watch never exceeds action on either side.
	assert.LessOrEqual(t, cfg.FundingWatchBps, cfg.FundingActionBps)
	assert.LessOrEqual(t, cfg.LiqWatchUSD, cfg.LiqActionUSD)
	assert.LessOrEqual(t, cfg.TakerWatchHi, cfg.TakerActionHi)
	assert.GreaterOrEqual(t, cfg.TakerWatchLo, cfg.TakerActionLo)
}

func TestCalibrate_EmptyHistoryCollapsesToFloors(t *testing.T) {
	s := DefaultCalibrationSettings()

	cfg, err := Calibrate(AssetHistory{Asset: "NEW"}, s, time.Now())
	require.NoError(t, err)

	assert.Equal(t, s.FundingActionFloorBps, cfg.FundingActionBps)
	assert.Equal(t, s.LiqActionFloorUSD, cfg.LiqActionUSD)
	assert.Equal(t, s.TakerActionLoCeil, cfg.TakerActionLo)
	// No ETF history: the percentile rule stays disabled.
	assert.Equal(t, 0.0, cfg.ETFActionP95USD)
}

func TestCalibrate_RejectsBadSettings(t *testing.T) {
	h := syntheticHistory(10)

	s := DefaultCalibrationSettings()
	s.Window = 0
	_, err := Calibrate(h, s, time.Now())
	assert.Error(t, err)

	s = DefaultCalibrationSettings()
	s.MinPeriods = -1
	_, err = Calibrate(h, s, time.Now())
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg, err := Calibrate(syntheticHistory(300), DefaultCalibrationSettings(),
		time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "btc_thresholds.json")
	require.NoError(t, cfg.WriteSnapshot(path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadSnapshot_MissingFile(t *testing.T) {
	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
