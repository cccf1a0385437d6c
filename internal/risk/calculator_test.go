package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/market"
)

func atrMode() *config.ModeConfig {
	return &config.ModeConfig{
		StopLoss:   config.StopLossConfig{Method: "atr", ATRMultiplier: 1.5, BufferATR: 0.3, MaxStopPct: 5.0},
		TakeProfit: config.TakeProfitConfig{TP1RR: 1.5, TP2RR: 2.5, TP3RR: 4.0, TP1ClosePct: 40, TP2ClosePct: 40, TP3ClosePct: 20},
		Risk:       config.ModeRiskConfig{LeverageMin: 5, LeverageMax: 20},
	}
}

func TestComputeATRStopLong(t *testing.T) {
	plan := Compute(100, "long", 2.0, nil, atrMode())

	assert.InDelta(t, 3.0, plan.SLDistance, 1e-9)
	assert.InDelta(t, 97.0, plan.StopLoss, 1e-9)
	assert.InDelta(t, 104.5, plan.TP1, 1e-9)
	assert.InDelta(t, 107.5, plan.TP2, 1e-9)
	assert.InDelta(t, 112.0, plan.TP3, 1e-9)
	assert.InDelta(t, 1.5, plan.RRRatio, 1e-9)
	assert.InDelta(t, 3.0, plan.RiskPct, 1e-9)
	assert.Equal(t, 5, plan.Leverage) // 3% stop is wide, minimum leverage
	assert.InDelta(t, 40.0, plan.TP1ClosePct, 1e-9)
}

func TestComputeATRStopShortMirrors(t *testing.T) {
	plan := Compute(100, "short", 2.0, nil, atrMode())

	assert.InDelta(t, 103.0, plan.StopLoss, 1e-9)
	assert.InDelta(t, 95.5, plan.TP1, 1e-9)
	assert.InDelta(t, 1.5, plan.RRRatio, 1e-9)
}

func TestComputeStructuralStopUsesSwingNotCurrentBar(t *testing.T) {
	mode := atrMode()
	mode.StopLoss = config.StopLossConfig{Method: "structural", ATRMultiplier: 1.5, BufferATR: 0.3, MaxStopPct: 10}

	klines := make([]market.Kline, 12)
	for i := range klines {
		klines[i] = market.Kline{Open: 100, High: 102, Low: 96, Close: 100}
	}
	klines[5].Low = 95
	klines[11].Low = 90 // current bar spike must not set the stop

	plan := Compute(100, "long", 2.0, klines, mode)
	// 100 - (95 - 0.3*2.0)
	assert.InDelta(t, 5.6, plan.SLDistance, 1e-9)
	assert.InDelta(t, 94.4, plan.StopLoss, 1e-9)
}

func TestComputeStructuralStopFloorsAtHalfATR(t *testing.T) {
	mode := atrMode()
	mode.StopLoss = config.StopLossConfig{Method: "structural", ATRMultiplier: 1.5, BufferATR: 0.3, MaxStopPct: 10}

	klines := make([]market.Kline, 12)
	for i := range klines {
		klines[i] = market.Kline{Open: 101, High: 102, Low: 100.5, Close: 101}
	}

	// Swing low sits above the entry, so the distance collapses to the floor.
	plan := Compute(100, "long", 2.0, klines, mode)
	assert.InDelta(t, 1.0, plan.SLDistance, 1e-9)
	assert.InDelta(t, 99.0, plan.StopLoss, 1e-9)
}

func TestComputeCapsByMaxStopPct(t *testing.T) {
	mode := atrMode()
	mode.StopLoss.MaxStopPct = 1.0 // ATR distance would be 3

	plan := Compute(100, "long", 2.0, nil, mode)
	assert.InDelta(t, 1.0, plan.SLDistance, 1e-9)
	assert.InDelta(t, 99.0, plan.StopLoss, 1e-9)
}

func TestLeverageForPiecewise(t *testing.T) {
	cfg := config.ModeRiskConfig{LeverageMin: 5, LeverageMax: 20}
	assert.Equal(t, 20, leverageFor(0.2, cfg))
	assert.Equal(t, 20, leverageFor(0.1, cfg))
	assert.Equal(t, 5, leverageFor(1.0, cfg))
	assert.Equal(t, 5, leverageFor(2.3, cfg))
	assert.Equal(t, 13, leverageFor(0.6, cfg)) // 5 + round(15 * 0.5)
}

func TestComputeDegenerateInputs(t *testing.T) {
	mode := atrMode()

	assert.Zero(t, Compute(0, "long", 2.0, nil, mode))
	assert.Zero(t, Compute(100, "long", math.NaN(), nil, mode))

	mode.TakeProfit.TP1RR = 0
	plan := Compute(100, "long", 2.0, nil, mode)
	assert.InDelta(t, 0.0, plan.RRRatio, 1e-9)
}
