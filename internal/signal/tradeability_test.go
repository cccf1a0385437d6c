package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/config"
)

func testTradeabilityConfig() config.TradeabilityConfig {
	return config.TradeabilityConfig{
		Thresholds: config.TradeabilityThresholds{
			ATRMinRatio:    0.5,
			ATRMaxRatio:    3.0,
			VolumeMinRatio: 0.5,
			SpreadKill:     0.4,
			SpreadMaxScalp: 0.15,
			SpreadMaxSwing: 0.25,
			FundingKill:    0.3,
			FundingMax:     0.15,
			OIDropMaxPct:   10,
			MinDepthUSD:    50000,
		},
		Weights: map[string]float64{
			"volatility": 0.20,
			"volume":     0.15,
			"spread":     0.15,
			"depth":      0.10,
			"funding":    0.15,
			"oi":         0.10,
			"adx":        0.15,
		},
		MinScore: 0.55,
	}
}

func healthyInput() TradeabilityInput {
	return TradeabilityInput{
		ATRRatio:           1.75, // midpoint of [0.5, 3.0], peak volatility score
		VolumeRatio:        2.0,
		SpreadPct:          0.02,
		BidDepthUSD:        300000,
		AskDepthUSD:        280000,
		OrderBookAvailable: true,
		FundingPct:         0.01,
		OIChangePct:        0.5,
		ADX:                32,
		Mode:               "scalping",
	}
}

func TestTradeabilityHealthyMarket(t *testing.T) {
	res := EvaluateTradeability(healthyInput(), testTradeabilityConfig(), false)

	assert.True(t, res.Tradable)
	assert.Empty(t, res.KillReason)
	assert.InDelta(t, 1.0, res.Checks["volatility"], 1e-9)
	assert.InDelta(t, 1.0, res.Checks["volume"], 1e-9)
	assert.InDelta(t, 1.0, res.Checks["depth"], 1e-9)
	assert.InDelta(t, 1.0, res.Checks["oi"], 1e-9)
	assert.InDelta(t, 1.0, res.Checks["adx"], 1e-9)
	assert.Greater(t, res.Score, 0.9)
}

func TestTradeabilitySpreadKill(t *testing.T) {
	in := healthyInput()
	in.SpreadPct = 0.5

	res := EvaluateTradeability(in, testTradeabilityConfig(), false)

	assert.False(t, res.Tradable)
	assert.Zero(t, res.Score)
	assert.Equal(t, "Spread 0.5000% > 0.4% KILL", res.KillReason)
}

func TestTradeabilitySpreadSentinelIsNeutralNotKill(t *testing.T) {
	in := healthyInput()
	in.SpreadPct = 999 // no orderbook

	res := EvaluateTradeability(in, testTradeabilityConfig(), false)

	assert.Empty(t, res.KillReason)
	assert.InDelta(t, 0.7, res.Checks["spread"], 1e-9)
	assert.True(t, res.Tradable)
}

func TestTradeabilityFundingKill(t *testing.T) {
	in := healthyInput()
	in.FundingPct = -0.35 // magnitude matters, not sign

	res := EvaluateTradeability(in, testTradeabilityConfig(), false)

	assert.False(t, res.Tradable)
	assert.Zero(t, res.Score)
	assert.Equal(t, "Funding 0.3500% > 0.3% KILL", res.KillReason)
}

func TestTradeabilityOIDumpZeroesCheck(t *testing.T) {
	in := healthyInput()
	in.OIChangePct = -12

	res := EvaluateTradeability(in, testTradeabilityConfig(), false)
	assert.InDelta(t, 0.0, res.Checks["oi"], 1e-9)
}

func TestTradeabilityVolatilityShapes(t *testing.T) {
	cfg := testTradeabilityConfig()

	cases := []struct {
		name     string
		atrRatio float64
		want     float64
	}{
		{"peak at midpoint", 1.75, 1.0},
		{"lower bound", 0.5, 0.5},
		{"upper bound", 3.0, 0.5},
		{"above max flat", 4.0, 0.2},
		{"below min scaled", 0.25, 0.15}, // 0.25/0.5*0.3
		{"nan neutral", math.NaN(), 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := healthyInput()
			in.ATRRatio = tc.atrRatio
			res := EvaluateTradeability(in, cfg, false)
			assert.InDelta(t, tc.want, res.Checks["volatility"], 1e-9)
		})
	}
}

func TestTradeabilityDepthShapes(t *testing.T) {
	cfg := testTradeabilityConfig()

	run := func(bid, ask float64, available bool) float64 {
		in := healthyInput()
		in.BidDepthUSD, in.AskDepthUSD, in.OrderBookAvailable = bid, ask, available
		return EvaluateTradeability(in, cfg, false).Checks["depth"]
	}

	assert.InDelta(t, 0.7, run(0, 0, false), 1e-9)        // unknown
	assert.InDelta(t, 0.0, run(40000, 90000, true), 1e-9) // thin side below minimum
	assert.InDelta(t, 1.0, run(260000, 300000, true), 1e-9)
	assert.InDelta(t, 0.25, run(100000, 200000, true), 1e-9) // (100k-50k)/(4*50k)
}

func TestTradeabilityADXTiers(t *testing.T) {
	cfg := testTradeabilityConfig()
	run := func(adx float64) float64 {
		in := healthyInput()
		in.ADX = adx
		return EvaluateTradeability(in, cfg, false).Checks["adx"]
	}
	assert.InDelta(t, 1.0, run(30), 1e-9)
	assert.InDelta(t, 0.8, run(26), 1e-9)
	assert.InDelta(t, 0.5, run(21), 1e-9)
	assert.InDelta(t, 0.2, run(12), 1e-9)
}

func TestTradeabilityOrderFlowOnlyWhenEnabled(t *testing.T) {
	cfg := testTradeabilityConfig()
	cfg.Weights["order_flow"] = 0.10

	in := healthyInput()
	in.OrderFlowRatio = 0.8
	in.OrderFlowVolume = 500

	without := EvaluateTradeability(in, cfg, false)
	_, present := without.Checks["order_flow"]
	assert.False(t, present)

	with := EvaluateTradeability(in, cfg, true)
	assert.InDelta(t, 1.0, with.Checks["order_flow"], 1e-9)

	// Thin tape is neutral regardless of ratio.
	in.OrderFlowVolume = 5
	with = EvaluateTradeability(in, cfg, true)
	assert.InDelta(t, 0.5, with.Checks["order_flow"], 1e-9)

	// A perfectly balanced tape says nothing.
	in.OrderFlowVolume = 500
	in.OrderFlowRatio = 0.50
	with = EvaluateTradeability(in, cfg, true)
	assert.InDelta(t, 0.5, with.Checks["order_flow"], 1e-9)

	// Mild imbalance scores between the two.
	in.OrderFlowRatio = 0.60
	with = EvaluateTradeability(in, cfg, true)
	assert.InDelta(t, 0.7, with.Checks["order_flow"], 1e-9)
}

func TestTradeabilityLowScoreNotTradable(t *testing.T) {
	in := healthyInput()
	in.ATRRatio = 0.1
	in.VolumeRatio = 0.4
	in.ADX = 10
	in.OIChangePct = -9

	res := EvaluateTradeability(in, testTradeabilityConfig(), false)
	assert.False(t, res.Tradable)
	assert.Empty(t, res.KillReason)
	assert.Less(t, res.Score, 0.55)
}
