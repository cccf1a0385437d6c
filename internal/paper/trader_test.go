package paper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/monitor"
	"mexc-futures-engine/internal/signal"
)

func v4Trader() *Trader {
	return &Trader{
		bot: &config.BotConfig{
			Version: "v4",
			Fees:    config.FeesConfig{TakerPct: 0.06},
			Sizing: config.SizingConfig{
				BasePct:                0.02,
				MinMargin:              5,
				MaxMargin:              50,
				SpreadMissingThreshold: 900,
			},
		},
	}
}

func legacyTrader() *Trader {
	return &Trader{bot: &config.BotConfig{Version: "v2", Fees: config.FeesConfig{TakerPct: 0.06}}}
}

func TestMarginForScalesWithConviction(t *testing.T) {
	tr := v4Trader()
	p := &database.Portfolio{CurrentBalance: 1000}

	// base = 1000 * 0.02 = 20, multiplier spans [0.6, 1.5].
	assert.InDelta(t, 12.0, tr.marginFor(p, 50), 1e-9)
	assert.InDelta(t, 30.0, tr.marginFor(p, 85), 1e-9)
	assert.InDelta(t, 12.0, tr.marginFor(p, 30), 1e-9) // floored multiplier
	assert.InDelta(t, 30.0, tr.marginFor(p, 99), 1e-9) // capped multiplier

	// Absolute bounds still apply.
	tiny := &database.Portfolio{CurrentBalance: 100}
	assert.InDelta(t, 5.0, tr.marginFor(tiny, 50), 1e-9)
	whale := &database.Portfolio{CurrentBalance: 100000}
	assert.InDelta(t, 50.0, tr.marginFor(whale, 85), 1e-9)
}

func TestMarginForLegacyIsFixed(t *testing.T) {
	tr := legacyTrader()
	p := &database.Portfolio{CurrentBalance: 5000}
	assert.InDelta(t, 10.0, tr.marginFor(p, 95), 1e-9)
}

func TestSlippageAdjusted(t *testing.T) {
	tr := v4Trader()
	sig := &signal.Signal{Direction: "long", EntryPrice: 100}

	assert.InDelta(t, 100.05, tr.slippageAdjusted(sig, 0.1), 1e-9)

	sig.Direction = "short"
	assert.InDelta(t, 99.95, tr.slippageAdjusted(sig, 0.1), 1e-9)

	// Half-spread caps at 0.5%.
	sig.Direction = "long"
	assert.InDelta(t, 100.5, tr.slippageAdjusted(sig, 4.0), 1e-9)

	// Sentinel spread means no orderbook, fill at signal price.
	assert.InDelta(t, 100.0, tr.slippageAdjusted(sig, 999), 1e-9)
	assert.InDelta(t, 100.0, tr.slippageAdjusted(sig, 0), 1e-9)
}

func TestFeeGate(t *testing.T) {
	tr := v4Trader()

	// TP1 move 0.10% vs roundtrip 0.12%: not viable.
	tight := &signal.Signal{EntryPrice: 100, TP1: 100.10}
	assert.NotEmpty(t, tr.feeGate(tight, 1000))

	wide := &signal.Signal{EntryPrice: 100, TP1: 100.50}
	assert.Empty(t, tr.feeGate(wide, 1000))

	free := legacyTrader()
	free.bot.Fees.TakerPct = 0
	assert.Empty(t, free.feeGate(tight, 1000))
}

func TestExposureCheckClusterCeiling(t *testing.T) {
	tr := v4Trader()
	open := []monitor.PositionView{
		{Symbol: "DOGE_USDT", Direction: "long"},
		{Symbol: "PEPE_USDT", Direction: "long"},
		{Symbol: "WIF_USDT", Direction: "long"},
	}

	sig := &signal.Signal{Symbol: "TRUMP_USDT", Direction: "long"}
	assert.Contains(t, tr.exposureCheck(open, sig), "cluster meme")

	// The opposite direction in the same cluster is fine.
	sig = &signal.Signal{Symbol: "TRUMP_USDT", Direction: "short"}
	assert.Empty(t, tr.exposureCheck(open, sig))

	// Outside the cluster the directional ceiling still applies.
	sig = &signal.Signal{Symbol: "AVAX_USDT", Direction: "long"}
	assert.Contains(t, tr.exposureCheck(open, sig), "correlated exposure")
}

func TestExposureCheckTiltedBook(t *testing.T) {
	tr := v4Trader()
	open := []monitor.PositionView{
		{Symbol: "DOGE_USDT", Direction: "long"},
		{Symbol: "AVAX_USDT", Direction: "long"},
		{Symbol: "LINK_USDT", Direction: "long"},
	}

	// Three same-direction positions across clusters: the fourth is always
	// refused.
	sig := &signal.Signal{Symbol: "BTC_USDT", Direction: "long"}
	assert.Contains(t, tr.exposureCheck(open, sig), "correlated exposure")

	sig = &signal.Signal{Symbol: "BTC_USDT", Direction: "short"}
	assert.Empty(t, tr.exposureCheck(open, sig))
}

func TestPositionRowKeepsSignalLineage(t *testing.T) {
	tr := v4Trader()
	sig := &signal.Signal{
		Symbol: "BTC_USDT", Mode: "scalping", Direction: "long",
		SetupType: "breakout", EntryPrice: 100, StopLoss: 98,
		TP1: 101, TP2: 102, TP3: 103, Leverage: 10,
	}

	row := tr.positionRow(42, sig, 100.05, 2.0, 200, 20)

	assert.Equal(t, int64(42), row.SignalID)
	assert.Equal(t, "v4", row.BotVersion)
	assert.InDelta(t, 100.05, row.EntryPrice, 1e-9)
	assert.InDelta(t, 2.0, row.RemainingQuantity, 1e-9)
	assert.InDelta(t, 98.0, row.OriginalSL, 1e-9)
	assert.Equal(t, monitor.StateActive, row.State)
}

func TestExposureCheckLegacySkipped(t *testing.T) {
	tr := legacyTrader()
	open := []monitor.PositionView{
		{Symbol: "DOGE_USDT", Direction: "long"},
		{Symbol: "PEPE_USDT", Direction: "long"},
		{Symbol: "WIF_USDT", Direction: "long"},
	}

	// Legacy bots keep their flat position cap but no exposure shaping.
	sig := &signal.Signal{Symbol: "TRUMP_USDT", Direction: "long"}
	assert.Empty(t, tr.exposureCheck(open, sig))
}
