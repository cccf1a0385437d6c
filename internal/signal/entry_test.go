package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/indicator"
	"mexc-futures-engine/internal/market"
)

func testEntryConfig() config.EntryConfig {
	return config.EntryConfig{
		Setups:                []string{"breakout", "retest", "divergence", "ema_bounce", "momentum"},
		MinScore:              55,
		BBSqueezeThreshold:    2.0,
		VolumeSpikeRatio:      1.8,
		RetestBufferPct:       0.15,
		RejectionWickRatio:    1.5,
		EMABounceProximityPct: 0.2,
	}
}

// greenBars makes identical small green candles closing at px.
func greenBars(n int, px float64) []market.Kline {
	out := make([]market.Kline, n)
	for i := range out {
		out[i] = market.Kline{Open: px - 0.5, High: px + 0.2, Low: px - 0.7, Close: px, Volume: 10}
	}
	return out
}

func TestDetectBreakoutScoring(t *testing.T) {
	set := &indicator.Set{
		Klines:      greenBars(20, 110),
		BB:          indicator.BollingerResult{Upper: 105, Middle: 100, Lower: 95, Bandwidth: 1.2},
		VolumeRatio: 2.5,
		MACD:        indicator.MACDResult{Histogram: math.NaN()},
	}
	cfg := testEntryConfig()

	s := detectBreakout(set, "long", cfg)
	require.NotNil(t, s)
	assert.Equal(t, "breakout", s.Type)
	assert.Equal(t, 26, s.PatternScore) // int((2.5-1.8)/1.8*30)+15
	assert.Equal(t, 13, s.VolScore)     // int(2.5/1.8*10)
	assert.InDelta(t, 110.0, s.EntryPrice, 1e-9)

	// OBV trend and MACD histogram each confirm for +5.
	set.OBV = []float64{10, 20, 30, 40, 50, 60}
	set.MACD = indicator.MACDResult{Histogram: 0.3}
	s = detectBreakout(set, "long", cfg)
	require.NotNil(t, s)
	assert.Equal(t, 36, s.PatternScore)
}

func TestDetectBreakoutRequiresSqueezeSpikeAndBreak(t *testing.T) {
	cfg := testEntryConfig()
	base := indicator.Set{
		Klines:      greenBars(20, 110),
		BB:          indicator.BollingerResult{Upper: 105, Middle: 100, Lower: 95, Bandwidth: 1.2},
		VolumeRatio: 2.5,
		MACD:        indicator.MACDResult{Histogram: math.NaN()},
	}

	wide := base
	wide.BB.Bandwidth = 3.5
	assert.Nil(t, detectBreakout(&wide, "long", cfg))

	quiet := base
	quiet.VolumeRatio = 1.2
	assert.Nil(t, detectBreakout(&quiet, "long", cfg))

	inside := base
	inside.Klines = greenBars(20, 104) // still under the upper band
	assert.Nil(t, detectBreakout(&inside, "long", cfg))

	// Price above the upper band never qualifies as a short breakout.
	assert.Nil(t, detectBreakout(&base, "short", cfg))
}

func TestDetectMomentumLong(t *testing.T) {
	set := &indicator.Set{
		Klines:      greenBars(20, 110),
		RSI:         70,
		ADX:         indicator.ADXResult{ADX: 32, PlusDI: 30, MinusDI: 10},
		EMA20:       108,
		EMA50:       105,
		MACD:        indicator.MACDResult{Histogram: 0.5},
		VolumeRatio: 1.5,
	}

	s := detectMomentum(set, "long")
	require.NotNil(t, s)
	assert.Equal(t, "momentum", s.Type)
	assert.Equal(t, 28, s.PatternScore) // 20 +5 ADX>=30 +3 MACD
	assert.Equal(t, 7, s.VolScore)      // int(1.5*5)

	// EMA stack out of order kills the setup.
	set.EMA50 = 109
	assert.Nil(t, detectMomentum(set, "long"))
}

func TestDetectDivergenceDouble(t *testing.T) {
	set := &indicator.Set{
		Klines:     greenBars(20, 100),
		Divergence: indicator.DivergenceResult{RSIBullish: true, MACDBullish: true},
	}
	s := detectDivergence(set, "long")
	require.NotNil(t, s)
	assert.Equal(t, 30, s.PatternScore)
	assert.Equal(t, 10, s.VolScore)
	assert.Contains(t, s.Reason, "RSI+MACD")

	assert.Nil(t, detectDivergence(set, "short"))
}

func TestEvaluateEntrySingleDetectorConfluence(t *testing.T) {
	set := &indicator.Set{
		Klines:      greenBars(20, 110),
		RSI:         70,
		ADX:         indicator.ADXResult{ADX: 32, PlusDI: 30, MinusDI: 10},
		EMA20:       108,
		EMA50:       105,
		MACD:        indicator.MACDResult{Histogram: 0.5},
		VolumeRatio: 1.5,
		BB:          indicator.BollingerResult{Upper: math.NaN(), Bandwidth: math.NaN()},
		VWAP:        math.NaN(),
		Ichimoku:    indicator.IchimokuResult{SpanA: math.NaN(), SpanB: math.NaN()},
		Stoch:       indicator.StochRSIResult{K: math.NaN(), D: math.NaN()},
	}

	s := EvaluateEntry(set, "long", []string{"momentum"}, testEntryConfig())
	require.NotNil(t, s)
	assert.Equal(t, 5, s.ConfluenceScore)
	assert.Equal(t, []string{"momentum"}, s.FiredDetectors)
	assert.True(t, s.Confirmed)
	assert.Equal(t, 0, s.CandleModifier) // small green candles carry no signal either way
}

func TestConfirmEntryBigCandleVeto(t *testing.T) {
	klines := greenBars(20, 100)
	// One huge bearish candle straddling the current price.
	klines[17] = market.Kline{Open: 108, High: 109, Low: 92, Close: 93, Volume: 10}

	set := &indicator.Set{Klines: klines}
	s := &Setup{Type: "retest", Direction: "long", EntryPrice: 100}
	confirmEntry(set, s)

	assert.False(t, s.Confirmed)
	assert.Contains(t, s.Reason, "rejected by big candle")
}

func TestConfirmEntryContradictingPattern(t *testing.T) {
	klines := greenBars(20, 100)
	// Bearish engulfing at the end: green then a larger red swallowing it.
	klines[18] = market.Kline{Open: 99.8, High: 100.4, Low: 99.6, Close: 100.2, Volume: 10}
	klines[19] = market.Kline{Open: 100.3, High: 100.5, Low: 99.0, Close: 99.5, Volume: 10}

	set := &indicator.Set{Klines: klines}
	s := &Setup{Type: "retest", Direction: "long", EntryPrice: 100}
	confirmEntry(set, s)

	assert.True(t, s.Confirmed)
	assert.Equal(t, "engulfing", s.CandlePattern)
	assert.Equal(t, -15, s.CandleModifier) // contradicting pattern plus strong move against, floored
}
