package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/indicator"
	"mexc-futures-engine/internal/market"
)

func testDirectionConfig() config.DirectionConfig {
	return config.DirectionConfig{
		EMAFast:             3,
		EMASlow:             5,
		EMANeutralThreshold: 0.2,
		RSILongThreshold:    55,
		RSIShortThreshold:   45,
		StructureLookback:   50,
	}
}

// risingSet builds a Set over a strictly rising close series so the EMA
// fast/slow spread and price-above-fast conditions both vote long.
func risingSet() *indicator.Set {
	klines := make([]market.Kline, 40)
	for i := range klines {
		px := 100.0 + float64(i)
		klines[i] = market.Kline{Open: px, High: px + 0.5, Low: px - 0.5, Close: px, Volume: 10}
	}
	return &indicator.Set{
		Klines:    klines,
		RSI:       60,
		MACD:      indicator.MACDResult{Histogram: 0.5},
		ADX:       indicator.ADXResult{ADX: 26, PlusDI: 30, MinusDI: 10},
		EMA200:    100,
		Structure: indicator.StructureResult{Trend: "bullish", HH: 3, HL: 3},
	}
}

func TestDirectionUnanimousLong(t *testing.T) {
	res := EvaluateDirection(risingSet(), testDirectionConfig())

	assert.Equal(t, "long", res.Bias)
	assert.InDelta(t, 100.0, res.Score, 1e-9)
	for name, v := range res.Votes {
		assert.Equal(t, "long", v, name)
	}
}

func TestDirectionFourVotesScoreEightyFive(t *testing.T) {
	set := risingSet()
	set.RSI = 50                                     // abstains
	set.MACD = indicator.MACDResult{Histogram: -0.5} // dissents

	res := EvaluateDirection(set, testDirectionConfig())

	assert.Equal(t, "long", res.Bias)
	assert.InDelta(t, 85.0, res.Score, 1e-9)
	assert.Equal(t, "neutral", res.Votes["rsi"])
	assert.Equal(t, "short", res.Votes["macd"])
}

func TestDirectionSplitConsensusIsNeutral(t *testing.T) {
	set := risingSet()
	set.RSI = 50
	set.MACD = indicator.MACDResult{Histogram: -0.5}
	set.Structure = indicator.StructureResult{Trend: "bearish", LH: 3, LL: 3}

	// Three long votes against two short is not enough.
	res := EvaluateDirection(set, testDirectionConfig())

	assert.Equal(t, "neutral", res.Bias)
	assert.InDelta(t, 40.0, res.Score, 1e-9)
}

func TestDirectionAbstainsOnMissingData(t *testing.T) {
	set := risingSet()
	set.RSI = math.NaN()
	set.MACD = indicator.MACDResult{Histogram: math.NaN()}
	set.ADX = indicator.ADXResult{ADX: 12, PlusDI: 30, MinusDI: 10} // below trend floor
	set.EMA200 = math.NaN()

	res := EvaluateDirection(set, testDirectionConfig())

	assert.Equal(t, "neutral", res.Votes["rsi"])
	assert.Equal(t, "neutral", res.Votes["macd"])
	assert.Equal(t, "neutral", res.Votes["adx"])
	assert.Equal(t, "neutral", res.Votes["ema200"])
}
