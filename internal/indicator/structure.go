package indicator

import (
	"math"

	"mexc-futures-engine/internal/market"
)

// ===== MARKET STRUCTURE =====

type StructureResult struct {
	Trend string // bullish, bearish, neutral
	HH    int
	HL    int
	LH    int
	LL    int
}

// MarketStructure classifies swing structure over the last lookback bars.
// Pivots require 2 bars on each side; consecutive pivot highs/lows are
// compared to count HH/LH and HL/LL.
func MarketStructure(klines []market.Kline, lookback int) StructureResult {
	res := StructureResult{Trend: "neutral"}
	if len(klines) < 5 {
		return res
	}
	if lookback <= 0 || lookback > len(klines) {
		lookback = len(klines)
	}
	window := klines[len(klines)-lookback:]

	var pivotHighs, pivotLows []float64
	for i := 2; i < len(window)-2; i++ {
		h := window[i].High
		if h > window[i-1].High && h > window[i-2].High && h > window[i+1].High && h > window[i+2].High {
			pivotHighs = append(pivotHighs, h)
		}
		l := window[i].Low
		if l < window[i-1].Low && l < window[i-2].Low && l < window[i+1].Low && l < window[i+2].Low {
			pivotLows = append(pivotLows, l)
		}
	}

	for i := 1; i < len(pivotHighs); i++ {
		if pivotHighs[i] > pivotHighs[i-1] {
			res.HH++
		} else {
			res.LH++
		}
	}
	for i := 1; i < len(pivotLows); i++ {
		if pivotLows[i] > pivotLows[i-1] {
			res.HL++
		} else {
			res.LL++
		}
	}

	bull := res.HH + res.HL
	bear := res.LH + res.LL
	switch {
	case bull > bear && res.HH > 0:
		res.Trend = "bullish"
	case bear > bull && res.LL > 0:
		res.Trend = "bearish"
	}
	return res
}

// ===== DIVERGENCE =====

type DivergenceResult struct {
	RSIBullish  bool
	RSIBearish  bool
	MACDBullish bool
	MACDBearish bool
}

// Any reports whether a divergence in the given direction exists.
func (d DivergenceResult) Any(direction string) bool {
	if direction == "long" {
		return d.RSIBullish || d.MACDBullish
	}
	return d.RSIBearish || d.MACDBearish
}

// Double reports whether both oscillators diverge in the given direction.
func (d DivergenceResult) Double(direction string) bool {
	if direction == "long" {
		return d.RSIBullish && d.MACDBullish
	}
	return d.RSIBearish && d.MACDBearish
}

// Divergence compares price and oscillator extrema between the first and
// second half of the last lookback bars. Bullish: price makes a lower low
// while the oscillator makes a higher low. Bearish: mirror on highs.
func Divergence(klines []market.Kline, rsi []float64, macdHist []float64, lookback int) DivergenceResult {
	var res DivergenceResult
	if len(klines) < lookback || lookback < 8 {
		return res
	}
	prices := klines[len(klines)-lookback:]
	half := lookback / 2

	priceLow1, priceHigh1 := extrema(prices[:half])
	priceLow2, priceHigh2 := extrema(prices[half:])

	if len(rsi) >= lookback {
		osc := rsi[len(rsi)-lookback:]
		lo1, hi1 := minMax(osc[:half])
		lo2, hi2 := minMax(osc[half:])
		res.RSIBullish = priceLow2 < priceLow1 && lo2 > lo1
		res.RSIBearish = priceHigh2 > priceHigh1 && hi2 < hi1
	}
	if len(macdHist) >= lookback {
		osc := macdHist[len(macdHist)-lookback:]
		lo1, hi1 := minMax(osc[:half])
		lo2, hi2 := minMax(osc[half:])
		res.MACDBullish = priceLow2 < priceLow1 && lo2 > lo1
		res.MACDBearish = priceHigh2 > priceHigh1 && hi2 < hi1
	}
	return res
}

func extrema(klines []market.Kline) (low, high float64) {
	low, high = klines[0].Low, klines[0].High
	for _, k := range klines {
		low = math.Min(low, k.Low)
		high = math.Max(high, k.High)
	}
	return low, high
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// ===== SWING LEVELS =====

// RecentSwing returns the lowest low and highest high over the last lookback
// bars, excluding the current bar.
func RecentSwing(klines []market.Kline, lookback int) (low, high float64) {
	if len(klines) < 2 {
		return math.NaN(), math.NaN()
	}
	start := len(klines) - 1 - lookback
	if start < 0 {
		start = 0
	}
	window := klines[start : len(klines)-1]
	return extrema(window)
}
