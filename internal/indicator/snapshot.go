package indicator

import (
	"math"

	"mexc-futures-engine/internal/market"
)

// Set is the full indicator readout for one timeframe, computed once per
// analysis pass and shared by the pipeline layers.
type Set struct {
	Klines []market.Kline

	EMA20  float64
	EMA50  float64
	EMA200 float64

	RSI       float64
	RSISeries []float64

	ATR       float64
	ATRSeries []float64
	ATRMean   float64 // mean of the last 50 ATR values

	BB    BollingerResult
	MACD  MACDResult
	Stoch StochRSIResult
	ADX   ADXResult

	MACDHist   []float64
	OBV        []float64
	Ichimoku   IchimokuResult
	VWAP       float64
	Structure  StructureResult
	Divergence DivergenceResult

	VolumeRatio float64
}

// Compute builds the Set for one kline series. structureLookback controls
// the MarketStructure window.
func Compute(klines []market.Kline, structureLookback int) *Set {
	s := &Set{Klines: klines}

	s.EMA20 = EMA(klines, 20)
	s.EMA50 = EMA(klines, 50)
	s.EMA200 = EMA(klines, 200)

	s.RSISeries = RSISeries(klines, 14)
	s.RSI = lastOf(s.RSISeries)

	s.ATRSeries = ATRSeries(klines, 14)
	s.ATR = lastOf(s.ATRSeries)
	s.ATRMean = tailMean(s.ATRSeries, 50)

	s.BB = Bollinger(klines, 20, 2)
	s.MACD = MACD(klines, 12, 26, 9)
	s.MACDHist = MACDHistSeries(klines, 12, 26, 9)
	s.Stoch = StochRSI(klines, 14, 3, 3)
	s.ADX = ADX(klines, 14)
	s.OBV = OBVSeries(klines)
	s.Ichimoku = Ichimoku(klines, 9, 26, 52)
	s.VWAP = VWAP(klines)
	s.Structure = MarketStructure(klines, structureLookback)
	s.Divergence = Divergence(klines, s.RSISeries, s.MACDHist, 20)
	s.VolumeRatio = VolumeRatio(klines, 20)

	return s
}

// LastClose returns the close of the most recent bar.
func (s *Set) LastClose() float64 {
	if len(s.Klines) == 0 {
		return math.NaN()
	}
	return s.Klines[len(s.Klines)-1].Close
}

// ATRRatio returns current ATR over its rolling mean, 1.0 when unknown.
func (s *Set) ATRRatio() float64 {
	if math.IsNaN(s.ATR) || math.IsNaN(s.ATRMean) || s.ATRMean == 0 {
		return 1.0
	}
	return s.ATR / s.ATRMean
}

func lastOf(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

func tailMean(series []float64, n int) float64 {
	var sum float64
	count := 0
	start := len(series) - n
	if start < 0 {
		start = 0
	}
	for _, v := range series[start:] {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}
