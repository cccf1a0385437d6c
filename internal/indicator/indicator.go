// Package indicator provides pure technical-analysis functions over OHLCV
// bars. Every function returns math.NaN (or a result holding NaN) when the
// series is too short; callers must treat NaN as "unavailable".
package indicator

import (
	"math"

	"mexc-futures-engine/internal/market"
)

// ===== MOVING AVERAGES =====

// SMA returns the simple moving average of the last period closes.
func SMA(klines []market.Kline, period int) float64 {
	if len(klines) < period || period <= 0 {
		return math.NaN()
	}
	var sum float64
	for _, k := range klines[len(klines)-period:] {
		sum += k.Close
	}
	return sum / float64(period)
}

// EMA returns the last value of the exponential moving average.
func EMA(klines []market.Kline, period int) float64 {
	series := EMASeries(klines, period)
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// EMASeries returns the full EMA series, seeded with an SMA over the first
// period bars. Output is aligned to klines; leading values are NaN.
func EMASeries(klines []market.Kline, period int) []float64 {
	if len(klines) < period || period <= 0 {
		return nil
	}
	out := make([]float64, len(klines))
	var seed float64
	for i := 0; i < period; i++ {
		out[i] = math.NaN()
		seed += klines[i].Close
	}
	seed /= float64(period)
	out[period-1] = seed

	alpha := 2.0 / float64(period+1)
	prev := seed
	for i := period; i < len(klines); i++ {
		prev = (klines[i].Close-prev)*alpha + prev
		out[i] = prev
	}
	return out
}

// ===== RSI =====

// RSI returns the last Wilder-smoothed RSI value.
func RSI(klines []market.Kline, period int) float64 {
	series := RSISeries(klines, period)
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// RSISeries computes Wilder RSI aligned to klines (leading values NaN).
func RSISeries(klines []market.Kline, period int) []float64 {
	if len(klines) < period+1 || period <= 0 {
		return nil
	}
	out := make([]float64, len(klines))
	for i := range out {
		out[i] = math.NaN()
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ===== ATR =====

// ATR returns the last Wilder-smoothed average true range.
func ATR(klines []market.Kline, period int) float64 {
	series := ATRSeries(klines, period)
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// ATRSeries computes Wilder ATR aligned to klines (leading values NaN).
func ATRSeries(klines []market.Kline, period int) []float64 {
	if len(klines) < period+1 || period <= 0 {
		return nil
	}
	out := make([]float64, len(klines))
	for i := range out {
		out[i] = math.NaN()
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(klines[i], klines[i-1])
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRange(klines[i], klines[i-1])) / float64(period)
		out[i] = atr
	}
	return out
}

func trueRange(cur, prev market.Kline) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ===== BOLLINGER BANDS =====

type BollingerResult struct {
	Upper     float64
	Middle    float64
	Lower     float64
	Bandwidth float64 // (upper-lower)/middle*100
}

// Bollinger computes the bands over the last period closes with stdDev
// standard deviations.
func Bollinger(klines []market.Kline, period int, stdDev float64) BollingerResult {
	nan := BollingerResult{Upper: math.NaN(), Middle: math.NaN(), Lower: math.NaN(), Bandwidth: math.NaN()}
	if len(klines) < period || period <= 0 {
		return nan
	}
	middle := SMA(klines, period)
	var variance float64
	for _, k := range klines[len(klines)-period:] {
		d := k.Close - middle
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))

	upper := middle + stdDev*sd
	lower := middle - stdDev*sd
	bw := math.NaN()
	if middle != 0 {
		bw = (upper - lower) / middle * 100
	}
	return BollingerResult{Upper: upper, Middle: middle, Lower: lower, Bandwidth: bw}
}

// ===== MACD =====

type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes MACD(fast, slow, signal) at the last bar.
func MACD(klines []market.Kline, fast, slow, signal int) MACDResult {
	hist := MACDHistSeries(klines, fast, slow, signal)
	if len(hist) == 0 {
		return MACDResult{MACD: math.NaN(), Signal: math.NaN(), Histogram: math.NaN()}
	}
	macdLine, signalLine := macdLines(klines, fast, slow, signal)
	n := len(macdLine) - 1
	return MACDResult{MACD: macdLine[n], Signal: signalLine[n], Histogram: hist[len(hist)-1]}
}

// MACDHistSeries returns the histogram series aligned to klines.
func MACDHistSeries(klines []market.Kline, fast, slow, signal int) []float64 {
	macdLine, signalLine := macdLines(klines, fast, slow, signal)
	if macdLine == nil {
		return nil
	}
	out := make([]float64, len(macdLine))
	for i := range macdLine {
		out[i] = macdLine[i] - signalLine[i]
	}
	return out
}

func macdLines(klines []market.Kline, fast, slow, signal int) (macdLine, signalLine []float64) {
	if len(klines) < slow+signal {
		return nil, nil
	}
	fastS := EMASeries(klines, fast)
	slowS := EMASeries(klines, slow)
	macdLine = make([]float64, len(klines))
	for i := range klines {
		macdLine[i] = fastS[i] - slowS[i]
	}
	// EMA of the MACD line, seeded at the first non-NaN value.
	signalLine = make([]float64, len(klines))
	alpha := 2.0 / float64(signal+1)
	prev := math.NaN()
	for i := range macdLine {
		if math.IsNaN(macdLine[i]) {
			signalLine[i] = math.NaN()
			continue
		}
		if math.IsNaN(prev) {
			prev = macdLine[i]
		} else {
			prev = (macdLine[i]-prev)*alpha + prev
		}
		signalLine[i] = prev
	}
	return macdLine, signalLine
}

// ===== STOCHASTIC RSI =====

type StochRSIResult struct {
	K float64
	D float64
}

// StochRSI computes the stochastic of RSI with %K and %D smoothing.
func StochRSI(klines []market.Kline, rsiPeriod, kSmooth, dSmooth int) StochRSIResult {
	nan := StochRSIResult{K: math.NaN(), D: math.NaN()}
	rsis := RSISeries(klines, rsiPeriod)
	if rsis == nil {
		return nan
	}
	valid := rsis[rsiPeriod:]
	if len(valid) < rsiPeriod+kSmooth+dSmooth {
		return nan
	}
	raw := make([]float64, 0, len(valid)-rsiPeriod+1)
	for i := rsiPeriod - 1; i < len(valid); i++ {
		window := valid[i-rsiPeriod+1 : i+1]
		lo, hi := window[0], window[0]
		for _, v := range window {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi == lo {
			raw = append(raw, 0)
		} else {
			raw = append(raw, (valid[i]-lo)/(hi-lo)*100)
		}
	}
	k := smooth(raw, kSmooth)
	d := smooth(k, dSmooth)
	if len(k) == 0 || len(d) == 0 {
		return nan
	}
	return StochRSIResult{K: k[len(k)-1], D: d[len(d)-1]}
}

func smooth(series []float64, period int) []float64 {
	if len(series) < period || period <= 0 {
		return nil
	}
	out := make([]float64, 0, len(series)-period+1)
	for i := period - 1; i < len(series); i++ {
		var sum float64
		for _, v := range series[i-period+1 : i+1] {
			sum += v
		}
		out = append(out, sum/float64(period))
	}
	return out
}

// ===== ADX =====

type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX computes the average directional index with Wilder smoothing.
func ADX(klines []market.Kline, period int) ADXResult {
	nan := ADXResult{ADX: math.NaN(), PlusDI: math.NaN(), MinusDI: math.NaN()}
	if len(klines) < 2*period+1 || period <= 0 {
		return nan
	}

	n := len(klines)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		up := klines[i].High - klines[i-1].High
		down := klines[i-1].Low - klines[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = trueRange(klines[i], klines[i-1])
	}

	smPlus := wilderSum(plusDM[1:], period)
	smMinus := wilderSum(minusDM[1:], period)
	smTR := wilderSum(tr[1:], period)

	dxs := make([]float64, 0, len(smTR))
	var plusDI, minusDI float64
	for i := range smTR {
		if smTR[i] == 0 {
			dxs = append(dxs, 0)
			continue
		}
		plusDI = smPlus[i] / smTR[i] * 100
		minusDI = smMinus[i] / smTR[i] * 100
		sum := plusDI + minusDI
		if sum == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, math.Abs(plusDI-minusDI)/sum*100)
	}
	if len(dxs) < period {
		return nan
	}

	var adx float64
	for _, v := range dxs[:period] {
		adx += v
	}
	adx /= float64(period)
	for _, v := range dxs[period:] {
		adx = (adx*float64(period-1) + v) / float64(period)
	}
	return ADXResult{ADX: adx, PlusDI: plusDI, MinusDI: minusDI}
}

// wilderSum produces Wilder-smoothed running sums of the input.
func wilderSum(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	var sum float64
	for _, v := range values[:period] {
		sum += v
	}
	out = append(out, sum)
	for _, v := range values[period:] {
		sum = sum - sum/float64(period) + v
		out = append(out, sum)
	}
	return out
}

// ===== OBV =====

// OBVSeries returns on-balance volume aligned to klines.
func OBVSeries(klines []market.Kline) []float64 {
	if len(klines) < 2 {
		return nil
	}
	out := make([]float64, len(klines))
	for i := 1; i < len(klines); i++ {
		switch {
		case klines[i].Close > klines[i-1].Close:
			out[i] = out[i-1] + klines[i].Volume
		case klines[i].Close < klines[i-1].Close:
			out[i] = out[i-1] - klines[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// ===== ICHIMOKU =====

type IchimokuResult struct {
	Tenkan float64
	Kijun  float64
	SpanA  float64
	SpanB  float64
}

// Ichimoku computes the cloud lines at the last bar (no displacement).
func Ichimoku(klines []market.Kline, tenkan, kijun, spanB int) IchimokuResult {
	nan := IchimokuResult{Tenkan: math.NaN(), Kijun: math.NaN(), SpanA: math.NaN(), SpanB: math.NaN()}
	if len(klines) < spanB {
		return nan
	}
	t := midpoint(klines, tenkan)
	k := midpoint(klines, kijun)
	b := midpoint(klines, spanB)
	return IchimokuResult{Tenkan: t, Kijun: k, SpanA: (t + k) / 2, SpanB: b}
}

func midpoint(klines []market.Kline, period int) float64 {
	if len(klines) < period {
		return math.NaN()
	}
	window := klines[len(klines)-period:]
	hi, lo := window[0].High, window[0].Low
	for _, kl := range window {
		hi = math.Max(hi, kl.High)
		lo = math.Min(lo, kl.Low)
	}
	return (hi + lo) / 2
}

// ===== VWAP =====

// VWAP returns the cumulative typical-price VWAP over the series.
func VWAP(klines []market.Kline) float64 {
	if len(klines) == 0 {
		return math.NaN()
	}
	var pv, vol float64
	for _, k := range klines {
		typical := (k.High + k.Low + k.Close) / 3
		pv += typical * k.Volume
		vol += k.Volume
	}
	if vol == 0 {
		return math.NaN()
	}
	return pv / vol
}

// ===== VOLUME =====

// VolumeRatio returns last-bar volume over the SMA of volume for period bars.
func VolumeRatio(klines []market.Kline, period int) float64 {
	if len(klines) < period+1 || period <= 0 {
		return math.NaN()
	}
	var sum float64
	for _, k := range klines[len(klines)-period-1 : len(klines)-1] {
		sum += k.Volume
	}
	mean := sum / float64(period)
	if mean == 0 {
		return math.NaN()
	}
	return klines[len(klines)-1].Volume / mean
}
