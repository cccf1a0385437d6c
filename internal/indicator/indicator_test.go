package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexc-futures-engine/internal/market"
)

func barsFromCloses(closes ...float64) []market.Kline {
	out := make([]market.Kline, len(closes))
	for i, c := range closes {
		out[i] = market.Kline{Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return out
}

func TestSMA(t *testing.T) {
	klines := barsFromCloses(1, 2, 3, 4, 5)
	assert.InDelta(t, 3.0, SMA(klines, 5), 1e-9)
	assert.InDelta(t, 4.0, SMA(klines, 3), 1e-9)
	assert.True(t, math.IsNaN(SMA(klines, 6)))
}

func TestEMASeriesSeededWithSMA(t *testing.T) {
	klines := barsFromCloses(1, 2, 3, 4, 5)
	series := EMASeries(klines, 3)
	require.Len(t, series, 5)

	assert.True(t, math.IsNaN(series[0]))
	assert.True(t, math.IsNaN(series[1]))
	assert.InDelta(t, 2.0, series[2], 1e-9) // SMA seed
	assert.InDelta(t, 3.0, series[3], 1e-9) // alpha 0.5
	assert.InDelta(t, 4.0, series[4], 1e-9)
	assert.InDelta(t, 4.0, EMA(klines, 3), 1e-9)
}

func TestRSIExtremes(t *testing.T) {
	rising := barsFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16)
	assert.InDelta(t, 100.0, RSI(rising, 14), 1e-9)

	falling := barsFromCloses(16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	assert.InDelta(t, 0.0, RSI(falling, 14), 1e-9)

	short := barsFromCloses(1, 2, 3)
	assert.True(t, math.IsNaN(RSI(short, 14)))
}

func TestATRConstantRange(t *testing.T) {
	klines := make([]market.Kline, 20)
	for i := range klines {
		klines[i] = market.Kline{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	}
	assert.InDelta(t, 2.0, ATR(klines, 14), 1e-9)
}

func TestBollingerFlatSeries(t *testing.T) {
	klines := barsFromCloses(100, 100, 100, 100, 100, 100, 100, 100, 100, 100,
		100, 100, 100, 100, 100, 100, 100, 100, 100, 100)
	bb := Bollinger(klines, 20, 2)
	assert.InDelta(t, 100.0, bb.Middle, 1e-9)
	assert.InDelta(t, 100.0, bb.Upper, 1e-9)
	assert.InDelta(t, 0.0, bb.Bandwidth, 1e-9)
}

func TestOBVSeries(t *testing.T) {
	klines := []market.Kline{
		{Close: 10, Volume: 100},
		{Close: 11, Volume: 50}, // up: +50
		{Close: 10, Volume: 30}, // down: -30
		{Close: 10, Volume: 99}, // flat: unchanged
	}
	obv := OBVSeries(klines)
	require.Len(t, obv, 4)
	assert.InDelta(t, 50.0, obv[1], 1e-9)
	assert.InDelta(t, 20.0, obv[2], 1e-9)
	assert.InDelta(t, 20.0, obv[3], 1e-9)
}

func TestVWAP(t *testing.T) {
	klines := []market.Kline{
		{High: 12, Low: 8, Close: 10, Volume: 10}, // typical 10
		{High: 22, Low: 18, Close: 20, Volume: 30}, // typical 20
	}
	// (10*10 + 20*30) / 40 = 17.5
	assert.InDelta(t, 17.5, VWAP(klines), 1e-9)
}

func TestVolumeRatioExcludesCurrentBar(t *testing.T) {
	klines := make([]market.Kline, 21)
	for i := range klines {
		klines[i] = market.Kline{Close: 100, Volume: 100}
	}
	klines[20].Volume = 250
	assert.InDelta(t, 2.5, VolumeRatio(klines, 20), 1e-9)
}

func TestVolumeRatioInsufficientHistory(t *testing.T) {
	klines := barsFromCloses(1, 2, 3)
	assert.True(t, math.IsNaN(VolumeRatio(klines, 20)))
}

func TestIchimokuMidpoints(t *testing.T) {
	klines := make([]market.Kline, 60)
	for i := range klines {
		klines[i] = market.Kline{Open: 100, High: 110, Low: 90, Close: 100, Volume: 1}
	}
	ich := Ichimoku(klines, 9, 26, 52)
	assert.InDelta(t, 100.0, ich.Tenkan, 1e-9)
	assert.InDelta(t, 100.0, ich.Kijun, 1e-9)
	assert.InDelta(t, 100.0, ich.SpanA, 1e-9)
	assert.InDelta(t, 100.0, ich.SpanB, 1e-9)
}

func TestRecentSwingExcludesCurrentBar(t *testing.T) {
	klines := make([]market.Kline, 12)
	for i := range klines {
		klines[i] = market.Kline{Open: 100, High: 105, Low: 95, Close: 100}
	}
	// Current bar has an extreme low that must not count as the swing.
	klines[11].Low = 50
	klines[11].High = 150
	klines[5].Low = 90
	klines[6].High = 112

	low, high := RecentSwing(klines, 10)
	assert.InDelta(t, 90.0, low, 1e-9)
	assert.InDelta(t, 112.0, high, 1e-9)
}

func TestMarketStructureUptrend(t *testing.T) {
	// Rising zigzag: higher highs and higher lows.
	var klines []market.Kline
	base := 100.0
	for i := 0; i < 40; i++ {
		level := base + float64(i)
		wave := 3.0 * math.Sin(float64(i))
		px := level + wave
		klines = append(klines, market.Kline{
			Open: px, High: px + 1.5, Low: px - 1.5, Close: px, Volume: 10,
		})
	}
	st := MarketStructure(klines, 30)
	assert.Equal(t, "bullish", st.Trend)
}
