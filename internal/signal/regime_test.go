package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/internal/indicator"
)

func regimeSet(adx, bandwidth, atr, atrMean float64) *indicator.Set {
	return &indicator.Set{
		ADX:     indicator.ADXResult{ADX: adx},
		BB:      indicator.BollingerResult{Bandwidth: bandwidth},
		ATR:     atr,
		ATRMean: atrMean,
	}
}

func TestDetectRegimeVolatile(t *testing.T) {
	r := DetectRegime(regimeSet(28, 1.0, 2.4, 1.0))
	assert.Equal(t, "volatile", r.Name)
	assert.InDelta(t, 0.8, r.Confidence, 1e-9) // atrRatio/3
	assert.InDelta(t, 2.4, r.ATRRatio, 1e-9)
}

func TestDetectRegimeTrending(t *testing.T) {
	r := DetectRegime(regimeSet(28, 2.0, 0, 0))
	assert.Equal(t, "trending", r.Name)
	assert.InDelta(t, 0.27, r.Confidence, 1e-9)
}

func TestDetectRegimeRanging(t *testing.T) {
	r := DetectRegime(regimeSet(15, 1.0, 0, 0))
	assert.Equal(t, "ranging", r.Name)
	assert.InDelta(t, 0.33, r.Confidence, 1e-9)
}

func TestDetectRegimeMixed(t *testing.T) {
	// ADX between the ranging and trending cutoffs falls through to the
	// low-confidence mixed classification.
	r := DetectRegime(regimeSet(23, 1.0, 0, 0))
	assert.Equal(t, "trending", r.Name)
	assert.InDelta(t, 0.3, r.Confidence, 1e-9)
	assert.Contains(t, r.Details, "mixed")

	r = DetectRegime(regimeSet(21, 3.0, 0, 0))
	assert.Equal(t, "ranging", r.Name)
	assert.InDelta(t, 0.3, r.Confidence, 1e-9)
}

func TestRegimeModifier(t *testing.T) {
	assert.Equal(t, 8, RegimeModifier("trending", "breakout", 1.0))
	assert.Equal(t, 7, RegimeModifier("trending", "momentum", 0.9))
	assert.Equal(t, 2, RegimeModifier("ranging", "retest", 0.5))
	assert.Equal(t, -5, RegimeModifier("ranging", "breakout", 1.0))
	assert.Equal(t, -5, RegimeModifier("volatile", "retest", 1.0))
	// Confidence floors at 0.1, so a tiny reading still cannot flip the sign.
	assert.Equal(t, 0, RegimeModifier("volatile", "retest", 0.04))
	assert.Equal(t, 0, RegimeModifier("trending", "divergence", 1.0))
}
