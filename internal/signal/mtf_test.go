package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/internal/indicator"
)

func mtfSet(trend string, rsi, adx float64) *indicator.Set {
	return &indicator.Set{
		Structure: indicator.StructureResult{Trend: trend},
		RSI:       rsi,
		ADX:       indicator.ADXResult{ADX: adx},
	}
}

func TestMTFConfluenceFullAgreement(t *testing.T) {
	analysis := mtfSet("bullish", 62, 26)
	filter := mtfSet("bullish", 58, 24)
	assert.InDelta(t, 15.0, MTFConfluence(analysis, filter, "long"), 1e-9)
}

func TestMTFConfluenceFullDisagreement(t *testing.T) {
	analysis := mtfSet("bearish", 42, 12)
	filter := mtfSet("bearish", 40, 14)
	assert.InDelta(t, -15.0, MTFConfluence(analysis, filter, "long"), 1e-9)
}

func TestMTFConfluenceShortSideSymmetry(t *testing.T) {
	analysis := mtfSet("bearish", 38, 28)
	filter := mtfSet("bearish", 44, 22)
	assert.InDelta(t, 15.0, MTFConfluence(analysis, filter, "short"), 1e-9)
}

func TestMTFConfluenceNeutralFrames(t *testing.T) {
	// A neutral filter trend neither confirms nor opposes; split RSI sides
	// and mixed ADX regimes contribute nothing.
	analysis := mtfSet("bullish", 60, 25)
	filter := mtfSet("neutral", 45, 15)
	assert.InDelta(t, 0.0, MTFConfluence(analysis, filter, "long"), 1e-9)
}

func TestMTFConfluenceSkipsMissingRSI(t *testing.T) {
	analysis := mtfSet("bullish", math.NaN(), 26)
	filter := mtfSet("bullish", 60, 24)
	assert.InDelta(t, 10.0, MTFConfluence(analysis, filter, "long"), 1e-9) // structure +6, adx +4
}
