package signal

import (
	"math"

	"mexc-futures-engine/internal/indicator"
)

// MTFConfluence measures agreement between the analysis and filter
// timeframes for the candidate direction. The result is bounded [-15, +15].
func MTFConfluence(analysis, filter *indicator.Set, direction string) float64 {
	score := 0.0

	// Structure agreement.
	want := "bullish"
	against := "bearish"
	if direction == "short" {
		want, against = "bearish", "bullish"
	}
	aTrend, fTrend := analysis.Structure.Trend, filter.Structure.Trend
	switch {
	case aTrend == want && fTrend == want:
		score += 6
	case aTrend == against || fTrend == against:
		score -= 6
	}

	// RSI on the same side of 50 as the trade direction, on both frames.
	if !math.IsNaN(analysis.RSI) && !math.IsNaN(filter.RSI) {
		aSide := analysis.RSI > 50
		fSide := filter.RSI > 50
		wantSide := direction == "long"
		switch {
		case aSide == wantSide && fSide == wantSide:
			score += 5
		case aSide != wantSide && fSide != wantSide:
			score -= 5
		}
	}

	// ADX regime agreement: both frames trending supports continuation
	// setups, both flat argues against.
	aADX, fADX := analysis.ADX.ADX, filter.ADX.ADX
	if !math.IsNaN(aADX) && !math.IsNaN(fADX) {
		switch {
		case aADX >= 20 && fADX >= 20:
			score += 4
		case aADX < 20 && fADX < 20:
			score -= 4
		}
	}

	if score > 15 {
		score = 15
	}
	if score < -15 {
		score = -15
	}
	return score
}
