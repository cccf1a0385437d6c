package signal

import (
	"fmt"
	"math"

	"mexc-futures-engine/internal/indicator"
)

// Regime classifies the market as trending, ranging or volatile.
type Regime struct {
	Name       string  `json:"regime"`
	Confidence float64 `json:"confidence"`
	Details    string  `json:"details"`
	ATRRatio   float64 `json:"atr_ratio"`
}

// DetectRegime classifies from ADX, Bollinger bandwidth and the ATR ratio.
func DetectRegime(set *indicator.Set) Regime {
	adx := set.ADX.ADX
	if math.IsNaN(adx) {
		adx = 0
	}
	bw := set.BB.Bandwidth
	if math.IsNaN(bw) {
		bw = 0
	}
	atrRatio := set.ATRRatio()

	if atrRatio > 2.0 || bw > 5.0 {
		conf := math.Min(1.0, math.Max(atrRatio/3.0, bw/8.0))
		return Regime{
			Name:       "volatile",
			Confidence: round2(conf),
			Details:    fmt.Sprintf("ATR ratio %.2f, BB bw %.2f%%", atrRatio, bw),
			ATRRatio:   round3(atrRatio),
		}
	}
	if adx >= 25 && bw >= 1.5 {
		return Regime{
			Name:       "trending",
			Confidence: round2(math.Min(1.0, (adx-20)/30)),
			Details:    fmt.Sprintf("ADX %.1f, BB bw %.2f%%", adx, bw),
			ATRRatio:   round3(atrRatio),
		}
	}
	if adx < 20 && bw < 2.0 {
		return Regime{
			Name:       "ranging",
			Confidence: round2(math.Min(1.0, (20-adx)/15)),
			Details:    fmt.Sprintf("ADX %.1f, BB bw %.2f%%", adx, bw),
			ATRRatio:   round3(atrRatio),
		}
	}

	name := "ranging"
	if adx >= 22 {
		name = "trending"
	}
	return Regime{
		Name:       name,
		Confidence: 0.3,
		Details:    fmt.Sprintf("ADX %.1f, BB bw %.2f%% (mixed)", adx, bw),
		ATRRatio:   round3(atrRatio),
	}
}

// RegimeModifier returns the setup-score adjustment for a (regime, setup)
// pair, scaled by the detection confidence.
func RegimeModifier(regime, setupType string, confidence float64) int {
	base := 0
	switch regime {
	case "volatile":
		base = -5
	case "ranging":
		switch setupType {
		case "breakout":
			base = -5
		case "retest":
			base = 5
		}
	case "trending":
		switch setupType {
		case "breakout", "momentum":
			base = 8
		case "retest":
			base = 3
		}
	}
	conf := math.Min(1.0, math.Max(0.1, confidence))
	return int(float64(base) * conf)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
