package signal

import (
	"fmt"
	"math"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/indicator"
)

// DirectionResult is the higher-timeframe bias with its vote breakdown.
type DirectionResult struct {
	Bias    string // long, short, neutral
	Score   float64
	Votes   map[string]string // check name -> long/short/neutral
	Reasons []string
}

// EvaluateDirection runs the six higher-timeframe votes and maps the
// consensus to a score.
func EvaluateDirection(set *indicator.Set, cfg config.DirectionConfig) DirectionResult {
	res := DirectionResult{Bias: "neutral", Score: 40, Votes: make(map[string]string, 6)}
	price := set.LastClose()

	vote := func(name, dir, reason string) {
		res.Votes[name] = dir
		res.Reasons = append(res.Reasons, reason)
	}

	// 1. EMA fast vs slow with price on the same side.
	emaFast := indicator.EMA(set.Klines, cfg.EMAFast)
	emaSlow := indicator.EMA(set.Klines, cfg.EMASlow)
	emaVote := "neutral"
	if !math.IsNaN(emaFast) && !math.IsNaN(emaSlow) && emaSlow != 0 {
		spread := (emaFast - emaSlow) / emaSlow * 100
		if spread > cfg.EMANeutralThreshold && price > emaFast {
			emaVote = "long"
		} else if spread < -cfg.EMANeutralThreshold && price < emaFast {
			emaVote = "short"
		}
		vote("ema_cross", emaVote, fmt.Sprintf("EMA%d/%d spread %.2f%%", cfg.EMAFast, cfg.EMASlow, spread))
	} else {
		vote("ema_cross", emaVote, "EMA unavailable")
	}

	// 2. Market structure.
	structVote := "neutral"
	switch set.Structure.Trend {
	case "bullish":
		structVote = "long"
	case "bearish":
		structVote = "short"
	}
	vote("structure", structVote, fmt.Sprintf("Structure %s", set.Structure.Trend))

	// 3. RSI thresholds.
	rsiVote := "neutral"
	if !math.IsNaN(set.RSI) {
		if set.RSI > cfg.RSILongThreshold {
			rsiVote = "long"
		} else if set.RSI < cfg.RSIShortThreshold {
			rsiVote = "short"
		}
	}
	vote("rsi", rsiVote, fmt.Sprintf("RSI %.1f", set.RSI))

	// 4. MACD histogram sign.
	macdVote := "neutral"
	if !math.IsNaN(set.MACD.Histogram) {
		if set.MACD.Histogram > 0 {
			macdVote = "long"
		} else if set.MACD.Histogram < 0 {
			macdVote = "short"
		}
	}
	vote("macd", macdVote, fmt.Sprintf("MACD hist %.4f", set.MACD.Histogram))

	// 5. ADX with DI ordering; weak trends abstain.
	adxVote := "neutral"
	if !math.IsNaN(set.ADX.ADX) && set.ADX.ADX >= 20 {
		if set.ADX.PlusDI > set.ADX.MinusDI {
			adxVote = "long"
		} else if set.ADX.MinusDI > set.ADX.PlusDI {
			adxVote = "short"
		}
	}
	vote("adx", adxVote, fmt.Sprintf("ADX %.1f +DI %.1f -DI %.1f", set.ADX.ADX, set.ADX.PlusDI, set.ADX.MinusDI))

	// 6. Price vs EMA200.
	ema200Vote := "neutral"
	if !math.IsNaN(set.EMA200) {
		if price > set.EMA200 {
			ema200Vote = "long"
		} else if price < set.EMA200 {
			ema200Vote = "short"
		}
	}
	vote("ema200", ema200Vote, fmt.Sprintf("Price %.6g vs EMA200 %.6g", price, set.EMA200))

	long, short := 0, 0
	for _, v := range res.Votes {
		switch v {
		case "long":
			long++
		case "short":
			short++
		}
	}

	bias, aligned, opposite := "neutral", 0, 0
	if long > short {
		bias, aligned, opposite = "long", long, short
	} else if short > long {
		bias, aligned, opposite = "short", short, long
	}

	switch {
	case aligned >= 5:
		res.Bias, res.Score = bias, 100
	case aligned >= 4:
		res.Bias, res.Score = bias, 85
	case aligned >= 3 && opposite <= 1:
		res.Bias, res.Score = bias, 65
	default:
		res.Bias, res.Score = "neutral", 40
	}
	return res
}
