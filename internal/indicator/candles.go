package indicator

import (
	"math"

	"mexc-futures-engine/internal/market"
)

// ===== CANDLE PATTERNS =====
// Each detector looks at the last one or two bars and returns "bullish",
// "bearish" or "none".

func Engulfing(klines []market.Kline) string {
	if len(klines) < 2 {
		return "none"
	}
	prev, cur := klines[len(klines)-2], klines[len(klines)-1]
	prevBody := math.Abs(prev.Close - prev.Open)
	curBody := math.Abs(cur.Close - cur.Open)
	if curBody <= prevBody {
		return "none"
	}
	if prev.Close < prev.Open && cur.Close > cur.Open && cur.Close >= prev.Open && cur.Open <= prev.Close {
		return "bullish"
	}
	if prev.Close > prev.Open && cur.Close < cur.Open && cur.Close <= prev.Open && cur.Open >= prev.Close {
		return "bearish"
	}
	return "none"
}

// PinBar fires when one wick is longer than twice the body and twice the
// opposite wick.
func PinBar(klines []market.Kline) string {
	if len(klines) == 0 {
		return "none"
	}
	k := klines[len(klines)-1]
	body := math.Abs(k.Close - k.Open)
	if body == 0 {
		return "none"
	}
	upper := k.High - math.Max(k.Open, k.Close)
	lower := math.Min(k.Open, k.Close) - k.Low
	if lower > 2*body && lower > 2*upper {
		return "bullish"
	}
	if upper > 2*body && upper > 2*lower {
		return "bearish"
	}
	return "none"
}

// Doji fires when the body is under 10% of the full range.
func Doji(klines []market.Kline) bool {
	if len(klines) == 0 {
		return false
	}
	k := klines[len(klines)-1]
	rng := k.High - k.Low
	if rng == 0 {
		return false
	}
	return math.Abs(k.Close-k.Open)/rng < 0.10
}

func Hammer(klines []market.Kline) string {
	if len(klines) == 0 {
		return "none"
	}
	k := klines[len(klines)-1]
	body := math.Abs(k.Close - k.Open)
	rng := k.High - k.Low
	if rng == 0 || body == 0 {
		return "none"
	}
	lower := math.Min(k.Open, k.Close) - k.Low
	upper := k.High - math.Max(k.Open, k.Close)
	if lower >= 2*body && upper <= body {
		return "bullish"
	}
	return "none"
}

func ShootingStar(klines []market.Kline) string {
	if len(klines) == 0 {
		return "none"
	}
	k := klines[len(klines)-1]
	body := math.Abs(k.Close - k.Open)
	rng := k.High - k.Low
	if rng == 0 || body == 0 {
		return "none"
	}
	lower := math.Min(k.Open, k.Close) - k.Low
	upper := k.High - math.Max(k.Open, k.Close)
	if upper >= 2*body && lower <= body {
		return "bearish"
	}
	return "none"
}

// ===== CANDLE CONTEXT =====

// CandleContext summarises the recent candles around the current price for
// entry confirmation.
type CandleContext struct {
	// BigCandleAgainst is set when a large (>1.5x average range) candle of
	// the opposite color straddles the current price.
	BigCandleAgainst bool
	BigCandleSide    string // "resistance" or "support" when set

	LastDirection  string  // "up", "down", "flat"
	LastBodyRatio  float64 // body / range of the last candle
	Consecutive    int     // same-direction run ending at the last candle, capped at 10
	Pattern        string  // strongest detected pattern name, "" when none
	PatternBias    string  // bullish / bearish / ""
}

const (
	bigCandleMult     = 1.5
	bigCandleLookback = 10
	rangeAvgLookback  = 20
	maxConsecutive    = 10
)

// BuildCandleContext inspects the last bars relative to a candidate entry
// direction ("long" or "short").
func BuildCandleContext(klines []market.Kline, direction string) CandleContext {
	var ctx CandleContext
	if len(klines) < 3 {
		return ctx
	}

	price := klines[len(klines)-1].Close

	// Average range over the tail for the big-candle threshold.
	start := len(klines) - rangeAvgLookback
	if start < 0 {
		start = 0
	}
	var avgRange float64
	for _, k := range klines[start:] {
		avgRange += k.High - k.Low
	}
	avgRange /= float64(len(klines) - start)

	// Big opposite-color candle straddling the current price.
	from := len(klines) - bigCandleLookback
	if from < 0 {
		from = 0
	}
	for _, k := range klines[from:] {
		if k.High-k.Low < bigCandleMult*avgRange || avgRange == 0 {
			continue
		}
		if k.Low > price || k.High < price {
			continue
		}
		bearish := k.Close < k.Open
		if direction == "long" && bearish {
			ctx.BigCandleAgainst = true
			ctx.BigCandleSide = "resistance"
		}
		if direction == "short" && !bearish {
			ctx.BigCandleAgainst = true
			ctx.BigCandleSide = "support"
		}
	}

	last := klines[len(klines)-1]
	rng := last.High - last.Low
	if rng > 0 {
		ctx.LastBodyRatio = math.Abs(last.Close-last.Open) / rng
	}
	switch {
	case last.Close > last.Open:
		ctx.LastDirection = "up"
	case last.Close < last.Open:
		ctx.LastDirection = "down"
	default:
		ctx.LastDirection = "flat"
	}

	for i := len(klines) - 1; i >= 0 && ctx.Consecutive < maxConsecutive; i-- {
		k := klines[i]
		var dir string
		switch {
		case k.Close > k.Open:
			dir = "up"
		case k.Close < k.Open:
			dir = "down"
		default:
			dir = "flat"
		}
		if dir != ctx.LastDirection || dir == "flat" {
			break
		}
		ctx.Consecutive++
	}

	if p := Engulfing(klines); p != "none" {
		ctx.Pattern, ctx.PatternBias = "engulfing", p
	} else if p := Hammer(klines); p != "none" {
		ctx.Pattern, ctx.PatternBias = "hammer", p
	} else if p := ShootingStar(klines); p != "none" {
		ctx.Pattern, ctx.PatternBias = "shooting_star", p
	} else if p := PinBar(klines); p != "none" {
		ctx.Pattern, ctx.PatternBias = "pin_bar", p
	} else if Doji(klines) {
		ctx.Pattern = "doji"
	}
	return ctx
}
