package signal

import (
	"fmt"
	"math"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/indicator"
)

// Setup is a detected entry opportunity.
type Setup struct {
	Type         string
	Direction    string
	EntryPrice   float64
	PatternScore int
	VolScore     int
	Reason       string
	KeyLevel     float64

	ConfluenceScore int
	FiredDetectors  []string

	CandleModifier int
	CandlePattern  string
	Confirmed      bool
}

// Score is the detector strength used to pick the best setup.
func (s *Setup) ScoreSum() int { return s.PatternScore + s.VolScore }

// EvaluateEntry runs every allowed detector for the candidate directions and
// keeps the strongest setup, then applies candle confirmation.
func EvaluateEntry(set *indicator.Set, bias string, allowed []string, cfg config.EntryConfig) *Setup {
	directions := []string{bias}
	if bias == "neutral" {
		directions = []string{"long", "short"}
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = true
	}

	var best *Setup
	var fired []string
	for _, dir := range directions {
		candidates := []*Setup{}
		if allowedSet["breakout"] {
			candidates = append(candidates, detectBreakout(set, dir, cfg))
		}
		if allowedSet["retest"] {
			candidates = append(candidates, detectRetest(set, dir, cfg))
		}
		if allowedSet["divergence"] {
			candidates = append(candidates, detectDivergence(set, dir))
		}
		if allowedSet["ema_bounce"] {
			candidates = append(candidates, detectEMABounce(set, dir, cfg))
		}
		if allowedSet["momentum"] {
			candidates = append(candidates, detectMomentum(set, dir))
		}
		for _, c := range candidates {
			if c == nil {
				continue
			}
			fired = append(fired, c.Type)
			if best == nil || c.ScoreSum() > best.ScoreSum() {
				best = c
			}
		}
	}
	if best == nil {
		return nil
	}

	best.FiredDetectors = fired
	switch {
	case len(fired) >= 3:
		best.ConfluenceScore = 25
	case len(fired) == 2:
		best.ConfluenceScore = 15
	case len(fired) == 1:
		best.ConfluenceScore = 5
	}

	confirmEntry(set, best)
	return best
}

// confirmEntry applies the candle-context veto and modifier to the chosen
// setup.
func confirmEntry(set *indicator.Set, s *Setup) {
	ctx := indicator.BuildCandleContext(set.Klines, s.Direction)
	s.CandlePattern = ctx.Pattern

	if ctx.BigCandleAgainst {
		s.Confirmed = false
		s.Reason += fmt.Sprintf("; rejected by big candle %s", ctx.BigCandleSide)
		return
	}
	s.Confirmed = true

	modifier := 0
	confirming := (s.Direction == "long" && ctx.PatternBias == "bullish") ||
		(s.Direction == "short" && ctx.PatternBias == "bearish")
	contradicting := (s.Direction == "long" && ctx.PatternBias == "bearish") ||
		(s.Direction == "short" && ctx.PatternBias == "bullish")

	against := (s.Direction == "long" && ctx.LastDirection == "down") ||
		(s.Direction == "short" && ctx.LastDirection == "up")

	switch {
	case contradicting:
		modifier -= 15
	case confirming:
		modifier += 8
	}
	if ctx.Pattern == "doji" {
		modifier -= 5
	}
	if against && ctx.LastBodyRatio > 0.4 {
		modifier -= 10
	}
	if against && ctx.Consecutive >= 3 {
		modifier -= 10
	}

	if modifier < -15 {
		modifier = -15
	}
	if modifier > 8 {
		modifier = 8
	}
	s.CandleModifier = modifier
}

func detectBreakout(set *indicator.Set, dir string, cfg config.EntryConfig) *Setup {
	if math.IsNaN(set.BB.Bandwidth) || math.IsNaN(set.VolumeRatio) {
		return nil
	}
	if set.BB.Bandwidth > cfg.BBSqueezeThreshold || set.VolumeRatio < cfg.VolumeSpikeRatio {
		return nil
	}
	price := set.LastClose()
	if dir == "long" && price <= set.BB.Upper {
		return nil
	}
	if dir == "short" && price >= set.BB.Lower {
		return nil
	}

	pattern := int((set.VolumeRatio-cfg.VolumeSpikeRatio)/cfg.VolumeSpikeRatio*30) + 15
	if pattern > 30 {
		pattern = 30
	}
	vol := int(set.VolumeRatio / cfg.VolumeSpikeRatio * 10)
	if vol > 20 {
		vol = 20
	}

	// Confirmations: OBV trend and MACD histogram in the breakout direction.
	if n := len(set.OBV); n >= 6 {
		obvRising := set.OBV[n-1] > set.OBV[n-6]
		if (dir == "long" && obvRising) || (dir == "short" && !obvRising) {
			pattern += 5
		}
	}
	if !math.IsNaN(set.MACD.Histogram) {
		if (dir == "long" && set.MACD.Histogram > 0) || (dir == "short" && set.MACD.Histogram < 0) {
			pattern += 5
		}
	}

	return &Setup{
		Type:         "breakout",
		Direction:    dir,
		EntryPrice:   price,
		PatternScore: pattern,
		VolScore:     vol,
		Reason:       fmt.Sprintf("BB squeeze %.2f%% + volume spike %.1fx", set.BB.Bandwidth, set.VolumeRatio),
	}
}

func detectRetest(set *indicator.Set, dir string, cfg config.EntryConfig) *Setup {
	if len(set.Klines) < 21 {
		return nil
	}
	price := set.LastClose()
	low20, high20 := indicator.RecentSwing(set.Klines, 20)
	last := set.Klines[len(set.Klines)-1]
	body := math.Abs(last.Close - last.Open)

	var level float64
	var wick float64
	if dir == "long" {
		level = low20
		wick = math.Min(last.Open, last.Close) - last.Low
	} else {
		level = high20
		wick = last.High - math.Max(last.Open, last.Close)
	}
	if math.IsNaN(level) || level == 0 {
		return nil
	}
	if math.Abs(price-level)/level*100 > cfg.RetestBufferPct {
		return nil
	}
	if body == 0 || wick <= cfg.RejectionWickRatio*body {
		return nil
	}

	pattern := 20
	if dir == "long" && set.Stoch.K < 20 {
		pattern += 5
	}
	if dir == "short" && set.Stoch.K > 80 {
		pattern += 5
	}
	if !math.IsNaN(set.VWAP) && set.VWAP != 0 && math.Abs(price-set.VWAP)/set.VWAP*100 < 0.3 {
		pattern += 5
	}

	vol := 5
	if set.VolumeRatio >= 1.0 {
		vol = 10
	}

	return &Setup{
		Type:         "retest",
		Direction:    dir,
		EntryPrice:   price,
		PatternScore: pattern,
		VolScore:     vol,
		KeyLevel:     level,
		Reason:       fmt.Sprintf("Retest of %.6g with rejection wick", level),
	}
}

func detectDivergence(set *indicator.Set, dir string) *Setup {
	if !set.Divergence.Any(dir) {
		return nil
	}
	pattern := 22
	if set.Divergence.Double(dir) {
		pattern += 8
	}
	kind := "RSI"
	if dir == "long" && set.Divergence.MACDBullish {
		kind = "MACD"
	}
	if dir == "short" && set.Divergence.MACDBearish {
		kind = "MACD"
	}
	if set.Divergence.Double(dir) {
		kind = "RSI+MACD"
	}
	return &Setup{
		Type:         "divergence",
		Direction:    dir,
		EntryPrice:   set.LastClose(),
		PatternScore: pattern,
		VolScore:     10,
		Reason:       fmt.Sprintf("%s divergence", kind),
	}
}

func detectEMABounce(set *indicator.Set, dir string, cfg config.EntryConfig) *Setup {
	if math.IsNaN(set.EMA20) || math.IsNaN(set.EMA50) || set.EMA20 == 0 {
		return nil
	}
	price := set.LastClose()
	if math.Abs(price-set.EMA20)/set.EMA20*100 > cfg.EMABounceProximityPct {
		return nil
	}
	if dir == "long" && set.EMA20 <= set.EMA50 {
		return nil
	}
	if dir == "short" && set.EMA20 >= set.EMA50 {
		return nil
	}

	engulf := indicator.Engulfing(set.Klines)
	pin := indicator.PinBar(set.Klines)
	want := "bullish"
	if dir == "short" {
		want = "bearish"
	}
	if engulf != want && pin != want {
		return nil
	}

	pattern := 25
	// Ichimoku cloud side.
	if !math.IsNaN(set.Ichimoku.SpanA) && !math.IsNaN(set.Ichimoku.SpanB) {
		cloudTop := math.Max(set.Ichimoku.SpanA, set.Ichimoku.SpanB)
		cloudBot := math.Min(set.Ichimoku.SpanA, set.Ichimoku.SpanB)
		if (dir == "long" && price > cloudTop) || (dir == "short" && price < cloudBot) {
			pattern += 5
		}
	}
	if !math.IsNaN(set.VWAP) && set.VWAP != 0 && math.Abs(price-set.VWAP)/set.VWAP*100 < 0.3 {
		pattern += 3
	}

	return &Setup{
		Type:         "ema_bounce",
		Direction:    dir,
		EntryPrice:   price,
		PatternScore: pattern,
		VolScore:     8,
		KeyLevel:     set.EMA20,
		Reason:       fmt.Sprintf("EMA20 bounce with %s confirmation", want),
	}
}

func detectMomentum(set *indicator.Set, dir string) *Setup {
	if math.IsNaN(set.ADX.ADX) || set.ADX.ADX < 20 || math.IsNaN(set.RSI) {
		return nil
	}
	price := set.LastClose()

	if dir == "long" {
		if set.RSI <= 65 || set.ADX.PlusDI <= set.ADX.MinusDI {
			return nil
		}
		if !(price > set.EMA20 && set.EMA20 > set.EMA50) {
			return nil
		}
	} else {
		if set.RSI >= 35 || set.ADX.MinusDI <= set.ADX.PlusDI {
			return nil
		}
		if !(price < set.EMA20 && set.EMA20 < set.EMA50) {
			return nil
		}
	}

	pattern := 20
	if set.RSI > 75 || set.RSI < 25 {
		pattern += 5
	}
	if set.ADX.ADX >= 30 {
		pattern += 5
	}
	if (dir == "long" && set.MACD.Histogram > 0) || (dir == "short" && set.MACD.Histogram < 0) {
		pattern += 3
	}

	vol := int(set.VolumeRatio * 5)
	if vol > 10 {
		vol = 10
	}
	if vol < 0 || math.IsNaN(set.VolumeRatio) {
		vol = 0
	}

	return &Setup{
		Type:         "momentum",
		Direction:    dir,
		EntryPrice:   price,
		PatternScore: pattern,
		VolScore:     vol,
		Reason:       fmt.Sprintf("Momentum ADX %.1f RSI %.1f", set.ADX.ADX, set.RSI),
	}
}
