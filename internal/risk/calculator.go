// Package risk derives stop, take-profit ladder and leverage from an entry
// price, the current ATR and the mode configuration.
package risk

import (
	"math"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/indicator"
	"mexc-futures-engine/internal/market"
)

// Plan is the computed exit ladder for one candidate trade.
type Plan struct {
	StopLoss   float64
	TP1        float64
	TP2        float64
	TP3        float64
	SLDistance float64
	RiskPct    float64
	Leverage   int
	RRRatio    float64

	TP1ClosePct float64
	TP2ClosePct float64
	TP3ClosePct float64
}

// Compute builds the Plan. klines are the analysis-timeframe bars used for
// the structural stop.
func Compute(entry float64, direction string, atr float64, klines []market.Kline, mode *config.ModeConfig) Plan {
	var plan Plan
	if entry <= 0 || math.IsNaN(atr) || atr <= 0 {
		return plan
	}

	distance := stopDistance(entry, direction, atr, klines, mode.StopLoss)

	// Cap by the configured maximum stop percentage.
	maxDistance := entry * mode.StopLoss.MaxStopPct / 100
	if distance > maxDistance {
		distance = maxDistance
	}

	sign := 1.0
	if direction == "short" {
		sign = -1.0
	}

	plan.SLDistance = distance
	plan.StopLoss = entry - sign*distance
	plan.TP1 = entry + sign*distance*mode.TakeProfit.TP1RR
	plan.TP2 = entry + sign*distance*mode.TakeProfit.TP2RR
	plan.TP3 = entry + sign*distance*mode.TakeProfit.TP3RR
	plan.RiskPct = distance / entry * 100
	plan.Leverage = leverageFor(plan.RiskPct, mode.Risk)

	// Degenerate TP1 (zero stop distance) yields rr 0 explicitly.
	if plan.TP1 == entry {
		plan.RRRatio = 0
	} else {
		plan.RRRatio = math.Abs(plan.TP1-entry) / distance
	}

	plan.TP1ClosePct = mode.TakeProfit.TP1ClosePct
	plan.TP2ClosePct = mode.TakeProfit.TP2ClosePct
	plan.TP3ClosePct = mode.TakeProfit.TP3ClosePct
	return plan
}

func stopDistance(entry float64, direction string, atr float64, klines []market.Kline, cfg config.StopLossConfig) float64 {
	if cfg.Method == "structural" && len(klines) > 2 {
		low, high := indicator.RecentSwing(klines, 10)
		buffer := cfg.BufferATR * atr
		var distance float64
		if direction == "long" {
			distance = entry - (low - buffer)
		} else {
			distance = (high + buffer) - entry
		}
		// A swing level on the wrong side collapses to the ATR floor.
		floor := 0.5 * atr
		if distance < floor {
			distance = floor
		}
		return distance
	}
	return atr * cfg.ATRMultiplier
}

// leverageFor interpolates within [LeverageMin, LeverageMax]: tight stops
// afford the max, stops at or past 1% fall to the min.
func leverageFor(stopPct float64, cfg config.ModeRiskConfig) int {
	switch {
	case stopPct <= 0.2:
		return cfg.LeverageMax
	case stopPct >= 1.0:
		return cfg.LeverageMin
	default:
		span := float64(cfg.LeverageMax - cfg.LeverageMin)
		frac := (1.0 - stopPct) / 0.8
		return cfg.LeverageMin + int(math.Round(span*frac))
	}
}
