package signal

import (
	"fmt"
	"math"

	"mexc-futures-engine/config"
)

// TradeabilityInput carries the per-symbol microstructure readings.
type TradeabilityInput struct {
	ATRRatio    float64
	VolumeRatio float64

	SpreadPct          float64
	BidDepthUSD        float64
	AskDepthUSD        float64
	OrderBookAvailable bool

	FundingPct  float64
	OIChangePct float64
	ADX         float64

	OrderFlowRatio  float64
	OrderFlowVolume float64

	Mode string
}

// TradeabilityResult is the aggregate verdict. A kill switch forces
// Tradable=false and Score=0 regardless of the weighted sum.
type TradeabilityResult struct {
	Tradable   bool
	Score      float64
	KillReason string
	Checks     map[string]float64
	Reasons    []string
}

// EvaluateTradeability runs every configured check and aggregates the
// weighted score. Checks score in [-1, 1]; -1 is a kill.
func EvaluateTradeability(in TradeabilityInput, cfg config.TradeabilityConfig, includeOrderFlow bool) TradeabilityResult {
	th := cfg.Thresholds
	res := TradeabilityResult{Checks: make(map[string]float64, 8)}

	add := func(name string, score float64, reason string) {
		res.Checks[name] = score
		if reason != "" {
			res.Reasons = append(res.Reasons, reason)
		}
	}

	// Volatility: triangular, peaking midway between the ATR ratio bounds.
	volScore := 0.0
	mid := (th.ATRMinRatio + th.ATRMaxRatio) / 2
	switch {
	case math.IsNaN(in.ATRRatio):
		volScore = 0.5
	case in.ATRRatio < th.ATRMinRatio:
		volScore = math.Max(0, in.ATRRatio/th.ATRMinRatio*0.3)
	case in.ATRRatio > th.ATRMaxRatio:
		volScore = 0.2
	default:
		volScore = 1 - math.Abs(in.ATRRatio-mid)/(mid-th.ATRMinRatio)*0.5
	}
	add("volatility", volScore, fmt.Sprintf("ATR ratio %.2f", in.ATRRatio))

	// Volume: linear from min ratio up to 2x average.
	vr := in.VolumeRatio
	if math.IsNaN(vr) {
		vr = 0
	}
	volumeScore := clampf((vr-th.VolumeMinRatio)/(2.0-th.VolumeMinRatio), 0, 1)
	add("volume", volumeScore, fmt.Sprintf("Volume ratio %.2f", vr))

	// Spread. The missing-orderbook sentinel maps to neutral before the kill
	// comparison.
	spreadMax := th.SpreadMax(in.Mode)
	var spreadScore float64
	switch {
	case in.SpreadPct >= 900:
		spreadScore = 0.7
		add("spread", spreadScore, "Spread unknown (no orderbook)")
	case in.SpreadPct >= th.SpreadKill:
		res.KillReason = fmt.Sprintf("Spread %.4f%% > %g%% KILL", in.SpreadPct, th.SpreadKill)
		add("spread", -1, res.KillReason)
	default:
		spreadScore = clampf(1-in.SpreadPct/spreadMax, 0, 1)
		add("spread", spreadScore, fmt.Sprintf("Spread %.4f%%", in.SpreadPct))
	}

	// Depth on the thinner side of the book.
	depth := math.Min(in.BidDepthUSD, in.AskDepthUSD)
	var depthScore float64
	switch {
	case !in.OrderBookAvailable || depth == 0:
		depthScore = 0.7
		add("depth", depthScore, "Depth unknown (no orderbook)")
	case depth < th.MinDepthUSD:
		depthScore = 0
		add("depth", depthScore, fmt.Sprintf("Depth $%.0f below minimum", depth))
	case depth >= 5*th.MinDepthUSD:
		depthScore = 1
		add("depth", depthScore, fmt.Sprintf("Depth $%.0f", depth))
	default:
		depthScore = (depth - th.MinDepthUSD) / (4 * th.MinDepthUSD)
		add("depth", depthScore, fmt.Sprintf("Depth $%.0f", depth))
	}

	// Funding.
	funding := math.Abs(in.FundingPct)
	switch {
	case funding >= th.FundingKill:
		kill := fmt.Sprintf("Funding %.4f%% > %g%% KILL", funding, th.FundingKill)
		if res.KillReason == "" {
			res.KillReason = kill
		}
		add("funding", -1, kill)
	case funding >= th.FundingMax:
		add("funding", 0, fmt.Sprintf("Funding %.4f%% elevated", funding))
	default:
		add("funding", 1-funding/th.FundingMax, fmt.Sprintf("Funding %.4f%%", funding))
	}

	// Open-interest stability.
	oiChange := in.OIChangePct
	var oiScore float64
	switch {
	case oiChange <= -th.OIDropMaxPct:
		oiScore = 0
	case math.Abs(oiChange) < 1:
		oiScore = 1
	default:
		oiScore = math.Max(0, 1-math.Abs(oiChange)/th.OIDropMaxPct)
	}
	add("oi", oiScore, fmt.Sprintf("OI change %.2f%%", oiChange))

	// Trend strength.
	var adxScore float64
	switch {
	case math.IsNaN(in.ADX):
		adxScore = 0.2
	case in.ADX >= 30:
		adxScore = 1.0
	case in.ADX >= 25:
		adxScore = 0.8
	case in.ADX >= 20:
		adxScore = 0.5
	default:
		adxScore = 0.2
	}
	add("adx", adxScore, fmt.Sprintf("ADX %.1f", in.ADX))

	// Order flow (V4): decisive imbalance is good, a perfectly balanced tape
	// is noise.
	if includeOrderFlow {
		var flowScore float64
		ratio := in.OrderFlowRatio
		switch {
		case in.OrderFlowVolume < 10:
			flowScore = 0.5
		case ratio > 0.65 || ratio < 0.35:
			flowScore = 1.0
		case ratio >= 0.45 && ratio <= 0.55:
			flowScore = 0.5
		default:
			flowScore = 0.7
		}
		add("order_flow", flowScore, fmt.Sprintf("Order flow %.0f%% buy", ratio*100))
	}

	if res.KillReason != "" {
		res.Tradable = false
		res.Score = 0
		return res
	}

	var total float64
	for name, weight := range cfg.Weights {
		if score, ok := res.Checks[name]; ok {
			total += weight * score
		}
	}
	res.Score = total
	res.Tradable = total >= cfg.MinScore
	return res
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
