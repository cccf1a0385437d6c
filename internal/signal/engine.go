package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/indicator"
	"mexc-futures-engine/internal/market"
	"mexc-futures-engine/internal/risk"
	"mexc-futures-engine/internal/sentiment"
)

// Engine runs the full pipeline for one bot version. Dependencies are
// injected; the learner hooks are nil for V1-V3.
type Engine struct {
	bot         *config.BotConfig
	sentiment   *sentiment.Provider
	modifiers   ModifierSource
	setupFilter SetupFilter
	log         zerolog.Logger
}

func NewEngine(bot *config.BotConfig, sent *sentiment.Provider, modifiers ModifierSource, setupFilter SetupFilter, log zerolog.Logger) *Engine {
	return &Engine{
		bot:         bot,
		sentiment:   sent,
		modifiers:   modifiers,
		setupFilter: setupFilter,
		log:         log,
	}
}

// Analyze evaluates one (symbol, mode) and returns either a tradable signal
// or a no_trade verdict. It never returns nil.
func (e *Engine) Analyze(ctx context.Context, snap *market.Snapshot, mode string) *Signal {
	modeCfg, ok := e.bot.Modes[mode]
	if !ok {
		return e.noTrade(snap.Symbol, mode, "UNKNOWN-MODE", 0, nil)
	}

	analysisTF := modeCfg.Timeframes.Analysis[0]
	filterTF := modeCfg.Timeframes.Filter
	aKlines, aOK := snap.Klines[analysisTF]
	fKlines, fOK := snap.Klines[filterTF]
	if !aOK || !fOK || len(aKlines) == 0 || len(fKlines) == 0 {
		return e.noTrade(snap.Symbol, mode, "MISSING-DATA", 0, nil)
	}

	analysis := indicator.Compute(aKlines, e.bot.Direction.StructureLookback)
	filter := indicator.Compute(fKlines, e.bot.Direction.StructureLookback)

	// Layer 1: tradeability on the analysis timeframe.
	trad := EvaluateTradeability(TradeabilityInput{
		ATRRatio:           analysis.ATRRatio(),
		VolumeRatio:        analysis.VolumeRatio,
		SpreadPct:          snap.Ticker.SpreadPct,
		BidDepthUSD:        snap.OrderBook.BidDepthUSD,
		AskDepthUSD:        snap.OrderBook.AskDepthUSD,
		OrderBookAvailable: snap.OrderBook.Available,
		FundingPct:         snap.Funding.RatePct,
		OIChangePct:        snap.OI.ChangePct,
		ADX:                analysis.ADX.ADX,
		OrderFlowRatio:     snap.OrderFlowRatio,
		OrderFlowVolume:    snap.OrderFlowVolume,
		Mode:               mode,
	}, e.bot.Tradeability, e.bot.IsV4())
	if !trad.Tradable {
		reasons := trad.Reasons
		if trad.KillReason != "" {
			reasons = append([]string{trad.KillReason}, reasons...)
		}
		return e.noTrade(snap.Symbol, mode, "NON-TRADABLE", trad.Score, reasons)
	}

	// Layer 2: direction on the filter timeframe.
	dir := EvaluateDirection(filter, e.bot.Direction)
	if dir.Bias == "neutral" {
		if mode == "swing" && !e.bot.SwingNeutralAllowed {
			return e.noTrade(snap.Symbol, mode, "NEUTRAL-DIRECTION", trad.Score, dir.Reasons)
		}
		dir.Score /= 2
	}

	// V4: classify the regime up front; MTF follows once the trade
	// direction is known.
	var regime Regime
	if e.bot.IsV4() {
		regime = DetectRegime(analysis)
	}

	// Legacy learner removes disabled setups for this combo.
	allowed := modeCfg.Entry.Setups
	if e.setupFilter != nil {
		allowed = e.setupFilter.FilterSetups(snap.Symbol, mode, allowed)
		if len(allowed) == 0 {
			return e.noTrade(snap.Symbol, mode, "ALL-SETUPS-DISABLED", trad.Score, nil)
		}
	}

	// Layer 3: entry detection with candle confirmation.
	setup := EvaluateEntry(analysis, dir.Bias, allowed, modeCfg.Entry)
	if setup == nil {
		return e.noTrade(snap.Symbol, mode, "NO-SETUP", trad.Score, nil)
	}
	if !setup.Confirmed {
		return e.noTrade(snap.Symbol, mode, "CANDLE-REJECT", trad.Score, []string{setup.Reason})
	}

	// Layer 4: sentiment scales the direction conviction.
	sent := e.sentiment.Get(ctx)
	dirScore := dir.Score * sentimentMultiplier(sent.Bias, setup.Direction)
	if dirScore > 100 {
		dirScore = 100
	}

	plan := risk.Compute(setup.EntryPrice, setup.Direction, analysis.ATR, aKlines, modeCfg)
	if plan.StopLoss == 0 {
		return e.noTrade(snap.Symbol, mode, "NO-RISK", trad.Score, nil)
	}

	rrScore := 0
	switch {
	case plan.RRRatio >= 2.0:
		rrScore = 25
	case plan.RRRatio >= 1.5:
		rrScore = 15
	}

	setupScore := float64(setup.PatternScore + setup.VolScore + rrScore + setup.ConfluenceScore + setup.CandleModifier)
	if e.bot.IsV4() {
		setupScore += float64(RegimeModifier(regime.Name, setup.Type, regime.Confidence))
	}
	if setupScore < 0 {
		setupScore = 0
	}

	weights := e.bot.Scoring.Weights[mode]
	normSent := (sent.Score + 100) / 2
	base := weights.Tradeability*trad.Score*100 +
		weights.Direction*dirScore +
		weights.Setup*setupScore +
		weights.Sentiment*normSent

	minScore := modeCfg.Entry.MinScore
	reasons := append([]string{setup.Reason}, dir.Reasons...)

	var final float64
	var mtf float64
	var learnMod float64
	if e.bot.IsV4() {
		// The gate applies to the base score BEFORE the modifiers so that
		// MTF/VWAP/learning boosts cannot push a weak setup past it.
		if base < minScore {
			return e.noTrade(snap.Symbol, mode, "LOW-SCORE", trad.Score,
				[]string{fmt.Sprintf("base score %.1f below minimum %.0f", base, minScore)})
		}
		mtf = MTFConfluence(analysis, filter, setup.Direction)
		vwapMod := vwapModifier(analysis, setup.Direction)
		if e.modifiers != nil {
			var learnReasons []string
			learnMod, learnReasons = e.modifiers.Modifier(Context{
				SetupType: setup.Type,
				Symbol:    snap.Symbol,
				Mode:      mode,
				Regime:    regime.Name,
				Direction: setup.Direction,
				Score:     base,
				MTFScore:  mtf,
				HourUTC:   time.Now().UTC().Hour(),
			})
			reasons = append(reasons, learnReasons...)
		}
		final = clampf(base+mtf+vwapMod+learnMod, 0, 100)
		if final < minScore {
			return e.noTrade(snap.Symbol, mode, "LOW-SCORE", trad.Score,
				[]string{fmt.Sprintf("adjusted score %.1f below minimum %.0f", final, minScore)})
		}
	} else {
		final = clampf(base, 0, 100)
		if final < minScore {
			return e.noTrade(snap.Symbol, mode, "LOW-SCORE", trad.Score,
				[]string{fmt.Sprintf("score %.1f below minimum %.0f", final, minScore)})
		}
	}

	sig := &Signal{
		ID:                uuid.NewString(),
		Type:              "signal",
		Symbol:            snap.Symbol,
		Mode:              mode,
		BotVersion:        e.bot.Version,
		CreatedAt:         time.Now().UTC(),
		Direction:         setup.Direction,
		Score:             final,
		EntryPrice:        setup.EntryPrice,
		StopLoss:          plan.StopLoss,
		TP1:               plan.TP1,
		TP2:               plan.TP2,
		TP3:               plan.TP3,
		SetupType:         setup.Type,
		Leverage:          plan.Leverage,
		RRRatio:           plan.RRRatio,
		TP1ClosePct:       plan.TP1ClosePct,
		TP2ClosePct:       plan.TP2ClosePct,
		TP3ClosePct:       plan.TP3ClosePct,
		Reasons:           reasons,
		TradeabilityScore: trad.Score,
		DirectionScore:    dirScore,
		SetupScore:        setupScore,
		SentimentScore:    sent.Score,
	}

	if e.bot.IsV4() {
		sig.RegimeSnapshot = &regime
		sig.MTFScore = mtf
		sig.CandlePattern = setup.CandlePattern
		sig.EntryATR = analysis.ATR
		sig.IndicatorSnapshot = indicatorSnapshot(analysis)
		sig.ScoresSnapshot = map[string]float64{
			"base":         base,
			"mtf":          mtf,
			"learning":     learnMod,
			"tradeability": trad.Score,
			"direction":    dirScore,
			"setup":        setupScore,
			"sentiment":    sent.Score,
		}
	}

	e.log.Info().
		Str("symbol", snap.Symbol).
		Str("mode", mode).
		Str("direction", setup.Direction).
		Str("setup", setup.Type).
		Float64("score", final).
		Msg("signal emitted")
	return sig
}

func (e *Engine) noTrade(symbol, mode, reason string, tradScore float64, details []string) *Signal {
	return &Signal{
		ID:                uuid.NewString(),
		Type:              "no_trade",
		Symbol:            symbol,
		Mode:              mode,
		BotVersion:        e.bot.Version,
		CreatedAt:         time.Now().UTC(),
		Direction:         "none",
		Reason:            reason,
		Reasons:           details,
		TradeabilityScore: tradScore,
	}
}

func sentimentMultiplier(bias, direction string) float64 {
	if bias == "neutral" {
		return 1.0
	}
	aligned := (bias == "bullish" && direction == "long") || (bias == "bearish" && direction == "short")
	if aligned {
		return 1.3
	}
	return 0.6
}

// vwapModifier rewards being on the right side of VWAP and penalises the
// wrong side; price more than 3% away contributes nothing.
func vwapModifier(set *indicator.Set, direction string) float64 {
	if math.IsNaN(set.VWAP) || set.VWAP == 0 {
		return 0
	}
	price := set.LastClose()
	if math.Abs(price-set.VWAP)/set.VWAP*100 > 3.0 {
		return 0
	}
	rightSide := (direction == "long" && price > set.VWAP) || (direction == "short" && price < set.VWAP)
	if rightSide {
		return 5
	}
	return -5
}

func indicatorSnapshot(set *indicator.Set) map[string]float64 {
	snap := map[string]float64{
		"rsi":          set.RSI,
		"adx":          set.ADX.ADX,
		"atr":          set.ATR,
		"atr_ratio":    set.ATRRatio(),
		"bb_bandwidth": set.BB.Bandwidth,
		"ema20":        set.EMA20,
		"ema50":        set.EMA50,
		"macd_hist":    set.MACD.Histogram,
		"volume_ratio": set.VolumeRatio,
		"vwap":         set.VWAP,
	}
	for k, v := range snap {
		if math.IsNaN(v) {
			snap[k] = 0
		}
	}
	return snap
}
