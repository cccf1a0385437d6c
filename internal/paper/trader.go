// Package paper executes signals against a simulated USD account. Admission
// runs a fixed gauntlet: breaker, exposure caps, fee viability, sizing,
// slippage, then margin reservation.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/circuit"
	"mexc-futures-engine/internal/correlation"
	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/metrics"
	"mexc-futures-engine/internal/monitor"
	"mexc-futures-engine/internal/signal"
)

const (
	fixedMarginUSD = 10.0 // V1-V3 margin per trade

	maxPositionsLegacy = 5
	dynamicCapFloor    = 2
	dynamicCapCeil     = 6

	maxSlippagePct = 0.5
)

// Trader admits signals into paper positions and settles them on close. It
// observes the monitor for closures.
type Trader struct {
	bot     *config.BotConfig
	db      *database.DB
	mon     *monitor.Monitor
	breaker *circuit.Breaker
	cache   *monitor.StateCache
	log     zerolog.Logger
}

func NewTrader(bot *config.BotConfig, db *database.DB, mon *monitor.Monitor, breaker *circuit.Breaker, cache *monitor.StateCache, log zerolog.Logger) *Trader {
	return &Trader{
		bot:     bot,
		db:      db,
		mon:     mon,
		breaker: breaker,
		cache:   cache,
		log:     log.With().Str("component", "paper").Logger(),
	}
}

// Execute runs the admission pipeline for one signal. signalID is the stored
// row the signal was persisted under, so the opened position links back to
// it. A false return with a nil error is an orderly rejection; the reason
// says why.
func (t *Trader) Execute(ctx context.Context, signalID int64, sig *signal.Signal, spreadPct float64) (bool, string, error) {
	if !sig.IsTrade() {
		return false, "not a tradable signal", nil
	}

	if ok, reason := t.breaker.Allow(); !ok {
		return false, "circuit breaker: " + reason, nil
	}

	portfolio, err := t.db.GetPaperPortfolio(ctx, t.bot.Version)
	if err != nil {
		return false, "", err
	}

	open := t.mon.Open()

	limit, err := t.positionCap(ctx, portfolio)
	if err != nil {
		return false, "", err
	}
	if len(open) >= limit {
		return false, fmt.Sprintf("position cap %d reached", limit), nil
	}

	for _, p := range open {
		if p.Symbol == sig.Symbol && p.Direction == sig.Direction {
			return false, "duplicate symbol and direction", nil
		}
	}

	if reason := t.exposureCheck(open, sig); reason != "" {
		return false, reason, nil
	}

	margin := t.marginFor(portfolio, sig.Score)
	positionSize := margin * float64(sig.Leverage)

	if reason := t.feeGate(sig, positionSize); reason != "" {
		return false, reason, nil
	}

	entry := t.slippageAdjusted(sig, spreadPct)
	quantity := positionSize / entry

	if err := t.db.ReservePaperMargin(ctx, t.bot.Version, margin); err != nil {
		if errors.Is(err, database.ErrInsufficientMargin) {
			return false, fmt.Sprintf("free margin below $%.2f", margin), nil
		}
		return false, "", err
	}

	row := t.positionRow(signalID, sig, entry, quantity, positionSize, margin)

	learnCtx := signal.Context{
		SetupType: sig.SetupType,
		Symbol:    sig.Symbol,
		Mode:      sig.Mode,
		Direction: sig.Direction,
		Score:     sig.Score,
		MTFScore:  sig.MTFScore,
		HourUTC:   sig.CreatedAt.UTC().Hour(),
	}
	if sig.RegimeSnapshot != nil {
		learnCtx.Regime = sig.RegimeSnapshot.Name
	}

	if _, err := t.mon.Track(ctx, row, learnCtx); err != nil {
		// Hand the reserved margin back; the position never existed.
		if relErr := t.db.ReleasePaperMargin(ctx, t.bot.Version, margin); relErr != nil {
			t.log.Error().Err(relErr).Msg("releasing margin after failed track")
		}
		return false, "", err
	}

	t.log.Info().
		Str("symbol", sig.Symbol).
		Str("direction", sig.Direction).
		Float64("margin", margin).
		Float64("size", positionSize).
		Float64("entry", entry).
		Msg("paper position opened")
	return true, "", nil
}

// positionRow maps an admitted signal onto its stored position, keyed back
// to the signal row it came from.
func (t *Trader) positionRow(signalID int64, sig *signal.Signal, entry, quantity, positionSize, margin float64) *database.PositionRow {
	return &database.PositionRow{
		SignalID:          signalID,
		BotVersion:        t.bot.Version,
		Symbol:            sig.Symbol,
		Mode:              sig.Mode,
		Direction:         sig.Direction,
		SetupType:         sig.SetupType,
		EntryPrice:        entry,
		StopLoss:          sig.StopLoss,
		TP1:               sig.TP1,
		TP2:               sig.TP2,
		TP3:               sig.TP3,
		TP1ClosePct:       sig.TP1ClosePct,
		TP2ClosePct:       sig.TP2ClosePct,
		TP3ClosePct:       sig.TP3ClosePct,
		OriginalQuantity:  quantity,
		RemainingQuantity: quantity,
		PositionSizeUSD:   positionSize,
		MarginRequired:    margin,
		Leverage:          sig.Leverage,
		State:             monitor.StateActive,
		EntryTime:         time.Now().UTC(),
		OriginalSL:        sig.StopLoss,
		EntryATR:          sig.EntryATR,
		IndicatorSnapshot: sig.IndicatorSnapshot,
		RegimeSnapshot:    sig.RegimeSnapshot,
		ScoresSnapshot:    sig.ScoresSnapshot,
		CandlePattern:     sig.CandlePattern,
	}
}

// OnPositionClosed settles the account. Implements monitor.Observer.
func (t *Trader) OnPositionClosed(pos *monitor.Position, res monitor.CloseResult) {
	ctx := context.Background()
	if err := t.db.SettlePaperTrade(ctx, t.bot.Version, pos.MarginRequired, res.NetPnLUSD, res.Win); err != nil {
		t.log.Error().Err(err).Int64("position_id", pos.ID).Msg("settling paper trade failed")
	}
	t.breaker.RecordResult(res.NetPnLUSD)

	if p, err := t.db.GetPaperPortfolio(ctx, t.bot.Version); err == nil {
		metrics.PaperBalance.WithLabelValues(t.bot.Version).Set(p.CurrentBalance)
		t.cache.SavePortfolio(ctx, t.bot.Version, p)
	}
}

// positionCap scales V4's cap with account health so a drawn-down account
// cannot stack positions; other bots use a flat cap.
func (t *Trader) positionCap(ctx context.Context, p *database.Portfolio) (int, error) {
	if !t.bot.IsV4() {
		return maxPositionsLegacy, nil
	}
	avgMargin, err := t.db.AvgOpenMargin(ctx, t.bot.Version)
	if err != nil {
		return 0, err
	}
	if avgMargin <= 0 {
		avgMargin = t.bot.Sizing.MinMargin
	}
	if avgMargin <= 0 {
		return dynamicCapCeil, nil
	}
	limit := int(p.CurrentBalance * 0.5 / avgMargin)
	if limit < dynamicCapFloor {
		limit = dynamicCapFloor
	}
	if limit > dynamicCapCeil {
		limit = dynamicCapCeil
	}
	return limit, nil
}

// exposureCheck rejects concentrated directional risk on V4: at most
// MaxPerCluster same-direction positions in one symbol cluster, and never a
// fourth same-direction position overall. Other bots skip it.
func (t *Trader) exposureCheck(open []monitor.PositionView, sig *signal.Signal) string {
	if !t.bot.IsV4() {
		return ""
	}
	cluster := correlation.ClusterOf(sig.Symbol)
	clusterCount := 0
	sameDir := 0
	for _, p := range open {
		if p.Direction == sig.Direction {
			sameDir++
			if correlation.ClusterOf(p.Symbol) == cluster {
				clusterCount++
			}
		}
	}
	if clusterCount >= correlation.MaxPerCluster {
		return fmt.Sprintf("cluster %s already holds %d %s positions", cluster, clusterCount, sig.Direction)
	}
	if sameDir >= 3 {
		return fmt.Sprintf("%d open %s positions, correlated exposure", sameDir, sig.Direction)
	}
	return ""
}

// feeGate refuses trades whose first target cannot cover the roundtrip
// taker fees.
func (t *Trader) feeGate(sig *signal.Signal, positionSize float64) string {
	taker := t.bot.Fees.TakerPct
	if taker <= 0 {
		return ""
	}
	tp1MovePct := math.Abs(sig.TP1-sig.EntryPrice) / sig.EntryPrice * 100
	roundtripPct := taker * 2
	if tp1MovePct <= roundtripPct {
		return fmt.Sprintf("tp1 move %.4f%% below roundtrip fees %.4f%%", tp1MovePct, roundtripPct)
	}
	return ""
}

// marginFor sizes the trade. V4 scales a balance fraction by conviction;
// the other bots trade a fixed ticket.
func (t *Trader) marginFor(p *database.Portfolio, score float64) float64 {
	if !t.bot.IsV4() {
		return fixedMarginUSD
	}
	s := t.bot.Sizing
	mult := 0.6 + (score-50)*0.9/35
	if mult < 0.6 {
		mult = 0.6
	}
	if mult > 1.5 {
		mult = 1.5
	}
	margin := p.CurrentBalance * s.BasePct * mult
	if margin < s.MinMargin {
		margin = s.MinMargin
	}
	if margin > s.MaxMargin {
		margin = s.MaxMargin
	}
	return margin
}

// slippageAdjusted nudges the fill against the trade by half the spread,
// capped, mirroring a taker fill at the touch. A sentinel spread means no
// orderbook and no adjustment.
func (t *Trader) slippageAdjusted(sig *signal.Signal, spreadPct float64) float64 {
	threshold := t.bot.Sizing.SpreadMissingThreshold
	if threshold <= 0 {
		threshold = 900
	}
	if spreadPct <= 0 || spreadPct >= threshold {
		return sig.EntryPrice
	}
	half := spreadPct / 2
	if half > maxSlippagePct {
		half = maxSlippagePct
	}
	adj := sig.EntryPrice * half / 100
	if sig.Direction == "long" {
		return sig.EntryPrice + adj
	}
	return sig.EntryPrice - adj
}
