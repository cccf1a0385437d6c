// Package monitor drives open paper positions through their exit ladder from
// live trade prices, with a polling fallback when the stream is quiet.
package monitor

import (
	"sync"
	"time"

	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/signal"
)

// Position states.
const (
	StateActive     = "active"
	StateBreakeven  = "breakeven"   // TP1 taken, stop at entry
	StateTrailing   = "trailing"    // TP2 taken, stop at TP1
	StateTrailingTP = "trailing_tp" // final tranche trailing behind the peak
	StateClosed     = "closed"
)

// Position is the in-memory record the monitor evaluates on every price
// tick. Persistence mirrors it through active_positions.
type Position struct {
	mu sync.Mutex

	ID         int64
	SignalID   int64
	BotVersion string
	Symbol     string
	Mode       string
	Direction  string
	SetupType  string

	EntryPrice float64
	StopLoss   float64
	OriginalSL float64
	TP1        float64
	TP2        float64
	TP3        float64

	TP1ClosePct float64
	TP2ClosePct float64
	TP3ClosePct float64

	OriginalQuantity  float64
	RemainingQuantity float64
	PositionSizeUSD   float64
	MarginRequired    float64
	Leverage          int

	State  string
	TP1Hit bool
	TP2Hit bool
	TP3Hit bool

	EntryTime time.Time
	EntryATR  float64

	// Running totals. realizedGross accumulates partial closes; feesPaid
	// accumulates per-fill taker fees on fee-aware bots.
	realizedGross  float64
	feesPaid       float64
	MaxProfitUSD   float64
	MaxDrawdownUSD float64

	// Peak price since the trailing tranche activated.
	trailPeak float64

	// Learner context captured at entry.
	LearnCtx          signal.Context
	IndicatorSnapshot map[string]float64
	ScoresSnapshot    map[string]float64
	CandlePattern     string

	processing bool
}

// CloseResult summarises one fully closed position for observers.
type CloseResult struct {
	Reason          string
	ExitPrice       float64
	GrossPnLUSD     float64
	FeesUSD         float64
	NetPnLUSD       float64
	PnLPct          float64
	Win             bool
	DurationSeconds int64
}

func (p *Position) sign() float64 {
	if p.Direction == "short" {
		return -1
	}
	return 1
}

// unrealizedGross is the mark-to-market pnl of the remaining quantity.
func (p *Position) unrealizedGross(price float64) float64 {
	return (price - p.EntryPrice) * p.sign() * p.RemainingQuantity
}

// grossPnL is realised plus unrealised, before fees.
func (p *Position) grossPnL(price float64) float64 {
	return p.realizedGross + p.unrealizedGross(price)
}

// tryLock marks the position busy so a stream tick and the backup loop
// cannot evaluate it at the same time.
func (p *Position) tryLock() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processing || p.State == StateClosed {
		return false
	}
	p.processing = true
	return true
}

func (p *Position) unlock() {
	p.mu.Lock()
	p.processing = false
	p.mu.Unlock()
}

// stopHit reports whether price crossed the protective stop.
func (p *Position) stopHit(price float64) bool {
	if p.Direction == "long" {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// targetHit reports whether price reached a take-profit level.
func (p *Position) targetHit(price, target float64) bool {
	if p.Direction == "long" {
		return price >= target
	}
	return price <= target
}

// roundtripFeesUSD estimates entry plus exit taker fees on the original
// notional.
func (p *Position) roundtripFeesUSD(takerPct float64) float64 {
	return p.PositionSizeUSD * takerPct / 100 * 2
}

// breakevenPrice returns entry shifted so that closing the remaining
// quantity there recovers the full roundtrip fees.
func (p *Position) breakevenPrice(takerPct float64) float64 {
	if takerPct <= 0 || p.RemainingQuantity <= 0 {
		return p.EntryPrice
	}
	offset := p.roundtripFeesUSD(takerPct) / p.RemainingQuantity
	return p.EntryPrice + p.sign()*offset
}

func fromRow(r *database.PositionRow) *Position {
	state := r.State
	if state == "" {
		state = StateActive
	}
	return &Position{
		ID:                r.ID,
		SignalID:          r.SignalID,
		BotVersion:        r.BotVersion,
		Symbol:            r.Symbol,
		Mode:              r.Mode,
		Direction:         r.Direction,
		SetupType:         r.SetupType,
		EntryPrice:        r.EntryPrice,
		StopLoss:          r.StopLoss,
		OriginalSL:        r.OriginalSL,
		TP1:               r.TP1,
		TP2:               r.TP2,
		TP3:               r.TP3,
		TP1ClosePct:       r.TP1ClosePct,
		TP2ClosePct:       r.TP2ClosePct,
		TP3ClosePct:       r.TP3ClosePct,
		OriginalQuantity:  r.OriginalQuantity,
		RemainingQuantity: r.RemainingQuantity,
		PositionSizeUSD:   r.PositionSizeUSD,
		MarginRequired:    r.MarginRequired,
		Leverage:          r.Leverage,
		State:             state,
		TP1Hit:            r.TP1Hit,
		TP2Hit:            r.TP2Hit,
		TP3Hit:            r.TP3Hit,
		EntryTime:         r.EntryTime,
		EntryATR:          r.EntryATR,
		MaxProfitUSD:      r.MaxProfitUSD,
		MaxDrawdownUSD:    r.MaxDrawdownUSD,
		CandlePattern:     r.CandlePattern,
	}
}
