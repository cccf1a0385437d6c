// Package scanner drives the periodic market sweep for one bot: fetch a
// snapshot per symbol, run the signal pipeline per mode and hand tradable
// signals to the paper trader.
package scanner

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/indicator"
	"mexc-futures-engine/internal/market"
	"mexc-futures-engine/internal/metrics"
	"mexc-futures-engine/internal/monitor"
	"mexc-futures-engine/internal/paper"
	"mexc-futures-engine/internal/signal"
)

const (
	signalCooldown = 5 * time.Minute

	// Two signals at nearly the same entry with the same shape are the same
	// trade idea; within this band the later one is dropped.
	dedupeEntryBandPct = 0.2
)

type lastSignal struct {
	direction string
	setupType string
	entry     float64
	at        time.Time
}

// Scanner owns one bot's sweep loop.
type Scanner struct {
	bot    *config.BotConfig
	client *market.Client
	flow   *market.OrderFlowTracker
	engine *signal.Engine
	db     *database.DB
	trader *paper.Trader
	mon    *monitor.Monitor
	corr   correlationObserver
	log    zerolog.Logger

	mu       sync.Mutex
	last     map[string]*lastSignal // keyed symbol_mode
	cooldown map[string]time.Time   // keyed symbol_mode

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// correlationObserver receives one price sample per symbol per sweep.
type correlationObserver interface {
	Observe(symbol string, price float64)
}

func New(bot *config.BotConfig, client *market.Client, flow *market.OrderFlowTracker, engine *signal.Engine, db *database.DB, trader *paper.Trader, mon *monitor.Monitor, corr correlationObserver, log zerolog.Logger) *Scanner {
	return &Scanner{
		bot:      bot,
		client:   client,
		flow:     flow,
		engine:   engine,
		db:       db,
		trader:   trader,
		mon:      mon,
		corr:     corr,
		log:      log.With().Str("component", "scanner").Logger(),
		last:     make(map[string]*lastSignal),
		cooldown: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Scanner) Start(ctx context.Context) {
	interval := time.Duration(s.bot.Scanner.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// First sweep immediately, then on the interval.
		s.sweep(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight sweep.
func (s *Scanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scanner) sweep(ctx context.Context) {
	start := time.Now()
	metrics.ScanCycles.WithLabelValues(s.bot.Version).Inc()

	delay := time.Duration(s.bot.Scanner.InterSymbolDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}

	symbols := s.bot.EnabledSymbols()
	for i, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		s.scanSymbol(ctx, symbol)
		// Space out REST calls so six symbols do not burst the API.
		if i < len(symbols)-1 {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-time.After(delay):
			}
		}
	}

	s.log.Debug().
		Int("symbols", len(symbols)).
		Dur("elapsed", time.Since(start)).
		Msg("sweep complete")
}

func (s *Scanner) scanSymbol(ctx context.Context, symbol string) {
	timeframes := s.timeframes()
	snap, err := s.client.FetchSnapshot(ctx, symbol, timeframes, s.flow)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("snapshot fetch failed")
		return
	}

	if s.corr != nil && snap.Ticker.Last > 0 {
		s.corr.Observe(symbol, snap.Ticker.Last)
	}

	s.recordMarketState(ctx, snap)

	for mode := range s.bot.Modes {
		sig := s.engine.Analyze(ctx, snap, mode)
		if sig.IsTrade() {
			s.handleSignal(ctx, snap, sig)
		} else {
			s.handleNoTrade(ctx, sig)
		}
	}
}

func (s *Scanner) handleSignal(ctx context.Context, snap *market.Snapshot, sig *signal.Signal) {
	key := sig.Symbol + "_" + sig.Mode

	if s.mon.HasOpen(sig.Symbol) {
		s.log.Debug().Str("symbol", sig.Symbol).Msg("signal dropped, position already open")
		return
	}
	if reason := s.admit(key, sig); reason != "" {
		s.log.Debug().
			Str("symbol", sig.Symbol).
			Str("mode", sig.Mode).
			Str("reason", reason).
			Msg("signal dropped")
		return
	}

	id, err := s.db.InsertSignal(ctx, sig)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("persisting signal failed")
		return
	}
	metrics.SignalsEmitted.WithLabelValues(s.bot.Version, sig.Mode).Inc()

	s.mu.Lock()
	s.last[key] = &lastSignal{
		direction: sig.Direction,
		setupType: sig.SetupType,
		entry:     sig.EntryPrice,
		at:        time.Now(),
	}
	s.cooldown[key] = time.Now().Add(signalCooldown)
	s.mu.Unlock()

	accepted, reason, err := s.trader.Execute(ctx, id, sig, snap.Ticker.SpreadPct)
	status := "executed"
	switch {
	case err != nil:
		status = "error"
		s.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("paper execution failed")
	case !accepted:
		status = "skipped"
		s.log.Info().
			Str("symbol", sig.Symbol).
			Str("mode", sig.Mode).
			Str("reason", reason).
			Msg("signal skipped by paper trader")
	}
	if err := s.db.UpdateSignalStatus(ctx, id, status); err != nil {
		s.log.Warn().Err(err).Int64("signal_id", id).Msg("updating signal status failed")
	}
}

// admit applies the cooldown, the duplicate-idea filter and the
// anti-flip-flop window. Returns the rejection reason or "".
func (s *Scanner) admit(key string, sig *signal.Signal) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.cooldown[key]; ok && time.Now().Before(until) {
		return "cooldown active"
	}

	prev, ok := s.last[key]
	if !ok {
		return ""
	}

	flipWindow := time.Duration(s.bot.Scanner.AntiFlipFlopSeconds) * time.Second
	if flipWindow > 0 && prev.direction != sig.Direction && time.Since(prev.at) < flipWindow {
		return "direction flip within anti-flip-flop window"
	}

	if prev.direction == sig.Direction && prev.setupType == sig.SetupType && prev.entry > 0 {
		drift := math.Abs(sig.EntryPrice-prev.entry) / prev.entry * 100
		if drift < dedupeEntryBandPct {
			return "duplicate of recent signal"
		}
	}
	return ""
}

func (s *Scanner) handleNoTrade(ctx context.Context, sig *signal.Signal) {
	metrics.NoTrades.WithLabelValues(s.bot.Version, sig.Reason).Inc()
	if sig.Reason == "NON-TRADABLE" {
		if err := s.db.LogTradeability(ctx, s.bot.Version, sig.Symbol, sig.Mode,
			sig.TradeabilityScore, sig.Reason, sig.Reasons); err != nil {
			s.log.Warn().Err(err).Msg("tradeability log insert failed")
		}
	}
}

// recordMarketState stores the compact snapshot row and feeds the monitor
// the fresh ATR for stop management.
func (s *Scanner) recordMarketState(ctx context.Context, snap *market.Snapshot) {
	tf := s.primaryAnalysisTF()
	klines, ok := snap.Klines[tf]
	if !ok || len(klines) == 0 {
		return
	}
	set := indicator.Compute(klines, s.bot.Direction.StructureLookback)

	if !math.IsNaN(set.ATR) {
		s.mon.UpdateATR(snap.Symbol, set.ATR)
	}

	nz := func(v float64) float64 {
		if math.IsNaN(v) {
			return 0
		}
		return v
	}
	if err := s.db.InsertMarketSnapshot(ctx, snap.Symbol, snap.Ticker.Last,
		nz(set.ATR), nz(set.RSI), nz(set.ADX.ADX),
		snap.Ticker.SpreadPct, snap.Funding.RatePct, snap.OI.ChangePct); err != nil {
		s.log.Debug().Err(err).Msg("market snapshot insert failed")
	}
}

// timeframes collects the distinct timeframes every mode needs, so one
// snapshot serves both modes.
func (s *Scanner) timeframes() []string {
	seen := map[string]bool{}
	var out []string
	add := func(tf string) {
		tf = strings.TrimSpace(tf)
		if tf != "" && !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	for _, mode := range s.bot.Modes {
		for _, tf := range mode.Timeframes.Analysis {
			add(tf)
		}
		add(mode.Timeframes.Filter)
	}
	return out
}

func (s *Scanner) primaryAnalysisTF() string {
	if m, ok := s.bot.Modes["scalping"]; ok && len(m.Timeframes.Analysis) > 0 {
		return m.Timeframes.Analysis[0]
	}
	for _, m := range s.bot.Modes {
		if len(m.Timeframes.Analysis) > 0 {
			return m.Timeframes.Analysis[0]
		}
	}
	return "5m"
}
