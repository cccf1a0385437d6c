package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/market"
	"mexc-futures-engine/internal/metrics"
	"mexc-futures-engine/internal/signal"
)

const backupInterval = 30 * time.Second

// Observer is notified after a position is fully closed and journalled.
type Observer interface {
	OnPositionClosed(pos *Position, res CloseResult)
}

// positionStore is the persistence surface the monitor drives.
type positionStore interface {
	ActivePositions(ctx context.Context, botVersion string) ([]*database.PositionRow, error)
	InsertActivePosition(ctx context.Context, p *database.PositionRow) (int64, error)
	UpdatePosition(ctx context.Context, id int64, patch map[string]any) error
	ClosePosition(ctx context.Context, id int64, closeReason string, pnlUSD float64) error
	InsertTrade(ctx context.Context, t *database.TradeRow) error
	InsertTradeContext(ctx context.Context, botVersion string, positionID int64, sctx signal.Context,
		indicators, scores map[string]float64, candlePattern string,
		maxProfit, maxDrawdown, pnlUSD float64, isWin bool, durationSeconds int64, closedAt time.Time) error
}

// dealStream delivers executed trades for subscribed symbols.
type dealStream interface {
	Subscribe(symbol, id string, fn market.DealHandler)
	Unsubscribe(symbol, id string)
}

// SetupRecorder receives closed-trade results for the per-setup learner.
type SetupRecorder interface {
	RecordTrade(ctx context.Context, setupType, symbol, mode string, win bool, pnlUSD float64)
}

// PositionView is a read-only snapshot for admission checks and the API.
type PositionView struct {
	ID             int64     `json:"id"`
	Symbol         string    `json:"symbol"`
	Mode           string    `json:"mode"`
	Direction      string    `json:"direction"`
	SetupType      string    `json:"setup_type"`
	State          string    `json:"state"`
	EntryPrice     float64   `json:"entry_price"`
	StopLoss       float64   `json:"stop_loss"`
	TP1            float64   `json:"tp1"`
	TP2            float64   `json:"tp2"`
	TP3            float64   `json:"tp3"`
	MarginRequired float64   `json:"margin_required"`
	Leverage       int       `json:"leverage"`
	EntryTime      time.Time `json:"entry_time"`
	MaxProfitUSD   float64   `json:"max_profit_usd"`
}

// Monitor owns every open position of one bot. Price ticks arrive from the
// deal stream; a slow backup loop covers quiet symbols and the time-based
// exits.
type Monitor struct {
	bot      *config.BotConfig
	db       positionStore
	client   *market.Client
	hub      dealStream
	cache    *StateCache
	setupRec SetupRecorder
	log      zerolog.Logger

	mu        sync.RWMutex
	positions map[int64]*Position
	lastATR   map[string]float64
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(bot *config.BotConfig, db *database.DB, client *market.Client, hub *market.StreamHub, cache *StateCache, setupRec SetupRecorder, log zerolog.Logger) *Monitor {
	return &Monitor{
		bot:       bot,
		db:        db,
		client:    client,
		hub:       hub,
		cache:     cache,
		setupRec:  setupRec,
		log:       log.With().Str("component", "monitor").Logger(),
		positions: make(map[int64]*Position),
		lastATR:   make(map[string]float64),
	}
}

// AddObserver registers a close listener. Not safe after Start.
func (m *Monitor) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Start restores open positions from the database and begins monitoring.
func (m *Monitor) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	rows, err := m.db.ActivePositions(m.ctx, m.bot.Version)
	if err != nil {
		return fmt.Errorf("restoring positions: %w", err)
	}
	for _, r := range rows {
		pos := fromRow(r)
		m.register(pos)
		m.log.Info().
			Int64("position_id", pos.ID).
			Str("symbol", pos.Symbol).
			Str("state", pos.State).
			Msg("position restored")
	}

	m.wg.Add(1)
	go m.backupLoop()
	return nil
}

// Stop halts monitoring without closing positions; they are restored on the
// next Start.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.RLock()
	for _, pos := range m.positions {
		m.hub.Unsubscribe(pos.Symbol, m.subID(pos))
	}
	m.mu.RUnlock()
	m.wg.Wait()
}

// Track persists a freshly admitted position and begins monitoring it.
func (m *Monitor) Track(ctx context.Context, row *database.PositionRow, learnCtx signal.Context) (*Position, error) {
	id, err := m.db.InsertActivePosition(ctx, row)
	if err != nil {
		return nil, err
	}
	row.ID = id

	pos := fromRow(row)
	pos.LearnCtx = learnCtx
	pos.IndicatorSnapshot = row.IndicatorSnapshot
	pos.ScoresSnapshot = row.ScoresSnapshot
	m.register(pos)

	m.log.Info().
		Int64("position_id", id).
		Str("symbol", pos.Symbol).
		Str("direction", pos.Direction).
		Float64("entry", pos.EntryPrice).
		Float64("stop", pos.StopLoss).
		Msg("position opened")
	return pos, nil
}

func (m *Monitor) register(pos *Position) {
	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	metrics.OpenPositions.WithLabelValues(m.bot.Version).Inc()
	m.cache.SavePosition(m.ctx, m.bot.Version, pos)
	m.hub.Subscribe(pos.Symbol, m.subID(pos), func(d market.Deal) {
		m.evaluate(pos, d.Price)
	})
}

func (m *Monitor) subID(pos *Position) string {
	return fmt.Sprintf("monitor-%s-%d", m.bot.Version, pos.ID)
}

// Open returns snapshots of every tracked position.
func (m *Monitor) Open() []PositionView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PositionView, 0, len(m.positions))
	for _, p := range m.positions {
		p.mu.Lock()
		out = append(out, PositionView{
			ID: p.ID, Symbol: p.Symbol, Mode: p.Mode, Direction: p.Direction,
			SetupType: p.SetupType, State: p.State, EntryPrice: p.EntryPrice,
			StopLoss: p.StopLoss, TP1: p.TP1, TP2: p.TP2, TP3: p.TP3,
			MarginRequired: p.MarginRequired, Leverage: p.Leverage,
			EntryTime: p.EntryTime, MaxProfitUSD: p.MaxProfitUSD,
		})
		p.mu.Unlock()
	}
	return out
}

// HasOpen reports whether any tracked position exists for the symbol.
func (m *Monitor) HasOpen(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.positions {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

// OpenCount returns the number of tracked positions.
func (m *Monitor) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// UpdateATR feeds the latest analysis-timeframe ATR for a symbol. V3+ bots
// widen a pre-TP1 stop when volatility expands well beyond entry conditions.
func (m *Monitor) UpdateATR(symbol string, atr float64) {
	if math.IsNaN(atr) || atr <= 0 {
		return
	}
	m.mu.Lock()
	m.lastATR[symbol] = atr
	m.mu.Unlock()

	if !m.bot.IsV3Plus() {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pos := range m.positions {
		if pos.Symbol != symbol {
			continue
		}
		m.maybeWidenStop(pos, atr)
	}
}

// maybeWidenStop moves a still-virgin stop further out when the current ATR
// exceeds the entry ATR by more than 1.5x, capped at 2x the original
// distance. The stop only ever widens once per reading and never tightens.
func (m *Monitor) maybeWidenStop(pos *Position, atr float64) {
	pos.mu.Lock()
	defer pos.mu.Unlock()

	if pos.State != StateActive || pos.TP1Hit || pos.EntryATR <= 0 || pos.OriginalSL == 0 {
		return
	}
	ratio := atr / pos.EntryATR
	if ratio <= 1.5 {
		return
	}
	if ratio > 2.0 {
		ratio = 2.0
	}
	origDist := math.Abs(pos.EntryPrice - pos.OriginalSL)
	newStop := pos.EntryPrice - pos.sign()*origDist*ratio

	widens := (pos.Direction == "long" && newStop < pos.StopLoss) ||
		(pos.Direction == "short" && newStop > pos.StopLoss)
	if !widens {
		return
	}
	pos.StopLoss = newStop
	m.persist(pos.ID, map[string]any{"stop_loss": newStop})
	m.log.Info().
		Int64("position_id", pos.ID).
		Float64("atr_ratio", ratio).
		Float64("stop", newStop).
		Msg("stop widened on volatility expansion")
}

func (m *Monitor) backupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(backupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.backupPass()
		}
	}
}

// backupPass polls a ticker per distinct symbol so positions keep moving
// when the deal stream is quiet, then applies the time-based exits.
func (m *Monitor) backupPass() {
	m.mu.RLock()
	bySymbol := make(map[string][]*Position)
	for _, p := range m.positions {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}
	m.mu.RUnlock()

	for symbol, group := range bySymbol {
		tick, err := m.client.Ticker(m.ctx, symbol)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Msg("backup ticker fetch failed")
			continue
		}
		if tick.Last <= 0 {
			continue
		}
		for _, pos := range group {
			m.evaluate(pos, tick.Last)
			m.checkStale(pos, tick.Last)
		}
	}
}

// checkStale closes positions that sat past the mode's hold limit without
// going anywhere.
func (m *Monitor) checkStale(pos *Position, price float64) {
	modeCfg, ok := m.bot.Modes[pos.Mode]
	if !ok || modeCfg.MaxHoldSeconds <= 0 {
		return
	}
	if time.Since(pos.EntryTime) < time.Duration(modeCfg.MaxHoldSeconds)*time.Second {
		return
	}
	if !pos.tryLock() {
		return
	}
	defer pos.unlock()

	gross := pos.grossPnL(price)
	threshold := modeCfg.MinProfitUSD
	if m.bot.IsV4() {
		// V4 lets a stale winner run; only flat-or-losing stale positions
		// are cut.
		threshold = 0
	}
	if gross < threshold {
		m.close(pos, price, "stale_timeout")
	}
}

// evaluate runs the full exit ladder for one price tick.
func (m *Monitor) evaluate(pos *Position, price float64) {
	if price <= 0 || !pos.tryLock() {
		return
	}
	defer pos.unlock()

	pos.mu.Lock()
	gross := pos.grossPnL(price)
	if gross > pos.MaxProfitUSD {
		pos.MaxProfitUSD = gross
	}
	if gross < 0 && -gross > pos.MaxDrawdownUSD {
		pos.MaxDrawdownUSD = -gross
	}
	state := pos.State
	pos.mu.Unlock()

	modeCfg := m.bot.Modes[pos.Mode]
	taker := m.bot.Fees.TakerPct
	net := gross - pos.feesPaid

	// Hard dollar loss cap before anything else. The configured cap may be
	// written as a negative loss or a positive magnitude.
	if m.bot.IsV3Plus() && modeCfg != nil {
		if limit := math.Abs(modeCfg.MaxLossUSD); limit > 0 && net <= -limit {
			m.close(pos, price, "max_loss")
			return
		}
	}

	// Protective stop.
	if pos.stopHit(price) {
		reason := "stop_loss"
		switch state {
		case StateBreakeven:
			reason = "breakeven_exit"
		case StateTrailing, StateTrailingTP:
			reason = "trailing_stop"
		}
		m.close(pos, price, reason)
		return
	}

	// Take-profit ladder.
	switch {
	case !pos.TP1Hit && pos.targetHit(price, pos.TP1):
		m.onTP1(pos, price, taker)
		return
	case pos.TP1Hit && !pos.TP2Hit && pos.targetHit(price, pos.TP2):
		m.onTP2(pos, price, taker)
		return
	case pos.TP2Hit && !pos.TP3Hit && pos.targetHit(price, pos.TP3):
		m.onTP3(pos, price, taker)
		return
	}

	// Final tranche trails behind the best price seen since TP3.
	if state == StateTrailingTP {
		m.updateTrail(pos, price)
	}

	// Early stop management before TP1.
	if state == StateActive && modeCfg != nil {
		m.earlyProtection(pos, price, modeCfg.EarlyProtection, taker)
	}

	// Profit giveback: once fees are well covered, a large retrace banks the
	// remainder instead of riding it back down. The exit must still clear the
	// full roundtrip fees at the current price, not just the fees paid so far.
	pp := m.bot.ProfitProtection
	if pp.Enabled && pos.MaxProfitUSD > 0 {
		activation := pp.ActivationFeeMult * pos.roundtripFeesUSD(taker)
		giveback := (pos.MaxProfitUSD - gross) / pos.MaxProfitUSD
		if pos.MaxProfitUSD >= activation && giveback >= pp.GivebackPct && gross-pos.roundtripFeesUSD(taker) > 0 {
			m.close(pos, price, "profit_giveback")
			return
		}
	}
}

// onTP1 banks the first tranche and moves the stop to breakeven.
func (m *Monitor) onTP1(pos *Position, price, taker float64) {
	pos.mu.Lock()
	closeQty := pos.OriginalQuantity * pos.TP1ClosePct / 100
	if closeQty > pos.RemainingQuantity {
		closeQty = pos.RemainingQuantity
	}
	m.fill(pos, closeQty, price, taker)
	pos.TP1Hit = true
	pos.State = StateBreakeven
	pos.StopLoss = pos.breakevenPrice(taker)
	stop, remaining := pos.StopLoss, pos.RemainingQuantity
	maxProfit := pos.MaxProfitUSD
	pos.mu.Unlock()

	m.persist(pos.ID, map[string]any{
		"tp1_hit": 1, "state": StateBreakeven, "stop_loss": stop,
		"remaining_quantity": remaining, "max_profit_usd": maxProfit,
	})
	m.cache.SavePosition(m.ctx, m.bot.Version, pos)
	m.log.Info().
		Int64("position_id", pos.ID).
		Float64("price", price).
		Float64("remaining", remaining).
		Msg("tp1 hit, stop moved to breakeven")
}

// onTP2 banks the second tranche and locks the stop at TP1.
func (m *Monitor) onTP2(pos *Position, price, taker float64) {
	pos.mu.Lock()
	keepQty := pos.OriginalQuantity * pos.TP3ClosePct / 100
	closeQty := pos.RemainingQuantity - keepQty
	if closeQty < 0 {
		closeQty = 0
	}
	m.fill(pos, closeQty, price, taker)
	pos.TP2Hit = true
	pos.State = StateTrailing
	pos.StopLoss = pos.TP1
	stop, remaining := pos.StopLoss, pos.RemainingQuantity
	maxProfit := pos.MaxProfitUSD
	pos.mu.Unlock()

	m.persist(pos.ID, map[string]any{
		"tp2_hit": 1, "state": StateTrailing, "stop_loss": stop,
		"remaining_quantity": remaining, "max_profit_usd": maxProfit,
	})
	m.cache.SavePosition(m.ctx, m.bot.Version, pos)
	m.log.Info().
		Int64("position_id", pos.ID).
		Float64("price", price).
		Float64("remaining", remaining).
		Msg("tp2 hit, stop locked at tp1")
}

// onTP3 either closes out entirely or, with trailing TP enabled, banks part
// and trails the rest behind the peak.
func (m *Monitor) onTP3(pos *Position, price, taker float64) {
	tcfg := m.bot.TrailingTP
	if !m.bot.IsV4() || !tcfg.Enabled || pos.EntryATR <= 0 {
		m.close(pos, price, "tp3")
		return
	}

	pos.mu.Lock()
	closeQty := pos.RemainingQuantity * tcfg.TP3ClosePct / 100
	m.fill(pos, closeQty, price, taker)
	pos.TP3Hit = true
	pos.State = StateTrailingTP
	pos.trailPeak = price
	pos.StopLoss = price - pos.sign()*tcfg.TrailATR*pos.EntryATR
	stop, remaining := pos.StopLoss, pos.RemainingQuantity
	pos.mu.Unlock()

	m.persist(pos.ID, map[string]any{
		"tp3_hit": 1, "state": StateTrailingTP, "stop_loss": stop,
		"remaining_quantity": remaining,
	})
	m.cache.SavePosition(m.ctx, m.bot.Version, pos)
	m.log.Info().
		Int64("position_id", pos.ID).
		Float64("price", price).
		Float64("trail_stop", stop).
		Msg("tp3 hit, trailing final tranche")
}

// updateTrail ratchets the trailing stop behind a new peak. The stop only
// ever moves in the trade's favour.
func (m *Monitor) updateTrail(pos *Position, price float64) {
	tcfg := m.bot.TrailingTP

	pos.mu.Lock()
	better := (pos.Direction == "long" && price > pos.trailPeak) ||
		(pos.Direction == "short" && price < pos.trailPeak)
	if !better {
		pos.mu.Unlock()
		return
	}
	pos.trailPeak = price
	pos.StopLoss = price - pos.sign()*tcfg.TrailATR*pos.EntryATR
	stop := pos.StopLoss
	pos.mu.Unlock()

	m.persist(pos.ID, map[string]any{"stop_loss": stop})
}

// earlyProtection moves the stop toward entry as price works through the
// first leg, before TP1 is reached.
func (m *Monitor) earlyProtection(pos *Position, price float64, cfg config.EarlyProtectionConfig, taker float64) {
	if cfg.BreakevenAtPct <= 0 {
		return
	}
	pos.mu.Lock()
	defer pos.mu.Unlock()

	tpDist := math.Abs(pos.TP1 - pos.EntryPrice)
	if tpDist == 0 {
		return
	}
	progress := (price - pos.EntryPrice) * pos.sign() / tpDist
	if progress < cfg.BreakevenAtPct {
		return
	}

	var newStop float64
	if cfg.TrailActivationPct > 0 && progress >= cfg.TrailActivationPct {
		newStop = price - pos.sign()*cfg.TrailBehindPct*tpDist
	} else {
		newStop = pos.breakevenPrice(taker)
	}

	improves := (pos.Direction == "long" && newStop > pos.StopLoss) ||
		(pos.Direction == "short" && newStop < pos.StopLoss)
	if !improves {
		return
	}
	pos.StopLoss = newStop
	m.persist(pos.ID, map[string]any{"stop_loss": newStop})
}

// fill executes a partial close. Caller holds pos.mu.
func (m *Monitor) fill(pos *Position, qty, price, taker float64) {
	if qty <= 0 {
		return
	}
	if qty > pos.RemainingQuantity {
		qty = pos.RemainingQuantity
	}
	pos.realizedGross += (price - pos.EntryPrice) * pos.sign() * qty
	if taker > 0 {
		pos.feesPaid += (pos.EntryPrice*qty + price*qty) * taker / 100
	}
	pos.RemainingQuantity -= qty
}

// close liquidates the remainder, journals the trade and notifies everyone.
func (m *Monitor) close(pos *Position, price float64, reason string) {
	pos.mu.Lock()
	if pos.State == StateClosed {
		pos.mu.Unlock()
		return
	}
	taker := m.bot.Fees.TakerPct
	m.fill(pos, pos.RemainingQuantity, price, taker)
	pos.State = StateClosed

	gross := pos.realizedGross
	fees := pos.feesPaid
	net := gross - fees
	duration := int64(time.Since(pos.EntryTime).Seconds())
	pos.mu.Unlock()

	pnlPct := 0.0
	if pos.MarginRequired > 0 {
		pnlPct = net / pos.MarginRequired * 100
	}
	res := CloseResult{
		Reason:          reason,
		ExitPrice:       price,
		GrossPnLUSD:     gross,
		FeesUSD:         fees,
		NetPnLUSD:       net,
		PnLPct:          pnlPct,
		Win:             net > 0,
		DurationSeconds: duration,
	}

	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if err := m.db.ClosePosition(ctx, pos.ID, reason, net); err != nil {
		m.log.Error().Err(err).Int64("position_id", pos.ID).Msg("closing position row failed")
	}

	result := "loss"
	if res.Win {
		result = "win"
	}
	if err := m.db.InsertTrade(ctx, &database.TradeRow{
		PositionID:      pos.ID,
		SignalID:        pos.SignalID,
		BotVersion:      pos.BotVersion,
		Symbol:          pos.Symbol,
		Mode:            pos.Mode,
		Direction:       pos.Direction,
		SetupType:       pos.SetupType,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       price,
		Quantity:        pos.OriginalQuantity,
		MarginRequired:  pos.MarginRequired,
		Leverage:        pos.Leverage,
		PnLUSD:          net,
		PnLPct:          pnlPct,
		Result:          result,
		CloseReason:     reason,
		DurationSeconds: duration,
	}); err != nil {
		m.log.Error().Err(err).Int64("position_id", pos.ID).Msg("journalling trade failed")
	}

	if m.setupRec != nil {
		m.setupRec.RecordTrade(ctx, pos.SetupType, pos.Symbol, pos.Mode, res.Win, net)
	}

	// The learner studies pre-fee edge; fees are a sizing concern, not a
	// setup-quality concern.
	if m.bot.IsV4() {
		if err := m.db.InsertTradeContext(ctx, pos.BotVersion, pos.ID, pos.LearnCtx,
			pos.IndicatorSnapshot, pos.ScoresSnapshot, pos.CandlePattern,
			pos.MaxProfitUSD, pos.MaxDrawdownUSD, gross, gross > 0,
			duration, time.Now().UTC()); err != nil {
			m.log.Warn().Err(err).Int64("position_id", pos.ID).Msg("recording trade context failed")
		}
	}

	m.mu.Lock()
	delete(m.positions, pos.ID)
	m.mu.Unlock()
	m.hub.Unsubscribe(pos.Symbol, m.subID(pos))
	m.cache.RemovePosition(ctx, m.bot.Version, pos.ID)

	metrics.OpenPositions.WithLabelValues(m.bot.Version).Dec()
	metrics.TradesClosed.WithLabelValues(m.bot.Version, result).Inc()

	for _, o := range m.observers {
		o.OnPositionClosed(pos, res)
	}

	m.log.Info().
		Int64("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Float64("exit", price).
		Float64("net_pnl", net).
		Float64("pnl_pct", pnlPct).
		Int64("duration_s", duration).
		Msg("position closed")
}

func (m *Monitor) persist(id int64, patch map[string]any) {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.db.UpdatePosition(ctx, id, patch); err != nil {
		m.log.Error().Err(err).Int64("position_id", id).Msg("persisting position patch failed")
	}
}
