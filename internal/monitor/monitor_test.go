package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/market"
	"mexc-futures-engine/internal/signal"
)

// stubStore records persistence calls so tick sequences can run without a
// database.
type stubStore struct {
	mu       sync.Mutex
	patches  []map[string]any
	closes   []string
	trades   []*database.TradeRow
	contexts int
}

func (s *stubStore) ActivePositions(ctx context.Context, botVersion string) ([]*database.PositionRow, error) {
	return nil, nil
}

func (s *stubStore) InsertActivePosition(ctx context.Context, p *database.PositionRow) (int64, error) {
	return 1, nil
}

func (s *stubStore) UpdatePosition(ctx context.Context, id int64, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches = append(s.patches, patch)
	return nil
}

func (s *stubStore) ClosePosition(ctx context.Context, id int64, closeReason string, pnlUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, closeReason)
	return nil
}

func (s *stubStore) InsertTrade(ctx context.Context, t *database.TradeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *stubStore) InsertTradeContext(ctx context.Context, botVersion string, positionID int64, sctx signal.Context,
	indicators, scores map[string]float64, candlePattern string,
	maxProfit, maxDrawdown, pnlUSD float64, isWin bool, durationSeconds int64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts++
	return nil
}

type stubStream struct{}

func (stubStream) Subscribe(symbol, id string, fn market.DealHandler) {}

func (stubStream) Unsubscribe(symbol, id string) {}

type captureObserver struct {
	results []CloseResult
}

func (c *captureObserver) OnPositionClosed(pos *Position, res CloseResult) {
	c.results = append(c.results, res)
}

func newTestMonitor(bot *config.BotConfig) (*Monitor, *stubStore) {
	store := &stubStore{}
	return &Monitor{
		bot:       bot,
		db:        store,
		hub:       stubStream{},
		log:       zerolog.Nop(),
		positions: make(map[int64]*Position),
		lastATR:   make(map[string]float64),
	}, store
}

func (m *Monitor) track(pos *Position) {
	m.positions[pos.ID] = pos
}

func TestEvaluateMaxLossUsesDefaultConfig(t *testing.T) {
	bot := config.DefaultBots()["v3"]
	require.NotNil(t, bot)
	require.Less(t, bot.Modes["scalping"].MaxLossUSD, 0.0)

	m, store := newTestMonitor(bot)
	pos := &Position{
		ID: 1, Symbol: "BTC_USDT", Mode: "scalping", Direction: "long",
		EntryPrice: 100, StopLoss: 80, TP1: 110, TP2: 120, TP3: 130,
		OriginalQuantity: 10, RemainingQuantity: 10,
		State: StateActive, EntryTime: time.Now(),
	}
	m.track(pos)

	// $5 down is inside the cap, nothing closes.
	m.evaluate(pos, 99.5)
	assert.Equal(t, StateActive, pos.State)
	assert.Empty(t, store.closes)

	// $10 down breaches the $8 cap well before the price stop at 80.
	m.evaluate(pos, 99.0)
	assert.Equal(t, StateClosed, pos.State)
	require.Len(t, store.closes, 1)
	assert.Equal(t, "max_loss", store.closes[0])
}

func ladderBot() *config.BotConfig {
	return &config.BotConfig{
		Version: "v1",
		Modes:   map[string]*config.ModeConfig{"scalping": {}},
	}
}

func ladderPosition() *Position {
	return &Position{
		ID: 7, Symbol: "ETH_USDT", Mode: "scalping", Direction: "long",
		EntryPrice: 100, StopLoss: 99, TP1: 101, TP2: 102, TP3: 103,
		TP1ClosePct: 40, TP2ClosePct: 40, TP3ClosePct: 20,
		OriginalQuantity: 10, RemainingQuantity: 10,
		State: StateActive, EntryTime: time.Now(),
	}
}

func TestEvaluateTakeProfitLadder(t *testing.T) {
	m, store := newTestMonitor(ladderBot())
	obs := &captureObserver{}
	m.AddObserver(obs)
	pos := ladderPosition()
	m.track(pos)

	m.evaluate(pos, 101)
	assert.True(t, pos.TP1Hit)
	assert.Equal(t, StateBreakeven, pos.State)
	assert.InDelta(t, 6.0, pos.RemainingQuantity, 1e-9)
	assert.InDelta(t, 100.0, pos.StopLoss, 1e-9) // breakeven at entry, fee-free bot

	m.evaluate(pos, 102)
	assert.True(t, pos.TP2Hit)
	assert.Equal(t, StateTrailing, pos.State)
	assert.InDelta(t, 2.0, pos.RemainingQuantity, 1e-9)
	assert.InDelta(t, 101.0, pos.StopLoss, 1e-9) // stop locked at tp1

	// Non-V4 bots close out entirely at tp3.
	m.evaluate(pos, 103)
	assert.Equal(t, StateClosed, pos.State)
	require.Len(t, store.closes, 1)
	assert.Equal(t, "tp3", store.closes[0])

	// 4 @ +1, 4 @ +2, 2 @ +3.
	require.Len(t, obs.results, 1)
	assert.InDelta(t, 18.0, obs.results[0].NetPnLUSD, 1e-9)
	assert.True(t, obs.results[0].Win)
	require.Len(t, store.trades, 1)
	assert.InDelta(t, 18.0, store.trades[0].PnLUSD, 1e-9)

	// The closed position no longer ticks.
	m.evaluate(pos, 104)
	assert.Len(t, store.closes, 1)
}

func TestEvaluateBreakevenExitAfterTP1(t *testing.T) {
	m, store := newTestMonitor(ladderBot())
	obs := &captureObserver{}
	m.AddObserver(obs)
	pos := ladderPosition()
	m.track(pos)

	m.evaluate(pos, 101)
	require.True(t, pos.TP1Hit)

	// A full retrace to entry stops out the remainder, keeping the tp1 bank.
	m.evaluate(pos, 100)
	assert.Equal(t, StateClosed, pos.State)
	require.Len(t, store.closes, 1)
	assert.Equal(t, "breakeven_exit", store.closes[0])
	require.Len(t, obs.results, 1)
	assert.InDelta(t, 4.0, obs.results[0].NetPnLUSD, 1e-9)
}

func TestEvaluateGivebackRequiresFeeCoverage(t *testing.T) {
	bot := &config.BotConfig{
		Version: "v4",
		Fees:    config.FeesConfig{TakerPct: 0.06},
		Modes:   map[string]*config.ModeConfig{"scalping": {}},
		ProfitProtection: config.ProfitProtectionConfig{
			Enabled:           true,
			ActivationFeeMult: 3,
			GivebackPct:       0.5,
		},
	}
	m, store := newTestMonitor(bot)
	pos := &Position{
		ID: 9, Symbol: "SOL_USDT", Mode: "scalping", Direction: "long",
		EntryPrice: 100, StopLoss: 90, TP1: 200, TP2: 210, TP3: 220,
		OriginalQuantity: 6, RemainingQuantity: 6, PositionSizeUSD: 600,
		MaxProfitUSD: 3.0, // past the 3x fee activation (roundtrip 0.72)
		State:        StateActive,
		EntryTime:    time.Now(),
	}
	m.track(pos)

	// 80% giveback, but gross $0.60 cannot cover the $0.72 roundtrip fees;
	// closing here would lock in a net loss, so the position rides on.
	m.evaluate(pos, 100.1)
	assert.Equal(t, StateActive, pos.State)
	assert.Empty(t, store.closes)

	// Gross $1.20 clears the roundtrip fees and the retrace is still past
	// the giveback threshold, so the remainder is banked.
	m.evaluate(pos, 100.2)
	assert.Equal(t, StateClosed, pos.State)
	require.Len(t, store.closes, 1)
	assert.Equal(t, "profit_giveback", store.closes[0])
	require.Len(t, store.trades, 1)
	assert.Greater(t, store.trades[0].PnLUSD, 0.0)
	assert.Equal(t, 1, store.contexts)
}
