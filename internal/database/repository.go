package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"mexc-futures-engine/internal/signal"
)

// PositionRow mirrors one active_positions row.
type PositionRow struct {
	ID         int64
	SignalID   int64
	BotVersion string
	Symbol     string
	Mode       string
	Direction  string
	SetupType  string

	EntryPrice float64
	StopLoss   float64
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
	SLHit  bool

	EntryTime   time.Time
	ClosedAt    *time.Time
	CloseReason string
	PnLUSD      float64

	MaxProfitUSD   float64
	MaxDrawdownUSD float64
	OriginalSL     float64
	EntryATR       float64

	IndicatorSnapshot map[string]float64
	RegimeSnapshot    *signal.Regime
	ScoresSnapshot    map[string]float64
	CandlePattern     string
}

// TradeRow is one append-only journal entry.
type TradeRow struct {
	PositionID      int64
	SignalID        int64
	BotVersion      string
	Symbol          string
	Mode            string
	Direction       string
	SetupType       string
	EntryPrice      float64
	ExitPrice       float64
	Quantity        float64
	MarginRequired  float64
	Leverage        int
	PnLUSD          float64
	PnLPct          float64
	Result          string
	CloseReason     string
	DurationSeconds int64
}

// InsertSignal persists a freshly emitted signal with status active and
// returns the row id.
func (db *DB) InsertSignal(ctx context.Context, s *signal.Signal) (int64, error) {
	reasons, _ := json.Marshal(s.Reasons)
	indicators, _ := json.Marshal(s.IndicatorSnapshot)
	regime, _ := json.Marshal(s.RegimeSnapshot)
	scores, _ := json.Marshal(s.ScoresSnapshot)

	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO signals (
			client_id, bot_version, symbol, mode, direction, score,
			entry_price, stop_loss, tp1, tp2, tp3, setup_type, leverage,
			rr_ratio, tp1_close_pct, tp2_close_pct, tp3_close_pct, reasons,
			tradeability_score, direction_score, setup_score, sentiment_score,
			indicator_snapshot, regime_snapshot, scores_snapshot,
			candle_pattern, entry_atr
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
			$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
		RETURNING id`,
		s.ID, s.BotVersion, s.Symbol, s.Mode, s.Direction, s.Score,
		s.EntryPrice, s.StopLoss, s.TP1, s.TP2, s.TP3, s.SetupType, s.Leverage,
		s.RRRatio, s.TP1ClosePct, s.TP2ClosePct, s.TP3ClosePct, reasons,
		s.TradeabilityScore, s.DirectionScore, s.SetupScore, s.SentimentScore,
		indicators, regime, scores, s.CandlePattern, s.EntryATR,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting signal: %w", err)
	}
	return id, nil
}

// UpdateSignalStatus moves a signal along active -> executed|skipped|error.
func (db *DB) UpdateSignalStatus(ctx context.Context, id int64, status string) error {
	_, err := db.Pool.Exec(ctx, `UPDATE signals SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("updating signal %d status: %w", id, err)
	}
	return nil
}

// RecentSignals returns the newest rows for the API, all bots.
func (db *DB) RecentSignals(ctx context.Context, limit int) ([]map[string]any, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, bot_version, symbol, mode, direction, score, entry_price,
			stop_loss, tp1, tp2, tp3, setup_type, leverage, rr_ratio, status,
			created_at
		FROM signals ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id                                     int64
			bot, symbol, mode, direction           string
			setupType, status                      string
			score, entry, sl, tp1, tp2, tp3, rr    float64
			leverage                               int
			createdAt                              time.Time
		)
		if err := rows.Scan(&id, &bot, &symbol, &mode, &direction, &score, &entry,
			&sl, &tp1, &tp2, &tp3, &setupType, &leverage, &rr, &status, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"id": id, "bot_version": bot, "symbol": symbol, "mode": mode,
			"direction": direction, "score": score, "entry_price": entry,
			"stop_loss": sl, "tp1": tp1, "tp2": tp2, "tp3": tp3,
			"setup_type": setupType, "leverage": leverage, "rr_ratio": rr,
			"status": status, "created_at": createdAt,
		})
	}
	return out, rows.Err()
}

// InsertActivePosition creates the row and returns its id.
func (db *DB) InsertActivePosition(ctx context.Context, p *PositionRow) (int64, error) {
	indicators, _ := json.Marshal(p.IndicatorSnapshot)
	regime, _ := json.Marshal(p.RegimeSnapshot)
	scores, _ := json.Marshal(p.ScoresSnapshot)

	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO active_positions (
			signal_id, bot_version, symbol, mode, direction, setup_type,
			entry_price, stop_loss, tp1, tp2, tp3,
			tp1_close_pct, tp2_close_pct, tp3_close_pct,
			original_quantity, remaining_quantity, position_size_usd,
			margin_required, leverage, state, entry_time,
			original_sl, entry_atr, indicator_snapshot, regime_snapshot,
			scores_snapshot, candle_pattern
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
			$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
		RETURNING id`,
		p.SignalID, p.BotVersion, p.Symbol, p.Mode, p.Direction, p.SetupType,
		p.EntryPrice, p.StopLoss, p.TP1, p.TP2, p.TP3,
		p.TP1ClosePct, p.TP2ClosePct, p.TP3ClosePct,
		p.OriginalQuantity, p.RemainingQuantity, p.PositionSizeUSD,
		p.MarginRequired, p.Leverage, p.State, p.EntryTime,
		p.OriginalSL, p.EntryATR, indicators, regime, scores, p.CandlePattern,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting position: %w", err)
	}
	return id, nil
}

// positionColumns whitelists the patchable columns for UpdatePosition.
var positionColumns = map[string]bool{
	"stop_loss": true, "remaining_quantity": true, "state": true,
	"tp1_hit": true, "tp2_hit": true, "tp3_hit": true, "sl_hit": true,
	"max_profit_usd": true, "max_drawdown_usd": true,
	"close_reason": true, "pnl_usd": true, "closed_at": true,
}

// UpdatePosition applies a column patch to one position.
func (db *DB) UpdatePosition(ctx context.Context, id int64, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	keys := make([]string, 0, len(patch))
	for k := range patch {
		if !positionColumns[k] {
			return fmt.Errorf("refusing to patch column %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, id)
	for i, k := range keys {
		sets = append(sets, fmt.Sprintf("%s=$%d", k, i+2))
		args = append(args, patch[k])
	}
	query := fmt.Sprintf("UPDATE active_positions SET %s WHERE id=$1", strings.Join(sets, ", "))
	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("updating position %d: %w", id, err)
	}
	return nil
}

// ClosePosition marks the row closed and applies the final patch.
func (db *DB) ClosePosition(ctx context.Context, id int64, closeReason string, pnlUSD float64) error {
	now := time.Now().UTC()
	return db.UpdatePosition(ctx, id, map[string]any{
		"state":        "closed",
		"closed_at":    now,
		"close_reason": closeReason,
		"pnl_usd":      pnlUSD,
	})
}

// ActivePositions returns all non-closed positions for one bot.
func (db *DB) ActivePositions(ctx context.Context, botVersion string) ([]*PositionRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, signal_id, bot_version, symbol, mode, direction, setup_type,
			entry_price, stop_loss, tp1, tp2, tp3,
			tp1_close_pct, tp2_close_pct, tp3_close_pct,
			original_quantity, remaining_quantity, position_size_usd,
			margin_required, leverage, state, tp1_hit, tp2_hit, tp3_hit, sl_hit,
			entry_time, COALESCE(close_reason, ''), COALESCE(pnl_usd, 0),
			max_profit_usd, max_drawdown_usd, COALESCE(original_sl, 0),
			COALESCE(entry_atr, 0), COALESCE(candle_pattern, '')
		FROM active_positions
		WHERE bot_version=$1 AND state != 'closed'
		ORDER BY id`, botVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PositionRow
	for rows.Next() {
		p := &PositionRow{}
		var tp1Hit, tp2Hit, tp3Hit, slHit int
		if err := rows.Scan(&p.ID, &p.SignalID, &p.BotVersion, &p.Symbol, &p.Mode,
			&p.Direction, &p.SetupType, &p.EntryPrice, &p.StopLoss, &p.TP1, &p.TP2,
			&p.TP3, &p.TP1ClosePct, &p.TP2ClosePct, &p.TP3ClosePct,
			&p.OriginalQuantity, &p.RemainingQuantity, &p.PositionSizeUSD,
			&p.MarginRequired, &p.Leverage, &p.State, &tp1Hit, &tp2Hit, &tp3Hit,
			&slHit, &p.EntryTime, &p.CloseReason, &p.PnLUSD,
			&p.MaxProfitUSD, &p.MaxDrawdownUSD, &p.OriginalSL,
			&p.EntryATR, &p.CandlePattern); err != nil {
			return nil, err
		}
		p.TP1Hit, p.TP2Hit, p.TP3Hit, p.SLHit = tp1Hit == 1, tp2Hit == 1, tp3Hit == 1, slHit == 1
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertTrade appends one journal row.
func (db *DB) InsertTrade(ctx context.Context, t *TradeRow) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO trades_journal (
			position_id, signal_id, bot_version, symbol, mode, direction,
			setup_type, entry_price, exit_price, quantity, margin_required,
			leverage, pnl_usd, pnl_pct, result, close_reason, duration_seconds
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.PositionID, t.SignalID, t.BotVersion, t.Symbol, t.Mode, t.Direction,
		t.SetupType, t.EntryPrice, t.ExitPrice, t.Quantity, t.MarginRequired,
		t.Leverage, t.PnLUSD, t.PnLPct, t.Result, t.CloseReason, t.DurationSeconds)
	if err != nil {
		return fmt.Errorf("inserting trade: %w", err)
	}
	return nil
}

// LogTradeability appends one telemetry row for a no_trade verdict.
func (db *DB) LogTradeability(ctx context.Context, botVersion, symbol, mode string, score float64, reason string, details []string) error {
	payload, _ := json.Marshal(details)
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO tradeability_log (bot_version, symbol, mode, score, reason, details)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		botVersion, symbol, mode, score, reason, payload)
	return err
}

// InsertMarketSnapshot records the compact per-scan market state.
func (db *DB) InsertMarketSnapshot(ctx context.Context, symbol string, price, atr, rsi, adx, spreadPct, fundingPct, oiChangePct float64) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO market_snapshots (symbol, price, atr, rsi, adx, spread_pct, funding_pct, oi_change_pct)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		symbol, price, atr, rsi, adx, spreadPct, fundingPct, oiChangePct)
	return err
}
