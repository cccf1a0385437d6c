package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mexc-futures-engine/internal/signal"
)

// SetupPerformance is one setup_performance row.
type SetupPerformance struct {
	BotVersion  string    `json:"bot_version"`
	SetupType   string    `json:"setup_type"`
	Symbol      string    `json:"symbol"`
	Mode        string    `json:"mode"`
	TotalTrades int       `json:"total_trades"`
	Wins        int       `json:"wins"`
	TotalPnL    float64   `json:"total_pnl"`
	Disabled    bool      `json:"disabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WinRate in percent.
func (s *SetupPerformance) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades) * 100
}

// LearningWeight is one learning_weights row.
type LearningWeight struct {
	BotVersion     string    `json:"bot_version"`
	Dimension      string    `json:"dimension"`
	DimensionValue string    `json:"dimension_value"`
	WeightModifier float64   `json:"weight_modifier"`
	Confidence     float64   `json:"confidence"`
	WinRate7d      float64   `json:"win_rate_7d"`
	WinRate30d     float64   `json:"win_rate_30d"`
	WinRateAll     float64   `json:"win_rate_all"`
	AvgPnL         float64   `json:"avg_pnl"`
	SampleSize     int       `json:"sample_size"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TradeContextRow is one trade_context row as read back for recomputation.
type TradeContextRow struct {
	BotVersion      string
	Symbol          string
	Mode            string
	Direction       string
	SetupType       string
	Score           float64
	MTFScore        float64
	Regime          string
	PnLUSD          float64
	IsWin           bool
	DurationSeconds int64
	HourUTC         int
	DayOfWeek       int
	CreatedAt       time.Time
}

// RecordSetupResult folds one closed trade into the aggregate row.
func (db *DB) RecordSetupResult(ctx context.Context, botVersion, setupType, symbol, mode string, win bool, pnlUSD float64) error {
	winInc := 0
	if win {
		winInc = 1
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO setup_performance (bot_version, setup_type, symbol, mode, total_trades, wins, total_pnl)
		VALUES ($1,$2,$3,$4,1,$5,$6)
		ON CONFLICT (bot_version, setup_type, symbol, mode) DO UPDATE
		SET total_trades = setup_performance.total_trades + 1,
			wins = setup_performance.wins + $5,
			total_pnl = setup_performance.total_pnl + $6,
			updated_at = now()`,
		botVersion, setupType, symbol, mode, winInc, pnlUSD)
	if err != nil {
		return fmt.Errorf("recording setup result: %w", err)
	}
	return nil
}

// SetSetupDisabled flips the disabled flag on one combo.
func (db *DB) SetSetupDisabled(ctx context.Context, botVersion, setupType, symbol, mode string, disabled bool) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE setup_performance SET disabled=$5, updated_at=now()
		WHERE bot_version=$1 AND setup_type=$2 AND symbol=$3 AND mode=$4`,
		botVersion, setupType, symbol, mode, disabled)
	return err
}

// SetupPerformanceRows returns every aggregate for one bot.
func (db *DB) SetupPerformanceRows(ctx context.Context, botVersion string) ([]*SetupPerformance, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT bot_version, setup_type, symbol, mode, total_trades, wins,
			total_pnl, disabled, updated_at
		FROM setup_performance WHERE bot_version=$1`, botVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SetupPerformance
	for rows.Next() {
		s := &SetupPerformance{}
		if err := rows.Scan(&s.BotVersion, &s.SetupType, &s.Symbol, &s.Mode,
			&s.TotalTrades, &s.Wins, &s.TotalPnL, &s.Disabled, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertTradeContext records the full context of one closed trade for the
// adaptive learner.
func (db *DB) InsertTradeContext(ctx context.Context, botVersion string, positionID int64, sctx signal.Context, indicators, scores map[string]float64, candlePattern string, maxProfit, maxDrawdown, pnlUSD float64, isWin bool, durationSeconds int64, closedAt time.Time) error {
	indJSON, _ := json.Marshal(indicators)
	scoresJSON, _ := json.Marshal(scores)
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO trade_context (
			bot_version, position_id, symbol, mode, direction, setup_type,
			score, mtf_score, regime, indicator_snapshot, scores_snapshot,
			candle_pattern, max_profit_usd, max_drawdown_usd, pnl_usd, is_win,
			duration_seconds, hour_utc, day_of_week
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		botVersion, positionID, sctx.Symbol, sctx.Mode, sctx.Direction,
		sctx.SetupType, sctx.Score, sctx.MTFScore, sctx.Regime, indJSON,
		scoresJSON, candlePattern, maxProfit, maxDrawdown, pnlUSD, isWin,
		durationSeconds, closedAt.UTC().Hour(), int(closedAt.UTC().Weekday()))
	if err != nil {
		return fmt.Errorf("inserting trade context: %w", err)
	}
	return nil
}

// TradeContexts loads the newest rows for recomputation, capped to keep the
// working set bounded.
func (db *DB) TradeContexts(ctx context.Context, botVersion string, limit int) ([]*TradeContextRow, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT bot_version, symbol, mode, direction, setup_type, score,
			mtf_score, COALESCE(regime, ''), pnl_usd, is_win,
			duration_seconds, hour_utc, day_of_week, created_at
		FROM trade_context WHERE bot_version=$1
		ORDER BY created_at DESC LIMIT $2`, botVersion, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TradeContextRow
	for rows.Next() {
		r := &TradeContextRow{}
		if err := rows.Scan(&r.BotVersion, &r.Symbol, &r.Mode, &r.Direction,
			&r.SetupType, &r.Score, &r.MTFScore, &r.Regime, &r.PnLUSD, &r.IsWin,
			&r.DurationSeconds, &r.HourUTC, &r.DayOfWeek, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertLearningWeight persists one recomputed dimension weight.
func (db *DB) UpsertLearningWeight(ctx context.Context, w *LearningWeight) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO learning_weights (
			bot_version, dimension, dimension_value, weight_modifier,
			confidence, win_rate_7d, win_rate_30d, win_rate_all, avg_pnl,
			sample_size
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (bot_version, dimension, dimension_value) DO UPDATE
		SET weight_modifier=$4, confidence=$5, win_rate_7d=$6, win_rate_30d=$7,
			win_rate_all=$8, avg_pnl=$9, sample_size=$10, updated_at=now()`,
		w.BotVersion, w.Dimension, w.DimensionValue, w.WeightModifier,
		w.Confidence, w.WinRate7d, w.WinRate30d, w.WinRateAll, w.AvgPnL,
		w.SampleSize)
	if err != nil {
		return fmt.Errorf("upserting learning weight: %w", err)
	}
	return nil
}

// LearningWeights returns the stored weights for one bot.
func (db *DB) LearningWeights(ctx context.Context, botVersion string) ([]*LearningWeight, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT bot_version, dimension, dimension_value, weight_modifier,
			confidence, COALESCE(win_rate_7d, 0), COALESCE(win_rate_30d, 0),
			COALESCE(win_rate_all, 0), avg_pnl, sample_size, updated_at
		FROM learning_weights WHERE bot_version=$1
		ORDER BY dimension, dimension_value`, botVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LearningWeight
	for rows.Next() {
		w := &LearningWeight{}
		if err := rows.Scan(&w.BotVersion, &w.Dimension, &w.DimensionValue,
			&w.WeightModifier, &w.Confidence, &w.WinRate7d, &w.WinRate30d,
			&w.WinRateAll, &w.AvgPnL, &w.SampleSize, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
