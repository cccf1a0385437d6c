// Package database wraps the PostgreSQL pool and exposes the persistence
// contract the engine reads and writes.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mexc-futures-engine/config"
)

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns == 0 {
		maxConns = 25
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

// RunMigrations creates the schema. Statements are idempotent and ordered.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			client_id TEXT UNIQUE NOT NULL,
			bot_version TEXT NOT NULL,
			symbol TEXT NOT NULL,
			mode TEXT NOT NULL,
			direction TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			tp1 DOUBLE PRECISION NOT NULL,
			tp2 DOUBLE PRECISION NOT NULL,
			tp3 DOUBLE PRECISION NOT NULL,
			setup_type TEXT NOT NULL,
			leverage INT NOT NULL,
			rr_ratio DOUBLE PRECISION NOT NULL,
			tp1_close_pct DOUBLE PRECISION NOT NULL,
			tp2_close_pct DOUBLE PRECISION NOT NULL,
			tp3_close_pct DOUBLE PRECISION NOT NULL,
			reasons JSONB,
			tradeability_score DOUBLE PRECISION,
			direction_score DOUBLE PRECISION,
			setup_score DOUBLE PRECISION,
			sentiment_score DOUBLE PRECISION,
			indicator_snapshot JSONB,
			regime_snapshot JSONB,
			scores_snapshot JSONB,
			candle_pattern TEXT,
			entry_atr DOUBLE PRECISION,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_bot_symbol ON signals (bot_version, symbol, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS active_positions (
			id BIGSERIAL PRIMARY KEY,
			signal_id BIGINT,
			bot_version TEXT NOT NULL,
			symbol TEXT NOT NULL,
			mode TEXT NOT NULL,
			direction TEXT NOT NULL,
			setup_type TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			tp1 DOUBLE PRECISION NOT NULL,
			tp2 DOUBLE PRECISION NOT NULL,
			tp3 DOUBLE PRECISION NOT NULL,
			tp1_close_pct DOUBLE PRECISION NOT NULL,
			tp2_close_pct DOUBLE PRECISION NOT NULL,
			tp3_close_pct DOUBLE PRECISION NOT NULL,
			original_quantity DOUBLE PRECISION NOT NULL,
			remaining_quantity DOUBLE PRECISION NOT NULL,
			position_size_usd DOUBLE PRECISION NOT NULL,
			margin_required DOUBLE PRECISION NOT NULL,
			leverage INT NOT NULL,
			state TEXT NOT NULL DEFAULT 'active',
			tp1_hit INT NOT NULL DEFAULT 0,
			tp2_hit INT NOT NULL DEFAULT 0,
			tp3_hit INT NOT NULL DEFAULT 0,
			sl_hit INT NOT NULL DEFAULT 0,
			entry_time TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at TIMESTAMPTZ,
			close_reason TEXT,
			pnl_usd DOUBLE PRECISION,
			max_profit_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_drawdown_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			original_sl DOUBLE PRECISION,
			entry_atr DOUBLE PRECISION,
			indicator_snapshot JSONB,
			regime_snapshot JSONB,
			scores_snapshot JSONB,
			candle_pattern TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_bot_state ON active_positions (bot_version, state)`,

		`CREATE TABLE IF NOT EXISTS trades_journal (
			id BIGSERIAL PRIMARY KEY,
			position_id BIGINT,
			signal_id BIGINT,
			bot_version TEXT NOT NULL,
			symbol TEXT NOT NULL,
			mode TEXT NOT NULL,
			direction TEXT NOT NULL,
			setup_type TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION,
			quantity DOUBLE PRECISION NOT NULL,
			margin_required DOUBLE PRECISION NOT NULL,
			leverage INT NOT NULL,
			pnl_usd DOUBLE PRECISION NOT NULL,
			pnl_pct DOUBLE PRECISION NOT NULL,
			result TEXT NOT NULL,
			close_reason TEXT NOT NULL,
			duration_seconds BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_bot ON trades_journal (bot_version, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS paper_portfolio (
			bot_version TEXT PRIMARY KEY,
			initial_balance DOUBLE PRECISION NOT NULL,
			current_balance DOUBLE PRECISION NOT NULL,
			reserved_margin DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_trades INT NOT NULL DEFAULT 0,
			wins INT NOT NULL DEFAULT 0,
			losses INT NOT NULL DEFAULT 0,
			total_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			best_trade_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			worst_trade_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS setup_performance (
			id BIGSERIAL PRIMARY KEY,
			bot_version TEXT NOT NULL,
			setup_type TEXT NOT NULL,
			symbol TEXT NOT NULL,
			mode TEXT NOT NULL,
			total_trades INT NOT NULL DEFAULT 0,
			wins INT NOT NULL DEFAULT 0,
			total_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			disabled BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (bot_version, setup_type, symbol, mode)
		)`,

		`CREATE TABLE IF NOT EXISTS learning_weights (
			id BIGSERIAL PRIMARY KEY,
			bot_version TEXT NOT NULL,
			dimension TEXT NOT NULL,
			dimension_value TEXT NOT NULL,
			weight_modifier DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			win_rate_7d DOUBLE PRECISION,
			win_rate_30d DOUBLE PRECISION,
			win_rate_all DOUBLE PRECISION,
			avg_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			sample_size INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (bot_version, dimension, dimension_value)
		)`,

		`CREATE TABLE IF NOT EXISTS trade_context (
			id BIGSERIAL PRIMARY KEY,
			bot_version TEXT NOT NULL,
			position_id BIGINT,
			symbol TEXT NOT NULL,
			mode TEXT NOT NULL,
			direction TEXT NOT NULL,
			setup_type TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			mtf_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			regime TEXT,
			indicator_snapshot JSONB,
			scores_snapshot JSONB,
			candle_pattern TEXT,
			max_profit_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_drawdown_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl_usd DOUBLE PRECISION NOT NULL,
			is_win BOOLEAN NOT NULL,
			duration_seconds BIGINT NOT NULL DEFAULT 0,
			hour_utc INT NOT NULL,
			day_of_week INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_context_bot ON trade_context (bot_version, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS tradeability_log (
			id BIGSERIAL PRIMARY KEY,
			bot_version TEXT NOT NULL,
			symbol TEXT NOT NULL,
			mode TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS market_snapshots (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			atr DOUBLE PRECISION,
			rsi DOUBLE PRECISION,
			adx DOUBLE PRECISION,
			spread_pct DOUBLE PRECISION,
			funding_pct DOUBLE PRECISION,
			oi_change_pct DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
