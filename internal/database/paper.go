package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientMargin is returned when a reservation would exceed the free
// balance.
var ErrInsufficientMargin = errors.New("insufficient free margin")

// Portfolio is one paper_portfolio row.
type Portfolio struct {
	BotVersion     string    `json:"bot_version"`
	InitialBalance float64   `json:"initial_balance"`
	CurrentBalance float64   `json:"current_balance"`
	ReservedMargin float64   `json:"reserved_margin"`
	TotalTrades    int       `json:"total_trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	TotalPnL       float64   `json:"total_pnl"`
	BestTradePnL   float64   `json:"best_trade_pnl"`
	WorstTradePnL  float64   `json:"worst_trade_pnl"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FreeBalance is the balance not locked under open positions.
func (p *Portfolio) FreeBalance() float64 {
	return p.CurrentBalance - p.ReservedMargin
}

// WinRate in percent over all closed trades.
func (p *Portfolio) WinRate() float64 {
	if p.TotalTrades == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.TotalTrades) * 100
}

// InitPaperPortfolio seeds the row if it does not exist yet. An existing row
// is left untouched so balances survive restarts.
func (db *DB) InitPaperPortfolio(ctx context.Context, botVersion string, initialBalance float64) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO paper_portfolio (bot_version, initial_balance, current_balance)
		VALUES ($1, $2, $2)
		ON CONFLICT (bot_version) DO NOTHING`,
		botVersion, initialBalance)
	if err != nil {
		return fmt.Errorf("initialising paper portfolio %s: %w", botVersion, err)
	}
	return nil
}

// GetPaperPortfolio loads the row for one bot.
func (db *DB) GetPaperPortfolio(ctx context.Context, botVersion string) (*Portfolio, error) {
	p := &Portfolio{}
	err := db.Pool.QueryRow(ctx, `
		SELECT bot_version, initial_balance, current_balance, reserved_margin,
			total_trades, wins, losses, total_pnl, best_trade_pnl,
			worst_trade_pnl, updated_at
		FROM paper_portfolio WHERE bot_version=$1`, botVersion).
		Scan(&p.BotVersion, &p.InitialBalance, &p.CurrentBalance, &p.ReservedMargin,
			&p.TotalTrades, &p.Wins, &p.Losses, &p.TotalPnL, &p.BestTradePnL,
			&p.WorstTradePnL, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("loading paper portfolio %s: %w", botVersion, err)
	}
	return p, nil
}

// ReservePaperMargin atomically locks margin for a new position. The WHERE
// clause rejects the reservation when the free balance is too small, so
// concurrent scanners cannot over-commit the account.
func (db *DB) ReservePaperMargin(ctx context.Context, botVersion string, margin float64) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE paper_portfolio
		SET reserved_margin = reserved_margin + $2, updated_at = now()
		WHERE bot_version = $1
		  AND current_balance - reserved_margin >= $2`,
		botVersion, margin)
	if err != nil {
		return fmt.Errorf("reserving paper margin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientMargin
	}
	return nil
}

// ReleasePaperMargin returns locked margin without settling pnl, for
// positions rejected after reservation.
func (db *DB) ReleasePaperMargin(ctx context.Context, botVersion string, margin float64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE paper_portfolio
		SET reserved_margin = GREATEST(reserved_margin - $2, 0), updated_at = now()
		WHERE bot_version = $1`,
		botVersion, margin)
	if err != nil {
		return fmt.Errorf("releasing paper margin: %w", err)
	}
	return nil
}

// SettlePaperTrade releases the margin of a closed position and applies its
// realised pnl and win/loss counters in one statement.
func (db *DB) SettlePaperTrade(ctx context.Context, botVersion string, margin, pnlUSD float64, win bool) error {
	winInc, lossInc := 0, 1
	if win {
		winInc, lossInc = 1, 0
	}
	_, err := db.Pool.Exec(ctx, `
		UPDATE paper_portfolio
		SET reserved_margin = GREATEST(reserved_margin - $2, 0),
			current_balance = current_balance + $3,
			total_trades = total_trades + 1,
			wins = wins + $4,
			losses = losses + $5,
			total_pnl = total_pnl + $3,
			best_trade_pnl = GREATEST(best_trade_pnl, $3),
			worst_trade_pnl = LEAST(worst_trade_pnl, $3),
			updated_at = now()
		WHERE bot_version = $1`,
		botVersion, margin, pnlUSD, winInc, lossInc)
	if err != nil {
		return fmt.Errorf("settling paper trade: %w", err)
	}
	return nil
}

// AvgOpenMargin returns the average margin across this bot's open positions,
// used for the dynamic position cap.
func (db *DB) AvgOpenMargin(ctx context.Context, botVersion string) (float64, error) {
	var avg *float64
	err := db.Pool.QueryRow(ctx, `
		SELECT AVG(margin_required) FROM active_positions
		WHERE bot_version=$1 AND state != 'closed'`, botVersion).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}
