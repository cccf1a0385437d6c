package learner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mexc-futures-engine/internal/database"
)

const (
	setupMinTrades   = 5
	disableBelowPct  = 30.0
	reenableAbovePct = 40.0
	setupCacheTTL    = 5 * time.Minute
)

// SetupLearner disables setup/symbol/mode combinations whose realised win
// rate has collapsed, and re-enables them once they recover. It implements
// signal.SetupFilter.
type SetupLearner struct {
	db         *database.DB
	botVersion string
	log        zerolog.Logger

	mu       sync.RWMutex
	disabled map[string]bool // "setup|symbol|mode"
	lastLoad time.Time
}

func NewSetupLearner(db *database.DB, botVersion string, log zerolog.Logger) *SetupLearner {
	return &SetupLearner{
		db:         db,
		botVersion: botVersion,
		log:        log.With().Str("component", "setup_learner").Logger(),
		disabled:   make(map[string]bool),
	}
}

// FilterSetups removes disabled setups for this symbol and mode.
func (l *SetupLearner) FilterSetups(symbol, mode string, setups []string) []string {
	l.refresh()

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := setups[:0:0]
	for _, s := range setups {
		if !l.disabled[s+"|"+symbol+"|"+mode] {
			out = append(out, s)
		}
	}
	return out
}

// RecordTrade folds one closed trade into the aggregates and re-evaluates
// the disable flag for that combination.
func (l *SetupLearner) RecordTrade(ctx context.Context, setupType, symbol, mode string, win bool, pnlUSD float64) {
	if err := l.db.RecordSetupResult(ctx, l.botVersion, setupType, symbol, mode, win, pnlUSD); err != nil {
		l.log.Warn().Err(err).Msg("recording setup result failed")
		return
	}

	rows, err := l.db.SetupPerformanceRows(ctx, l.botVersion)
	if err != nil {
		l.log.Warn().Err(err).Msg("loading setup performance failed")
		return
	}
	for _, r := range rows {
		if r.SetupType != setupType || r.Symbol != symbol || r.Mode != mode {
			continue
		}
		l.evaluate(ctx, r)
		return
	}
}

// Performance returns the aggregate rows for the API.
func (l *SetupLearner) Performance(ctx context.Context) ([]*database.SetupPerformance, error) {
	return l.db.SetupPerformanceRows(ctx, l.botVersion)
}

func (l *SetupLearner) evaluate(ctx context.Context, r *database.SetupPerformance) {
	if r.TotalTrades < setupMinTrades {
		return
	}
	wr := r.WinRate()
	key := r.SetupType + "|" + r.Symbol + "|" + r.Mode

	switch {
	case !r.Disabled && wr < disableBelowPct:
		if err := l.db.SetSetupDisabled(ctx, l.botVersion, r.SetupType, r.Symbol, r.Mode, true); err == nil {
			l.mu.Lock()
			l.disabled[key] = true
			l.mu.Unlock()
			l.log.Info().
				Str("setup", r.SetupType).
				Str("symbol", r.Symbol).
				Str("mode", r.Mode).
				Float64("win_rate", wr).
				Msg("setup disabled")
		}
	case r.Disabled && wr >= reenableAbovePct:
		if err := l.db.SetSetupDisabled(ctx, l.botVersion, r.SetupType, r.Symbol, r.Mode, false); err == nil {
			l.mu.Lock()
			delete(l.disabled, key)
			l.mu.Unlock()
			l.log.Info().
				Str("setup", r.SetupType).
				Str("symbol", r.Symbol).
				Str("mode", r.Mode).
				Float64("win_rate", wr).
				Msg("setup re-enabled")
		}
	}
}

func (l *SetupLearner) refresh() {
	l.mu.RLock()
	stale := time.Since(l.lastLoad) > setupCacheTTL
	l.mu.RUnlock()
	if !stale {
		return
	}

	rows, err := l.db.SetupPerformanceRows(context.Background(), l.botVersion)
	if err != nil {
		l.log.Warn().Err(err).Msg("refreshing disabled setups failed")
		return
	}
	disabled := make(map[string]bool)
	for _, r := range rows {
		if r.Disabled {
			disabled[r.SetupType+"|"+r.Symbol+"|"+r.Mode] = true
		}
	}

	l.mu.Lock()
	l.disabled = disabled
	l.lastLoad = time.Now()
	l.mu.Unlock()
}
