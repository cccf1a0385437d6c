// Package bot assembles one bot version from its parts: signal engine,
// position monitor, paper trader, scanner and learners.
package bot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/circuit"
	"mexc-futures-engine/internal/correlation"
	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/learner"
	"mexc-futures-engine/internal/market"
	"mexc-futures-engine/internal/monitor"
	"mexc-futures-engine/internal/paper"
	"mexc-futures-engine/internal/scanner"
	"mexc-futures-engine/internal/sentiment"
	"mexc-futures-engine/internal/signal"
)

// Bot is one fully wired bot version.
type Bot struct {
	Cfg      *config.BotConfig
	Engine   *signal.Engine
	Monitor  *monitor.Monitor
	Trader   *paper.Trader
	Scanner  *scanner.Scanner
	Breaker  *circuit.Breaker
	Adaptive *learner.Adaptive
	Setups   *learner.SetupLearner

	db  *database.DB
	log zerolog.Logger
}

// Deps are the process-wide singletons shared by every bot.
type Deps struct {
	DB        *database.DB
	Client    *market.Client
	Hub       *market.StreamHub
	Flow      *market.OrderFlowTracker
	Sentiment *sentiment.Provider
	Corr      *correlation.Tracker
	Cache     *monitor.StateCache
	Log       zerolog.Logger
}

// New wires one bot version. V1-V3 run without the adaptive learner; every
// version carries the per-setup learner and the circuit breaker.
func New(cfg *config.BotConfig, d Deps) *Bot {
	log := d.Log.With().Str("bot", cfg.Version).Logger()

	setups := learner.NewSetupLearner(d.DB, cfg.Version, log)

	var adaptive *learner.Adaptive
	var modifiers signal.ModifierSource
	if cfg.IsV4() {
		adaptive = learner.NewAdaptive(d.DB, cfg.Version, log)
		modifiers = adaptive
	}

	engine := signal.NewEngine(cfg, d.Sentiment, modifiers, setups, log)
	breaker := circuit.NewBreaker(cfg.RiskLimits)
	mon := monitor.NewMonitor(cfg, d.DB, d.Client, d.Hub, d.Cache, setups, log)
	trader := paper.NewTrader(cfg, d.DB, mon, breaker, d.Cache, log)
	mon.AddObserver(trader)
	if cfg.IsV4() {
		mon.AddObserver(adaptive)
	}

	scan := scanner.New(cfg, d.Client, d.Flow, engine, d.DB, trader, mon, d.Corr, log)

	breaker.OnTrip(func(reason string) {
		log.Warn().Str("reason", reason).Msg("circuit breaker tripped, admission paused")
	})

	return &Bot{
		Cfg:      cfg,
		Engine:   engine,
		Monitor:  mon,
		Trader:   trader,
		Scanner:  scan,
		Breaker:  breaker,
		Adaptive: adaptive,
		Setups:   setups,
		db:       d.DB,
		log:      log,
	}
}

// Start seeds the portfolio, restores positions and begins scanning.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.db.InitPaperPortfolio(ctx, b.Cfg.Version, b.Cfg.InitialBalance); err != nil {
		return fmt.Errorf("bot %s: %w", b.Cfg.Version, err)
	}
	if err := b.Monitor.Start(ctx); err != nil {
		return fmt.Errorf("bot %s: %w", b.Cfg.Version, err)
	}
	b.Scanner.Start(ctx)
	b.log.Info().
		Int("symbols", len(b.Cfg.EnabledSymbols())).
		Int("modes", len(b.Cfg.Modes)).
		Msg("bot started")
	return nil
}

// Stop halts scanning first so no new positions arrive while the monitor
// shuts down.
func (b *Bot) Stop() {
	b.Scanner.Stop()
	b.Monitor.Stop()
	b.log.Info().Msg("bot stopped")
}
