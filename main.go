package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/api"
	"mexc-futures-engine/internal/bot"
	"mexc-futures-engine/internal/correlation"
	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/logging"
	"mexc-futures-engine/internal/market"
	"mexc-futures-engine/internal/monitor"
	"mexc-futures-engine/internal/sentiment"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		// Built-in defaults apply when no file is present.
		if _, err := os.Stat("config.yaml"); err == nil {
			cfgPath = "config.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.Logging)
	log.Info().Str("config", cfgPath).Int("bots", len(cfg.Bots)).Msg("engine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	client := market.NewClient(cfg.Market, log)
	if err := client.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("exchange ping failed, continuing")
	}
	hub := market.NewStreamHub(cfg.Market.WSURL, log)
	defer hub.Close()
	flow := market.NewOrderFlowTracker(time.Minute)

	// The order-flow window needs the raw deal stream for every scanned
	// symbol, independent of open positions.
	flowSymbols := map[string]bool{}
	for _, bc := range cfg.Bots {
		if !bc.IsV4() {
			continue
		}
		for _, sym := range bc.EnabledSymbols() {
			if !flowSymbols[sym] {
				flowSymbols[sym] = true
				hub.Subscribe(sym, "orderflow", flow.Record)
			}
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, state mirror disabled")
			rdb = nil
		}
	}
	cache := monitor.NewStateCache(rdb, log)

	deps := bot.Deps{
		DB:        db,
		Client:    client,
		Hub:       hub,
		Flow:      flow,
		Sentiment: sentiment.NewProvider(cfg.Sentiment, log),
		Corr:      correlation.NewTracker(),
		Cache:     cache,
		Log:       log,
	}

	bots := make(map[string]*bot.Bot, len(cfg.Bots))
	for name, bc := range cfg.Bots {
		b := bot.New(bc, deps)
		if err := b.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("bot", name).Msg("bot start failed")
		}
		bots[name] = b
	}

	server := api.NewServer(cfg.Server, db, bots, deps.Corr, log)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	for _, b := range bots {
		b.Stop()
	}
	cancel()
	log.Info().Msg("engine stopped")
}
