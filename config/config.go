package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration: shared infrastructure plus one
// BotConfig per bot version (v1..v4).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Market    MarketConfig    `yaml:"market"`
	Sentiment SentimentConfig `yaml:"sentiment"`

	Bots map[string]*BotConfig `yaml:"bots"`
}

type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	AllowedOrigins  string `yaml:"allowed_origins"`
	ReadTimeout     int    `yaml:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Console bool   `yaml:"console"` // human-readable instead of JSON
}

type MarketConfig struct {
	RESTBaseURL    string `yaml:"rest_base_url"`
	WSURL          string `yaml:"ws_url"`
	HTTPTimeoutSec int    `yaml:"http_timeout_sec"`
}

type SentimentConfig struct {
	Enabled          bool   `yaml:"enabled"`
	CacheTTLSeconds  int    `yaml:"cache_ttl_seconds"`
	CryptoPanicToken string `yaml:"cryptopanic_token"`
}

// BotConfig is one bot variant's full parameter set.
type BotConfig struct {
	Version string       `yaml:"version"` // v1, v2, v3, v4
	Pairs   []PairConfig `yaml:"pairs"`

	Scanner      ScannerConfig          `yaml:"scanner"`
	Direction    DirectionConfig        `yaml:"direction"`
	Tradeability TradeabilityConfig     `yaml:"tradeability"`
	Scoring      ScoringConfig          `yaml:"scoring"`
	Modes        map[string]*ModeConfig `yaml:"modes"`

	SwingNeutralAllowed bool    `yaml:"swing_neutral_allowed"`
	InitialBalance      float64 `yaml:"initial_balance"`

	// V4 extensions. Zero values leave the features off for V1-V3.
	Fees             FeesConfig             `yaml:"fees"`
	Sizing           SizingConfig           `yaml:"sizing"`
	RiskLimits       RiskLimitsConfig       `yaml:"risk_limits"`
	ProfitProtection ProfitProtectionConfig `yaml:"profit_protection"`
	TrailingTP       TrailingTPConfig       `yaml:"trailing_tp"`
}

type PairConfig struct {
	Symbol  string `yaml:"symbol"`
	Enabled bool   `yaml:"enabled"`
}

type ScannerConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	AntiFlipFlopSeconds int `yaml:"anti_flip_flop_seconds"`
	InterSymbolDelayMS  int `yaml:"inter_symbol_delay_ms"`
}

type DirectionConfig struct {
	EMAFast             int     `yaml:"ema_fast"`
	EMASlow             int     `yaml:"ema_slow"`
	EMANeutralThreshold float64 `yaml:"ema_neutral_threshold"` // percent
	RSILongThreshold    float64 `yaml:"rsi_long_threshold"`
	RSIShortThreshold   float64 `yaml:"rsi_short_threshold"`
	StructureLookback   int     `yaml:"structure_lookback"`
}

type TradeabilityConfig struct {
	Thresholds TradeabilityThresholds `yaml:"thresholds"`
	Weights    map[string]float64     `yaml:"weights"`
	MinScore   float64                `yaml:"min_score"`
}

type TradeabilityThresholds struct {
	ATRMinRatio    float64 `yaml:"atr_min_ratio"`
	ATRMaxRatio    float64 `yaml:"atr_max_ratio"`
	VolumeMinRatio float64 `yaml:"volume_min_ratio"`
	SpreadKill     float64 `yaml:"spread_kill"`      // percent
	SpreadMaxScalp float64 `yaml:"spread_max_scalp"` // percent
	SpreadMaxSwing float64 `yaml:"spread_max_swing"` // percent
	FundingKill    float64 `yaml:"funding_kill"`
	FundingMax     float64 `yaml:"funding_max"`
	OIDropMaxPct   float64 `yaml:"oi_drop_max_pct"`
	MinDepthUSD    float64 `yaml:"min_depth_usd"`
}

type ScoringConfig struct {
	Weights map[string]ScoringWeights `yaml:"weights"` // keyed by mode
}

type ScoringWeights struct {
	Tradeability float64 `yaml:"tradeability"`
	Direction    float64 `yaml:"direction"`
	Setup        float64 `yaml:"setup"`
	Sentiment    float64 `yaml:"sentiment"`
}

// ModeConfig holds the per-mode (scalping / swing) parameter block.
type ModeConfig struct {
	Timeframes      TimeframesConfig      `yaml:"timeframes"`
	Entry           EntryConfig           `yaml:"entry"`
	StopLoss        StopLossConfig        `yaml:"stop_loss"`
	TakeProfit      TakeProfitConfig      `yaml:"take_profit"`
	Risk            ModeRiskConfig        `yaml:"risk"`
	EarlyProtection EarlyProtectionConfig `yaml:"early_protection"`

	MaxHoldSeconds int     `yaml:"max_hold_seconds"`
	MinProfitUSD   float64 `yaml:"min_profit_usd"`
	MaxLossUSD     float64 `yaml:"max_loss_usd"`
}

type TimeframesConfig struct {
	Analysis []string `yaml:"analysis"`
	Filter   string   `yaml:"filter"`
}

type EntryConfig struct {
	Setups                []string `yaml:"setups"`
	MinScore              float64  `yaml:"min_score"`
	BBSqueezeThreshold    float64  `yaml:"bb_squeeze_threshold"`
	VolumeSpikeRatio      float64  `yaml:"volume_spike_ratio"`
	RetestBufferPct       float64  `yaml:"retest_buffer_pct"`
	RejectionWickRatio    float64  `yaml:"rejection_wick_ratio"`
	EMABounceProximityPct float64  `yaml:"ema_bounce_proximity_pct"`
}

type StopLossConfig struct {
	Method        string  `yaml:"method"` // "atr" or "structural"
	ATRMultiplier float64 `yaml:"atr_multiplier"`
	BufferATR     float64 `yaml:"buffer_atr"`
	MaxStopPct    float64 `yaml:"max_stop_pct"`
}

type TakeProfitConfig struct {
	TP1RR       float64 `yaml:"tp1_rr"`
	TP2RR       float64 `yaml:"tp2_rr"`
	TP3RR       float64 `yaml:"tp3_rr"`
	TP1ClosePct float64 `yaml:"tp1_close_pct"`
	TP2ClosePct float64 `yaml:"tp2_close_pct"`
	TP3ClosePct float64 `yaml:"tp3_close_pct"`
}

type ModeRiskConfig struct {
	LeverageMin int `yaml:"leverage_min"`
	LeverageMax int `yaml:"leverage_max"`
}

type EarlyProtectionConfig struct {
	BreakevenAtPct     float64 `yaml:"breakeven_at_pct"`     // fraction of TP1 distance
	TrailActivationPct float64 `yaml:"trail_activation_pct"` // fraction of TP1 distance
	TrailBehindPct     float64 `yaml:"trail_behind_pct"`     // trail distance fraction
}

type FeesConfig struct {
	TakerPct float64 `yaml:"taker_pct"`
}

type SizingConfig struct {
	BasePct                float64 `yaml:"base_pct"` // fraction of balance per trade
	MinMargin              float64 `yaml:"min_margin"`
	MaxMargin              float64 `yaml:"max_margin"`
	SpreadMissingThreshold float64 `yaml:"spread_missing_threshold"`
}

type RiskLimitsConfig struct {
	MaxDailyLossUSD      float64 `yaml:"max_daily_loss_usd"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	PauseMinutes         int     `yaml:"pause_minutes"`
}

type ProfitProtectionConfig struct {
	Enabled           bool    `yaml:"enabled"`
	ActivationFeeMult float64 `yaml:"activation_fee_mult"`
	GivebackPct       float64 `yaml:"giveback_pct"` // fraction, e.g. 0.5
}

type TrailingTPConfig struct {
	Enabled     bool    `yaml:"enabled"`
	TP3ClosePct float64 `yaml:"tp3_close_pct"`
	TrailATR    float64 `yaml:"trail_atr"`
}

// IsV4 reports whether this bot runs the adaptive feature set.
func (b *BotConfig) IsV4() bool { return b.Version == "v4" }

// IsV3Plus reports whether mode-level absolute profit/loss caps and dynamic
// SL adjustments apply (V3 and V4).
func (b *BotConfig) IsV3Plus() bool { return b.Version == "v3" || b.Version == "v4" }

// EnabledSymbols returns the symbols this bot scans.
func (b *BotConfig) EnabledSymbols() []string {
	out := make([]string, 0, len(b.Pairs))
	for _, p := range b.Pairs {
		if p.Enabled {
			out = append(out, p.Symbol)
		}
	}
	return out
}

// SpreadMax returns the per-mode soft spread ceiling.
func (t TradeabilityThresholds) SpreadMax(mode string) float64 {
	if mode == "swing" {
		return t.SpreadMaxSwing
	}
	return t.SpreadMaxScalp
}

// Load reads the process configuration. It loads .env first (missing file is
// fine), then the YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, bot := range c.Bots {
		if bot.Version == "" {
			bot.Version = name
		}
		for mode, weights := range bot.Scoring.Weights {
			sum := weights.Tradeability + weights.Direction + weights.Setup + weights.Sentiment
			if sum < 0.99 || sum > 1.01 {
				return fmt.Errorf("bot %s mode %s: scoring weights sum to %.3f, want 1.0", name, mode, sum)
			}
		}
		var wsum float64
		for _, w := range bot.Tradeability.Weights {
			wsum += w
		}
		if len(bot.Tradeability.Weights) > 0 && (wsum < 0.99 || wsum > 1.01) {
			return fmt.Errorf("bot %s: tradeability weights sum to %.3f, want 1.0", name, wsum)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Console = getEnvBoolOrDefault("LOG_CONSOLE", cfg.Logging.Console)

	cfg.Market.RESTBaseURL = getEnvOrDefault("MEXC_REST_URL", cfg.Market.RESTBaseURL)
	cfg.Market.WSURL = getEnvOrDefault("MEXC_WS_URL", cfg.Market.WSURL)

	cfg.Sentiment.CryptoPanicToken = getEnvOrDefault("CRYPTOPANIC_TOKEN", cfg.Sentiment.CryptoPanicToken)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "futures_engine",
			SSLMode:  "disable",
			MaxConns: 25,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Logging: LoggingConfig{Level: "info"},
		Market: MarketConfig{
			RESTBaseURL:    "https://contract.mexc.com",
			WSURL:          "wss://contract.mexc.com/edge",
			HTTPTimeoutSec: 10,
		},
		Sentiment: SentimentConfig{
			Enabled:         true,
			CacheTTLSeconds: 300,
		},
		Bots: DefaultBots(),
	}
}

// DefaultBots builds the four stock bot variants. A YAML config file
// overrides any of these fields.
func DefaultBots() map[string]*BotConfig {
	bots := make(map[string]*BotConfig, 4)
	for _, v := range []string{"v1", "v2", "v3", "v4"} {
		bots[v] = defaultBot(v)
	}
	return bots
}

func defaultBot(version string) *BotConfig {
	bot := &BotConfig{
		Version: version,
		Pairs: []PairConfig{
			{Symbol: "BTC_USDT", Enabled: true},
			{Symbol: "SOL_USDT", Enabled: true},
			{Symbol: "XRP_USDT", Enabled: true},
			{Symbol: "DOGE_USDT", Enabled: true},
			{Symbol: "AVAX_USDT", Enabled: true},
			{Symbol: "LINK_USDT", Enabled: true},
		},
		Scanner: ScannerConfig{
			IntervalSeconds:     60,
			AntiFlipFlopSeconds: 45,
			InterSymbolDelayMS:  1000,
		},
		Direction: DirectionConfig{
			EMAFast:             20,
			EMASlow:             50,
			EMANeutralThreshold: 0.2,
			RSILongThreshold:    55,
			RSIShortThreshold:   45,
			StructureLookback:   50,
		},
		Tradeability: TradeabilityConfig{
			Thresholds: TradeabilityThresholds{
				ATRMinRatio:    0.8,
				ATRMaxRatio:    2.0,
				VolumeMinRatio: 0.7,
				SpreadKill:     0.4,
				SpreadMaxScalp: 0.08,
				SpreadMaxSwing: 0.15,
				FundingKill:    0.15,
				FundingMax:     0.05,
				OIDropMaxPct:   10.0,
				MinDepthUSD:    1000,
			},
			Weights: map[string]float64{
				"volatility": 0.20,
				"volume":     0.20,
				"spread":     0.15,
				"depth":      0.10,
				"funding":    0.10,
				"oi":         0.10,
				"adx":        0.15,
			},
			MinScore: 0.4,
		},
		Scoring: ScoringConfig{
			Weights: map[string]ScoringWeights{
				"scalping": {Tradeability: 0.30, Direction: 0.30, Setup: 0.35, Sentiment: 0.05},
				"swing":    {Tradeability: 0.25, Direction: 0.30, Setup: 0.25, Sentiment: 0.20},
			},
		},
		Modes: map[string]*ModeConfig{
			"scalping": {
				Timeframes: TimeframesConfig{Analysis: []string{"5m"}, Filter: "15m"},
				Entry: EntryConfig{
					Setups:                []string{"breakout", "retest", "divergence", "ema_bounce"},
					MinScore:              55,
					BBSqueezeThreshold:    1.5,
					VolumeSpikeRatio:      1.8,
					RetestBufferPct:       0.15,
					RejectionWickRatio:    1.5,
					EMABounceProximityPct: 0.2,
				},
				StopLoss:   StopLossConfig{Method: "atr", ATRMultiplier: 1.2, BufferATR: 0.3, MaxStopPct: 1.0},
				TakeProfit: TakeProfitConfig{TP1RR: 1.0, TP2RR: 1.8, TP3RR: 3.0, TP1ClosePct: 40, TP2ClosePct: 40, TP3ClosePct: 20},
				Risk:       ModeRiskConfig{LeverageMin: 5, LeverageMax: 20},
				EarlyProtection: EarlyProtectionConfig{
					BreakevenAtPct:     0.60,
					TrailActivationPct: 0.80,
					TrailBehindPct:     0.25,
				},
				MaxHoldSeconds: 4 * 3600,
				MinProfitUSD:   0.05,
				MaxLossUSD:     -8.0,
			},
			"swing": {
				Timeframes: TimeframesConfig{Analysis: []string{"1h"}, Filter: "4h"},
				Entry: EntryConfig{
					Setups:                []string{"breakout", "retest", "divergence", "ema_bounce"},
					MinScore:              60,
					BBSqueezeThreshold:    2.0,
					VolumeSpikeRatio:      1.5,
					RetestBufferPct:       0.3,
					RejectionWickRatio:    1.5,
					EMABounceProximityPct: 0.4,
				},
				StopLoss:   StopLossConfig{Method: "structural", ATRMultiplier: 1.5, BufferATR: 0.3, MaxStopPct: 2.5},
				TakeProfit: TakeProfitConfig{TP1RR: 1.5, TP2RR: 2.5, TP3RR: 4.0, TP1ClosePct: 40, TP2ClosePct: 40, TP3ClosePct: 20},
				Risk:       ModeRiskConfig{LeverageMin: 3, LeverageMax: 10},
				EarlyProtection: EarlyProtectionConfig{
					BreakevenAtPct:     0.60,
					TrailActivationPct: 0.80,
					TrailBehindPct:     0.25,
				},
				MaxHoldSeconds: 48 * 3600,
				MinProfitUSD:   0.05,
				MaxLossUSD:     -15.0,
			},
		},
		SwingNeutralAllowed: false,
		InitialBalance:      100.0,
	}

	switch version {
	case "v2", "v3":
		bot.Modes["scalping"].Entry.MinScore = 60
		bot.Modes["swing"].Entry.MinScore = 65
	case "v4":
		bot.Scoring.Weights = map[string]ScoringWeights{
			"scalping": {Tradeability: 0.35, Direction: 0.30, Setup: 0.30, Sentiment: 0.05},
			"swing":    {Tradeability: 0.30, Direction: 0.25, Setup: 0.25, Sentiment: 0.20},
		}
		bot.Tradeability.Weights = map[string]float64{
			"volatility": 0.18,
			"volume":     0.18,
			"spread":     0.14,
			"depth":      0.10,
			"funding":    0.10,
			"oi":         0.10,
			"adx":        0.10,
			"order_flow": 0.10,
		}
		for _, m := range bot.Modes {
			m.Entry.Setups = append(m.Entry.Setups, "momentum")
		}
		bot.Fees = FeesConfig{TakerPct: 0.06}
		bot.Sizing = SizingConfig{
			BasePct:                0.10,
			MinMargin:              5.0,
			MaxMargin:              25.0,
			SpreadMissingThreshold: 900,
		}
		bot.RiskLimits = RiskLimitsConfig{
			MaxDailyLossUSD:      15.0,
			MaxConsecutiveLosses: 4,
			PauseMinutes:         120,
		}
		bot.ProfitProtection = ProfitProtectionConfig{
			Enabled:           true,
			ActivationFeeMult: 3.0,
			GivebackPct:       0.5,
		}
		bot.TrailingTP = TrailingTPConfig{Enabled: true, TP3ClosePct: 50, TrailATR: 0.5}
	}
	return bot
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// ShutdownGrace returns the configured server shutdown timeout.
func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}
