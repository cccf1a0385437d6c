package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
)

// New builds the root logger from config. Components derive their own child
// loggers via Component.
func New(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := parseLevel(cfg.Level)

	var logger zerolog.Logger
	if cfg.Console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name, and a bot
// version when one applies (empty string omits the field).
func Component(base zerolog.Logger, component, botVersion string) zerolog.Logger {
	ctx := base.With().Str("component", component)
	if botVersion != "" {
		ctx = ctx.Str("bot", botVersion)
	}
	return ctx.Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
