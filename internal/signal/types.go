// Package signal implements the layered scoring pipeline: tradeability,
// direction, entry and sentiment, orchestrated by the Engine.
package signal

import (
	"time"
)

// Signal is the engine's output. Type distinguishes the two variants: a
// tradable "signal" with full pricing, or a "no_trade" verdict carrying only
// the rejection reason and the tradeability score for telemetry.
type Signal struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"` // "signal" or "no_trade"
	Symbol     string    `json:"symbol"`
	Mode       string    `json:"mode"`
	BotVersion string    `json:"bot_version"`
	CreatedAt  time.Time `json:"created_at"`

	Direction  string  `json:"direction"` // long, short, none
	Score      float64 `json:"score"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TP1        float64 `json:"tp1"`
	TP2        float64 `json:"tp2"`
	TP3        float64 `json:"tp3"`
	SetupType  string  `json:"setup_type"`
	Leverage   int     `json:"leverage"`
	RRRatio    float64 `json:"rr_ratio"`

	TP1ClosePct float64 `json:"tp1_close_pct"`
	TP2ClosePct float64 `json:"tp2_close_pct"`
	TP3ClosePct float64 `json:"tp3_close_pct"`

	Reasons []string `json:"reasons"`

	// Layer sub-scores.
	TradeabilityScore float64 `json:"tradeability_score"`
	DirectionScore    float64 `json:"direction_score"`
	SetupScore        float64 `json:"setup_score"`
	SentimentScore    float64 `json:"sentiment_score"`

	// no_trade only.
	Reason string `json:"reason,omitempty"`

	// V4 enrichment, nil/empty on other bots and on no_trade.
	IndicatorSnapshot map[string]float64 `json:"indicator_snapshot,omitempty"`
	RegimeSnapshot    *Regime            `json:"regime_snapshot,omitempty"`
	ScoresSnapshot    map[string]float64 `json:"scores_snapshot,omitempty"`
	CandlePattern     string             `json:"candle_pattern,omitempty"`
	EntryATR          float64            `json:"entry_atr,omitempty"`
	MTFScore          float64            `json:"mtf_score,omitempty"`
}

// IsTrade reports whether this is an actionable signal.
func (s *Signal) IsTrade() bool {
	return s.Type == "signal" && s.Direction != "none"
}

// Context is the slice of a signal the adaptive learner keys its dimensions
// on.
type Context struct {
	SetupType string
	Symbol    string
	Mode      string
	Regime    string
	Direction string
	Score     float64
	MTFScore  float64
	HourUTC   int
}

// ModifierSource provides the bounded learning modifier for a candidate
// signal. Implemented by the V4 adaptive learner; a nil source means no
// adjustment.
type ModifierSource interface {
	Modifier(ctx Context) (total float64, reasons []string)
}

// SetupFilter removes setup types the legacy per-combo learner disabled.
type SetupFilter interface {
	FilterSetups(symbol, mode string, setups []string) []string
}
