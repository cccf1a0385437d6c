package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/config"
	"mexc-futures-engine/internal/signal"
)

func testScanner() *Scanner {
	return &Scanner{
		bot: &config.BotConfig{
			Version: "v4",
			Scanner: config.ScannerConfig{AntiFlipFlopSeconds: 45},
		},
		last:     make(map[string]*lastSignal),
		cooldown: make(map[string]time.Time),
	}
}

func TestAdmitCooldown(t *testing.T) {
	s := testScanner()
	sig := &signal.Signal{Symbol: "BTC_USDT", Mode: "scalping", Direction: "long", SetupType: "breakout", EntryPrice: 100}

	s.cooldown["BTC_USDT_scalping"] = time.Now().Add(3 * time.Minute)
	assert.Equal(t, "cooldown active", s.admit("BTC_USDT_scalping", sig))

	s.cooldown["BTC_USDT_scalping"] = time.Now().Add(-time.Second)
	assert.Empty(t, s.admit("BTC_USDT_scalping", sig))
}

func TestAdmitAntiFlipFlop(t *testing.T) {
	s := testScanner()
	key := "BTC_USDT_scalping"
	s.last[key] = &lastSignal{
		direction: "long",
		setupType: "breakout",
		entry:     100,
		at:        time.Now().Add(-10 * time.Second),
	}

	flipped := &signal.Signal{Symbol: "BTC_USDT", Mode: "scalping", Direction: "short", SetupType: "breakout", EntryPrice: 100}
	assert.Contains(t, s.admit(key, flipped), "flip")

	// Outside the window the reversal is legitimate.
	s.last[key].at = time.Now().Add(-60 * time.Second)
	assert.Empty(t, s.admit(key, flipped))
}

func TestAdmitDuplicateIdea(t *testing.T) {
	s := testScanner()
	key := "BTC_USDT_scalping"
	s.last[key] = &lastSignal{
		direction: "long",
		setupType: "breakout",
		entry:     100,
		at:        time.Now().Add(-2 * time.Minute),
	}

	near := &signal.Signal{Symbol: "BTC_USDT", Mode: "scalping", Direction: "long", SetupType: "breakout", EntryPrice: 100.1}
	assert.Equal(t, "duplicate of recent signal", s.admit(key, near))

	// Enough entry drift makes it a new idea.
	far := &signal.Signal{Symbol: "BTC_USDT", Mode: "scalping", Direction: "long", SetupType: "breakout", EntryPrice: 100.5}
	assert.Empty(t, s.admit(key, far))

	// A different setup shape at the same price is a new idea too.
	other := &signal.Signal{Symbol: "BTC_USDT", Mode: "scalping", Direction: "long", SetupType: "retest", EntryPrice: 100.05}
	assert.Empty(t, s.admit(key, other))
}

func TestAdmitFirstSignalPasses(t *testing.T) {
	s := testScanner()
	sig := &signal.Signal{Symbol: "SOL_USDT", Mode: "swing", Direction: "short", SetupType: "divergence", EntryPrice: 50}
	assert.Empty(t, s.admit("SOL_USDT_swing", sig))
}

func TestTimeframesDeduplicated(t *testing.T) {
	s := testScanner()
	s.bot.Modes = map[string]*config.ModeConfig{
		"scalping": {Timeframes: config.TimeframesConfig{Analysis: []string{"1m", "5m"}, Filter: "15m"}},
		"swing":    {Timeframes: config.TimeframesConfig{Analysis: []string{"5m", "15m"}, Filter: "1h"}},
	}
	tfs := s.timeframes()
	assert.ElementsMatch(t, []string{"1m", "5m", "15m", "1h"}, tfs)
}

func TestPrimaryAnalysisTFPrefersScalping(t *testing.T) {
	s := testScanner()
	s.bot.Modes = map[string]*config.ModeConfig{
		"scalping": {Timeframes: config.TimeframesConfig{Analysis: []string{"1m"}}},
		"swing":    {Timeframes: config.TimeframesConfig{Analysis: []string{"15m"}}},
	}
	assert.Equal(t, "1m", s.primaryAnalysisTF())

	delete(s.bot.Modes, "scalping")
	assert.Equal(t, "15m", s.primaryAnalysisTF())

	s.bot.Modes = nil
	assert.Equal(t, "5m", s.primaryAnalysisTF())
}
