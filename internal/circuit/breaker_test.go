package circuit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/config"
)

func TestBreakerConsecutiveLossTrip(t *testing.T) {
	b := NewBreaker(config.RiskLimitsConfig{MaxConsecutiveLosses: 4, PauseMinutes: 30})

	for i := 0; i < 3; i++ {
		b.RecordResult(-5)
	}
	ok, _ := b.Allow()
	assert.True(t, ok)
	assert.Equal(t, StateClosed, b.State())

	b.RecordResult(-5)
	assert.Equal(t, StateOpen, b.State())

	ok, reason := b.Allow()
	assert.False(t, ok)
	assert.Contains(t, reason, "paused")
}

func TestBreakerDailyLossTrip(t *testing.T) {
	b := NewBreaker(config.RiskLimitsConfig{MaxDailyLossUSD: 50, PauseMinutes: 0})

	b.RecordResult(-30)
	ok, _ := b.Allow()
	assert.True(t, ok)

	b.RecordResult(-25)
	assert.Equal(t, StateOpen, b.State())

	ok, reason := b.Allow()
	assert.False(t, ok)
	assert.Contains(t, reason, "daily loss")
}

func TestBreakerHalfOpenRecoversOnWin(t *testing.T) {
	b := NewBreaker(config.RiskLimitsConfig{MaxConsecutiveLosses: 2, PauseMinutes: 0})

	b.RecordResult(-5)
	b.RecordResult(-5)
	assert.Equal(t, StateOpen, b.State())

	// Zero pause moves the breaker to half-open on the next admission check;
	// the standing loss streak still blocks it.
	ok, _ := b.Allow()
	assert.False(t, ok)
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordResult(10)
	assert.Equal(t, StateClosed, b.State())
	ok, _ = b.Allow()
	assert.True(t, ok)
}

func TestBreakerWinResetsStreak(t *testing.T) {
	b := NewBreaker(config.RiskLimitsConfig{MaxConsecutiveLosses: 3, PauseMinutes: 0})

	b.RecordResult(-5)
	b.RecordResult(-5)
	b.RecordResult(3)
	b.RecordResult(-5)
	b.RecordResult(-5)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresNonFiniteResults(t *testing.T) {
	b := NewBreaker(config.RiskLimitsConfig{MaxConsecutiveLosses: 1, PauseMinutes: 0})

	b.RecordResult(math.NaN())
	b.RecordResult(math.Inf(-1))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerManualReset(t *testing.T) {
	b := NewBreaker(config.RiskLimitsConfig{MaxConsecutiveLosses: 1, PauseMinutes: 60})

	b.RecordResult(-5)
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	ok, _ := b.Allow()
	assert.True(t, ok)
}
