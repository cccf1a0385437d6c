// Package circuit halts a bot's trade admission after sustained losses.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"mexc-futures-engine/config"
)

type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // admission halted
	StateHalfOpen State = "half_open" // pause elapsed, probing with the next trade
)

// Breaker tracks realised results for one bot and pauses admission when the
// daily loss or consecutive-loss limit is hit. Counters are in USD because
// the paper account settles in USD.
type Breaker struct {
	cfg config.RiskLimitsConfig

	mu                sync.RWMutex
	state             State
	consecutiveLosses int
	dailyLossUSD      float64
	dailyResetTime    time.Time
	lastTripTime      time.Time
	tripReason        string
	onTrip            func(reason string)
}

func NewBreaker(cfg config.RiskLimitsConfig) *Breaker {
	now := time.Now().UTC()
	return &Breaker{
		cfg:            cfg,
		state:          StateClosed,
		dailyResetTime: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
}

// OnTrip sets the callback invoked when the breaker opens.
func (b *Breaker) OnTrip(fn func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = fn
}

// Allow reports whether a new position may be opened.
func (b *Breaker) Allow() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetIfNewDay()

	if b.state == StateOpen {
		pause := time.Duration(b.cfg.PauseMinutes) * time.Minute
		elapsed := time.Since(b.lastTripTime)
		if elapsed < pause {
			remaining := (pause - elapsed).Round(time.Second)
			return false, fmt.Sprintf("paused %s more (%s)", remaining, b.tripReason)
		}
		b.state = StateHalfOpen
	}

	if b.cfg.MaxDailyLossUSD > 0 && b.dailyLossUSD >= b.cfg.MaxDailyLossUSD {
		return false, fmt.Sprintf("daily loss $%.2f at limit $%.2f", b.dailyLossUSD, b.cfg.MaxDailyLossUSD)
	}
	if b.cfg.MaxConsecutiveLosses > 0 && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		return false, fmt.Sprintf("%d consecutive losses", b.consecutiveLosses)
	}
	return true, ""
}

// RecordResult folds one closed trade into the counters and trips the
// breaker when a limit is crossed.
func (b *Breaker) RecordResult(pnlUSD float64) {
	if math.IsNaN(pnlUSD) || math.IsInf(pnlUSD, 0) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetIfNewDay()

	if pnlUSD < 0 {
		b.consecutiveLosses++
		b.dailyLossUSD += -pnlUSD
	} else {
		b.consecutiveLosses = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.tripReason = ""
		}
	}

	var reason string
	if b.cfg.MaxConsecutiveLosses > 0 && b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		reason = fmt.Sprintf("%d consecutive losses", b.consecutiveLosses)
	} else if b.cfg.MaxDailyLossUSD > 0 && b.dailyLossUSD >= b.cfg.MaxDailyLossUSD {
		reason = fmt.Sprintf("daily loss $%.2f reached limit $%.2f", b.dailyLossUSD, b.cfg.MaxDailyLossUSD)
	}
	if reason != "" && b.state != StateOpen {
		b.state = StateOpen
		b.lastTripTime = time.Now()
		b.tripReason = reason
		if b.onTrip != nil {
			go b.onTrip(reason)
		}
	}
}

// Reset clears the trip state manually.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.tripReason = ""
}

func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats is the API readout.
func (b *Breaker) Stats() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]any{
		"state":               string(b.state),
		"consecutive_losses":  b.consecutiveLosses,
		"daily_loss_usd":      b.dailyLossUSD,
		"trip_reason":         b.tripReason,
		"last_trip_time":      b.lastTripTime,
		"daily_reset_at":      b.dailyResetTime,
	}
}

// resetIfNewDay zeroes the daily counters at UTC midnight. Caller holds the
// lock.
func (b *Breaker) resetIfNewDay() {
	now := time.Now().UTC()
	if now.After(b.dailyResetTime) {
		b.dailyLossUSD = 0
		b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}
