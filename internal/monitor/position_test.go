package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/internal/database"
)

func TestStopAndTargetHits(t *testing.T) {
	long := &Position{Direction: "long", StopLoss: 97, TP1: 104}
	assert.True(t, long.stopHit(96.9))
	assert.True(t, long.stopHit(97))
	assert.False(t, long.stopHit(97.1))
	assert.True(t, long.targetHit(104.2, long.TP1))
	assert.False(t, long.targetHit(103.9, long.TP1))

	short := &Position{Direction: "short", StopLoss: 103, TP1: 96}
	assert.True(t, short.stopHit(103.5))
	assert.False(t, short.stopHit(102.9))
	assert.True(t, short.targetHit(95.8, short.TP1))
	assert.False(t, short.targetHit(96.2, short.TP1))
}

func TestGrossPnLCombinesRealizedAndMark(t *testing.T) {
	p := &Position{
		Direction:         "long",
		EntryPrice:        100,
		RemainingQuantity: 3,
		realizedGross:     2.5,
	}
	// 2.5 realized + (102-100)*3 unrealized
	assert.InDelta(t, 8.5, p.grossPnL(102), 1e-9)

	p.Direction = "short"
	assert.InDelta(t, -3.5, p.grossPnL(102), 1e-9)
}

func TestRoundtripFees(t *testing.T) {
	p := &Position{PositionSizeUSD: 600}
	assert.InDelta(t, 0.72, p.roundtripFeesUSD(0.06), 1e-9)
	assert.InDelta(t, 0.0, p.roundtripFeesUSD(0), 1e-9)
}

func TestBreakevenPriceCoversFees(t *testing.T) {
	long := &Position{
		Direction:         "long",
		EntryPrice:        100,
		PositionSizeUSD:   60,
		RemainingQuantity: 6,
	}
	// Roundtrip fees 0.072 spread over 6 units.
	assert.InDelta(t, 100.012, long.breakevenPrice(0.06), 1e-9)

	short := &Position{
		Direction:         "short",
		EntryPrice:        100,
		PositionSizeUSD:   60,
		RemainingQuantity: 6,
	}
	assert.InDelta(t, 99.988, short.breakevenPrice(0.06), 1e-9)

	// Fee-free bots break even exactly at entry.
	assert.InDelta(t, 100.0, long.breakevenPrice(0), 1e-9)
}

func TestTryLockGuardsReentry(t *testing.T) {
	p := &Position{State: StateActive}
	assert.True(t, p.tryLock())
	assert.False(t, p.tryLock())
	p.unlock()
	assert.True(t, p.tryLock())

	closed := &Position{State: StateClosed}
	assert.False(t, closed.tryLock())
}

func TestFromRowDefaultsState(t *testing.T) {
	p := fromRow(&database.PositionRow{ID: 7, Symbol: "BTC_USDT"})
	assert.Equal(t, StateActive, p.State)
	assert.Equal(t, int64(7), p.ID)
}
