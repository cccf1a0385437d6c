package learner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/monitor"
	"mexc-futures-engine/internal/signal"
)

// The learner refreshes its weights the moment a position settles.
var _ monitor.Observer = (*Adaptive)(nil)

func TestHourGroup(t *testing.T) {
	assert.Equal(t, "asian", hourGroup(0))
	assert.Equal(t, "asian", hourGroup(7))
	assert.Equal(t, "european", hourGroup(8))
	assert.Equal(t, "european", hourGroup(15))
	assert.Equal(t, "us", hourGroup(16))
	assert.Equal(t, "us", hourGroup(23))
}

func TestScoreRangeBoundaries(t *testing.T) {
	assert.Equal(t, "50-59", scoreRange(42))
	assert.Equal(t, "50-59", scoreRange(59.9))
	assert.Equal(t, "60-69", scoreRange(60))
	assert.Equal(t, "70-79", scoreRange(79.9))
	assert.Equal(t, "80+", scoreRange(80))
	assert.Equal(t, "80+", scoreRange(100))
}

func TestMTFBucket(t *testing.T) {
	assert.Equal(t, "positive", mtfBucket(6))
	assert.Equal(t, "negative", mtfBucket(-4))
	assert.Equal(t, "zero", mtfBucket(0))
}

func TestBucketModifier(t *testing.T) {
	w := func(sample int, wr7, wr30, confidence float64) *database.LearningWeight {
		return &database.LearningWeight{
			SampleSize: sample,
			WinRate7d:  wr7,
			WinRate30d: wr30,
			Confidence: confidence,
		}
	}

	// Thin samples stay neutral regardless of win rate.
	assert.Zero(t, bucketModifier(w(4, 10, 10, 0.2)))

	// Deep losers at enough sample get the full penalty; the penalty is not
	// diluted by confidence.
	assert.InDelta(t, -15.0, bucketModifier(w(20, 25, 28, 1.0)), 1e-9)
	assert.InDelta(t, -15.0, bucketModifier(w(10, 25, 28, 0.5)), 1e-9)

	// Under the strong-sample bar a deep loser only gets the mild penalty.
	assert.InDelta(t, -8.0, bucketModifier(w(6, 25, 28, 1.0)), 1e-9)

	assert.InDelta(t, -8.0, bucketModifier(w(20, 35, 40, 1.0)), 1e-9)
	assert.InDelta(t, 5.0, bucketModifier(w(20, 70, 60, 1.0)), 1e-9)
	assert.Zero(t, bucketModifier(w(20, 50, 50, 1.0)))

	// Empty recent window falls back to the 30-day rate.
	assert.InDelta(t, 5.0, bucketModifier(w(20, 0, 70, 1.0)), 1e-9)
}

func TestEffectiveWinRatePrefersRecent(t *testing.T) {
	assert.InDelta(t, 55.0, effectiveWinRate(&database.LearningWeight{WinRate7d: 55, WinRate30d: 40}), 1e-9)
	assert.InDelta(t, 40.0, effectiveWinRate(&database.LearningWeight{WinRate7d: 0, WinRate30d: 40}), 1e-9)
}

func TestContextKeysCoverEveryDimension(t *testing.T) {
	keys := contextKeys(signal.Context{
		SetupType: "breakout",
		Symbol:    "BTC_USDT",
		Mode:      "scalping",
		Regime:    "",
		HourUTC:   9,
		Score:     72,
		Direction: "long",
		MTFScore:  -3,
	})

	got := map[string]string{}
	for _, k := range keys {
		got[k.dimension] = k.value
	}
	assert.Len(t, keys, 8)
	assert.Equal(t, "breakout", got["setup_type"])
	assert.Equal(t, "unknown", got["regime"])
	assert.Equal(t, "european", got["hour_group"])
	assert.Equal(t, "70-79", got["score_range"])
	assert.Equal(t, "negative", got["mtf_confluence"])
}

func TestClamp(t *testing.T) {
	assert.InDelta(t, -20.0, clamp(-33, modifierFloor, modifierCeil), 1e-9)
	assert.InDelta(t, 10.0, clamp(14, modifierFloor, modifierCeil), 1e-9)
	assert.InDelta(t, 3.0, clamp(3, modifierFloor, modifierCeil), 1e-9)
}
