package correlation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterOf(t *testing.T) {
	assert.Equal(t, "btc_eco", ClusterOf("BTC_USDT"))
	assert.Equal(t, "btc_eco", ClusterOf("SOL_USDT"))
	assert.Equal(t, "meme", ClusterOf("PEPE_USDT"))
	assert.Equal(t, "defi", ClusterOf("ARB_USDT"))
	assert.Equal(t, "other", ClusterOf("XRP_USDT"))
	assert.Equal(t, "other", ClusterOf("NEWCOIN_USDT"))
}

func TestTrackerCorrelationIdenticalMoves(t *testing.T) {
	tr := NewTracker()
	px := 100.0
	for i := 0; i < 15; i++ {
		// Alternate up and down so the return series has variance.
		if i%2 == 0 {
			px *= 1.01
		} else {
			px *= 0.99
		}
		tr.Observe("A_USDT", px)
		tr.Observe("B_USDT", px*2)
	}

	c, ok := tr.Correlation("A_USDT", "B_USDT")
	require.True(t, ok)
	assert.InDelta(t, 1.0, c, 1e-6)
}

func TestTrackerCorrelationInverseMoves(t *testing.T) {
	tr := NewTracker()
	a, b := 100.0, 100.0
	for i := 0; i < 15; i++ {
		step := 1.01
		if i%2 == 1 {
			step = 0.99
		}
		a *= step
		b /= step
		tr.Observe("A_USDT", a)
		tr.Observe("B_USDT", b)
	}

	c, ok := tr.Correlation("A_USDT", "B_USDT")
	require.True(t, ok)
	assert.InDelta(t, -1.0, c, 1e-3)
}

func TestTrackerNeedsTenPairedSamples(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 8; i++ {
		tr.Observe("A_USDT", 100+float64(i))
		tr.Observe("B_USDT", 200+float64(i))
	}
	_, ok := tr.Correlation("A_USDT", "B_USDT")
	assert.False(t, ok)
}

func TestTrackerIgnoresBadPrices(t *testing.T) {
	tr := NewTracker()
	tr.Observe("A_USDT", 100)
	tr.Observe("A_USDT", 0)
	tr.Observe("A_USDT", math.NaN())
	tr.Observe("A_USDT", 101)
	assert.Len(t, tr.returns["A_USDT"], 1)
}

func TestMatrixDiagonal(t *testing.T) {
	tr := NewTracker()
	m := tr.Matrix([]string{"A_USDT", "B_USDT"})
	assert.InDelta(t, 1.0, m["A_USDT"]["A_USDT"], 1e-9)
	_, crossPresent := m["A_USDT"]["B_USDT"]
	assert.False(t, crossPresent) // no data yet
}
