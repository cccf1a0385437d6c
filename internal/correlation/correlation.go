// Package correlation groups symbols into clusters and tracks rolling price
// correlation so the paper trader can refuse concentrated exposure.
package correlation

import (
	"math"
	"strings"
	"sync"
)

// DefaultClusters maps cluster name to the symbol bases it contains.
var DefaultClusters = map[string][]string{
	"btc_eco": {"BTC", "SOL"},
	"meme":    {"DOGE", "PEPE", "WIF", "TRUMP"},
	"alt_l1":  {"AVAX", "NEAR", "SUI"},
	"defi":    {"LINK", "ARB"},
	"other":   {"XRP", "RUNE", "KAITO", "VIRTUAL"},
}

const (
	// MaxPerCluster is the open-position ceiling within one cluster and
	// direction.
	MaxPerCluster = 3

	windowSize = 60
)

// ClusterOf resolves a futures symbol such as BTC_USDT to its cluster.
// Unknown symbols fall into "other".
func ClusterOf(symbol string) string {
	base := strings.SplitN(symbol, "_", 2)[0]
	for name, members := range DefaultClusters {
		for _, m := range members {
			if m == base {
				return name
			}
		}
	}
	return "other"
}

// Tracker keeps a rolling window of close-to-close returns per symbol and
// computes pairwise Pearson correlation on demand.
type Tracker struct {
	mu      sync.RWMutex
	returns map[string][]float64
	lastPx  map[string]float64
}

func NewTracker() *Tracker {
	return &Tracker{
		returns: make(map[string][]float64),
		lastPx:  make(map[string]float64),
	}
}

// Observe records one price sample. The first sample per symbol only seeds
// the reference price.
func (t *Tracker) Observe(symbol string, price float64) {
	if price <= 0 || math.IsNaN(price) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.lastPx[symbol]; ok && prev > 0 {
		r := (price - prev) / prev
		window := append(t.returns[symbol], r)
		if len(window) > windowSize {
			window = window[len(window)-windowSize:]
		}
		t.returns[symbol] = window
	}
	t.lastPx[symbol] = price
}

// Correlation returns the Pearson coefficient over the overlapping window,
// and false when fewer than 10 paired samples exist.
func (t *Tracker) Correlation(a, b string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ra, rb := t.returns[a], t.returns[b]
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < 10 {
		return 0, false
	}
	ra = ra[len(ra)-n:]
	rb = rb[len(rb)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += ra[i]
		sumB += rb[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := ra[i]-meanA, rb[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

// Matrix returns the full pairwise readout for the API.
func (t *Tracker) Matrix(symbols []string) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(symbols))
	for _, a := range symbols {
		row := make(map[string]float64)
		for _, b := range symbols {
			if a == b {
				row[b] = 1
				continue
			}
			if c, ok := t.Correlation(a, b); ok {
				row[b] = math.Round(c*100) / 100
			}
		}
		out[a] = row
	}
	return out
}
