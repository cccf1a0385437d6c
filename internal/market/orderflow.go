package market

import (
	"sync"
	"time"
)

// OrderFlowTracker accumulates taker buy/sell volume per symbol over a
// rolling window, fed by the deal stream. The V4 tradeability check reads
// the buy ratio and total volume.
type OrderFlowTracker struct {
	window time.Duration

	mu    sync.Mutex
	deals map[string][]flowEntry
}

type flowEntry struct {
	at       time.Time
	volume   float64
	takerBuy bool
}

func NewOrderFlowTracker(window time.Duration) *OrderFlowTracker {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &OrderFlowTracker{
		window: window,
		deals:  make(map[string][]flowEntry),
	}
}

// Record ingests one deal. Wired as a StreamHub handler.
func (t *OrderFlowTracker) Record(d Deal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	entries := append(t.deals[d.Symbol], flowEntry{at: now, volume: d.Volume, takerBuy: d.TakerBuy})
	t.deals[d.Symbol] = trimExpired(entries, now.Add(-t.window))
}

// Window returns (buy ratio, total volume) over the rolling window.
// Ratio is 0.5 when there is no data.
func (t *OrderFlowTracker) Window(symbol string) (ratio, total float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := trimExpired(t.deals[symbol], time.Now().Add(-t.window))
	t.deals[symbol] = entries

	var buy float64
	for _, e := range entries {
		total += e.volume
		if e.takerBuy {
			buy += e.volume
		}
	}
	if total == 0 {
		return 0.5, 0
	}
	return buy / total, total
}

func trimExpired(entries []flowEntry, cutoff time.Time) []flowEntry {
	idx := 0
	for idx < len(entries) && entries[idx].at.Before(cutoff) {
		idx++
	}
	return entries[idx:]
}
