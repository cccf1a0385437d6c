// Package learner adjusts signal scoring from realised trade outcomes. The
// adaptive learner feeds score modifiers back into the V4 engine; the setup
// learner disables persistently losing setup combinations for every bot.
package learner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mexc-futures-engine/internal/database"
	"mexc-futures-engine/internal/monitor"
	"mexc-futures-engine/internal/signal"
)

const (
	minSample      = 5
	strongSample   = 8
	fullConfidence = 20
	contextCap     = 2000
	cacheTTL       = 120 * time.Second

	modifierFloor = -20
	modifierCeil  = 10
)

// dimKey identifies one learned bucket.
type dimKey struct {
	dimension string
	value     string
}

type dimStats struct {
	wins7, total7   int
	wins30, total30 int
	winsAll, total  int
	pnlSum          float64
}

// Adaptive recomputes per-dimension win rates from trade_context rows and
// serves bounded score modifiers to the engine. It implements
// signal.ModifierSource.
type Adaptive struct {
	db         *database.DB
	botVersion string
	log        zerolog.Logger

	mu       sync.Mutex
	weights  map[dimKey]*database.LearningWeight
	lastLoad time.Time
}

func NewAdaptive(db *database.DB, botVersion string, log zerolog.Logger) *Adaptive {
	return &Adaptive{
		db:         db,
		botVersion: botVersion,
		log:        log.With().Str("component", "adaptive_learner").Logger(),
		weights:    make(map[dimKey]*database.LearningWeight),
	}
}

// Modifier returns the summed, clamped modifier for one candidate signal
// along with the per-dimension reasons that produced it.
func (a *Adaptive) Modifier(sctx signal.Context) (float64, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Since(a.lastLoad) > cacheTTL {
		if err := a.recomputeLocked(context.Background()); err != nil {
			a.log.Warn().Err(err).Msg("learning recompute failed, using stale weights")
		}
	}

	total := 0.0
	var reasons []string
	for _, k := range contextKeys(sctx) {
		w, ok := a.weights[k]
		if !ok || w.WeightModifier == 0 {
			continue
		}
		total += w.WeightModifier
		reasons = append(reasons, fmt.Sprintf("learning %s=%s: %+.1f (wr %.0f%%, n=%d)",
			k.dimension, k.value, w.WeightModifier, effectiveWinRate(w), w.SampleSize))
	}
	return clamp(total, modifierFloor, modifierCeil), reasons
}

// Recompute forces a refresh outside the cache window, for the API.
func (a *Adaptive) Recompute(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recomputeLocked(ctx)
}

// OnPositionClosed refreshes the weight table as soon as a trade settles so
// the next signal scores against it instead of waiting out the cache window.
// The trade context row is persisted before observers fire.
func (a *Adaptive) OnPositionClosed(pos *monitor.Position, _ monitor.CloseResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Recompute(ctx); err != nil {
		a.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("post-close learning recompute failed")
	}
}

// Weights returns the current table for the API.
func (a *Adaptive) Weights(ctx context.Context) ([]*database.LearningWeight, error) {
	return a.db.LearningWeights(ctx, a.botVersion)
}

// DecayedEdges reports buckets whose recent performance fell well below the
// monthly baseline, suggesting a dried-up edge.
func (a *Adaptive) DecayedEdges(ctx context.Context) ([]*database.LearningWeight, error) {
	all, err := a.db.LearningWeights(ctx, a.botVersion)
	if err != nil {
		return nil, err
	}
	var out []*database.LearningWeight
	for _, w := range all {
		if w.SampleSize >= minSample && w.WinRate30d-w.WinRate7d >= 15 {
			out = append(out, w)
		}
	}
	return out, nil
}

// Calibration buckets realised win rate by emitted score range so the score
// can be read as a probability estimate.
func (a *Adaptive) Calibration(ctx context.Context) (map[string]map[string]float64, error) {
	rows, err := a.db.TradeContexts(ctx, a.botVersion, contextCap)
	if err != nil {
		return nil, err
	}
	type agg struct {
		wins, total int
		pnl         float64
	}
	buckets := map[string]*agg{}
	for _, r := range rows {
		b := scoreRange(r.Score)
		s, ok := buckets[b]
		if !ok {
			s = &agg{}
			buckets[b] = s
		}
		s.total++
		if r.IsWin {
			s.wins++
		}
		s.pnl += r.PnLUSD
	}
	out := make(map[string]map[string]float64, len(buckets))
	for b, s := range buckets {
		out[b] = map[string]float64{
			"trades":   float64(s.total),
			"win_rate": math.Round(float64(s.wins)/float64(s.total)*1000) / 10,
			"avg_pnl":  math.Round(s.pnl/float64(s.total)*100) / 100,
		}
	}
	return out, nil
}

// recomputeLocked rebuilds every dimension from the newest trade contexts
// and persists the result. Caller holds the mutex.
func (a *Adaptive) recomputeLocked(ctx context.Context) error {
	rows, err := a.db.TradeContexts(ctx, a.botVersion, contextCap)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	stats := map[dimKey]*dimStats{}
	for _, r := range rows {
		age := now.Sub(r.CreatedAt)
		for _, k := range rowKeys(r) {
			s, ok := stats[k]
			if !ok {
				s = &dimStats{}
				stats[k] = s
			}
			s.total++
			s.pnlSum += r.PnLUSD
			if r.IsWin {
				s.winsAll++
			}
			if age <= 7*24*time.Hour {
				s.total7++
				if r.IsWin {
					s.wins7++
				}
			}
			if age <= 30*24*time.Hour {
				s.total30++
				if r.IsWin {
					s.wins30++
				}
			}
		}
	}

	weights := make(map[dimKey]*database.LearningWeight, len(stats))
	for k, s := range stats {
		w := &database.LearningWeight{
			BotVersion:     a.botVersion,
			Dimension:      k.dimension,
			DimensionValue: k.value,
			SampleSize:     s.total,
			WinRate7d:      rate(s.wins7, s.total7),
			WinRate30d:     rate(s.wins30, s.total30),
			WinRateAll:     rate(s.winsAll, s.total),
			AvgPnL:         s.pnlSum / float64(s.total),
			Confidence:     math.Min(1, float64(s.total)/fullConfidence),
		}
		w.WeightModifier = bucketModifier(w)
		weights[k] = w
		if err := a.db.UpsertLearningWeight(ctx, w); err != nil {
			a.log.Warn().Err(err).
				Str("dimension", k.dimension).
				Str("value", k.value).
				Msg("persisting learning weight failed")
		}
	}

	a.weights = weights
	a.lastLoad = time.Now()
	a.log.Debug().Int("buckets", len(weights)).Int("contexts", len(rows)).Msg("learning weights recomputed")
	return nil
}

// bucketModifier turns one bucket's win rate into a score adjustment. Small
// samples stay neutral; Confidence is reported alongside but does not scale
// the adjustment.
func bucketModifier(w *database.LearningWeight) float64 {
	if w.SampleSize < minSample {
		return 0
	}
	wr := effectiveWinRate(w)

	switch {
	case wr < 30 && w.SampleSize >= strongSample:
		return -15
	case wr < 40:
		return -8
	case wr > 65:
		return 5
	default:
		return 0
	}
}

// effectiveWinRate prefers the 7-day window, falling back to 30 days when
// the recent window is empty.
func effectiveWinRate(w *database.LearningWeight) float64 {
	if w.WinRate7d > 0 {
		return w.WinRate7d
	}
	return w.WinRate30d
}

func contextKeys(sctx signal.Context) []dimKey {
	return []dimKey{
		{"setup_type", sctx.SetupType},
		{"symbol", sctx.Symbol},
		{"mode", sctx.Mode},
		{"regime", nonEmpty(sctx.Regime)},
		{"hour_group", hourGroup(sctx.HourUTC)},
		{"score_range", scoreRange(sctx.Score)},
		{"direction", sctx.Direction},
		{"mtf_confluence", mtfBucket(sctx.MTFScore)},
	}
}

func rowKeys(r *database.TradeContextRow) []dimKey {
	return []dimKey{
		{"setup_type", r.SetupType},
		{"symbol", r.Symbol},
		{"mode", r.Mode},
		{"regime", nonEmpty(r.Regime)},
		{"hour_group", hourGroup(r.HourUTC)},
		{"score_range", scoreRange(r.Score)},
		{"direction", r.Direction},
		{"mtf_confluence", mtfBucket(r.MTFScore)},
	}
}

func hourGroup(hour int) string {
	switch {
	case hour < 8:
		return "asian"
	case hour < 16:
		return "european"
	default:
		return "us"
	}
}

func scoreRange(score float64) string {
	switch {
	case score >= 80:
		return "80+"
	case score >= 70:
		return "70-79"
	case score >= 60:
		return "60-69"
	default:
		return "50-59"
	}
}

func mtfBucket(mtf float64) string {
	switch {
	case mtf > 0:
		return "positive"
	case mtf < 0:
		return "negative"
	default:
		return "zero"
	}
}

func nonEmpty(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func rate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
