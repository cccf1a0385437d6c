package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cacheKeyTTL = 24 * time.Hour

// StateCache mirrors live position state into Redis so dashboards can read
// it without touching PostgreSQL. Every method is a no-op on a nil receiver;
// the engine runs fine without Redis.
type StateCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewStateCache(rdb *redis.Client, log zerolog.Logger) *StateCache {
	if rdb == nil {
		return nil
	}
	return &StateCache{rdb: rdb, log: log.With().Str("component", "statecache").Logger()}
}

func positionKey(botVersion string, id int64) string {
	return fmt.Sprintf("engine:positions:%s:%d", botVersion, id)
}

// SavePosition writes the current snapshot of one position.
func (c *StateCache) SavePosition(ctx context.Context, botVersion string, pos *Position) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pos.mu.Lock()
	snap := map[string]any{
		"id":                 pos.ID,
		"symbol":             pos.Symbol,
		"mode":               pos.Mode,
		"direction":          pos.Direction,
		"setup_type":         pos.SetupType,
		"state":              pos.State,
		"entry_price":        pos.EntryPrice,
		"stop_loss":          pos.StopLoss,
		"tp1":                pos.TP1,
		"tp2":                pos.TP2,
		"tp3":                pos.TP3,
		"remaining_quantity": pos.RemainingQuantity,
		"margin_required":    pos.MarginRequired,
		"leverage":           pos.Leverage,
		"max_profit_usd":     pos.MaxProfitUSD,
		"entry_time":         pos.EntryTime,
	}
	pos.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, positionKey(botVersion, pos.ID), payload, cacheKeyTTL).Err(); err != nil {
		c.log.Debug().Err(err).Msg("position cache write failed")
	}
}

// RemovePosition drops the mirror entry after close.
func (c *StateCache) RemovePosition(ctx context.Context, botVersion string, id int64) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.rdb.Del(ctx, positionKey(botVersion, id)).Err(); err != nil {
		c.log.Debug().Err(err).Msg("position cache delete failed")
	}
}

// SavePortfolio mirrors the latest portfolio readout for one bot.
func (c *StateCache) SavePortfolio(ctx context.Context, botVersion string, payload any) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	key := fmt.Sprintf("engine:portfolio:%s", botVersion)
	if err := c.rdb.Set(ctx, key, raw, cacheKeyTTL).Err(); err != nil {
		c.log.Debug().Err(err).Msg("portfolio cache write failed")
	}
}
