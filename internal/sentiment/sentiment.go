// Package sentiment aggregates external market-mood indicators into one
// cached score. All providers fail soft: an unreachable source contributes
// zero instead of blocking the pipeline.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
)

// Reading is the aggregated sentiment at one instant.
type Reading struct {
	Score     float64 // [-100, 100]
	Bias      string  // bullish, bearish, neutral
	FearGreed float64 // raw 0-100 index, NaN-free (0 when unavailable)
	NewsScore float64
	BTCDom    float64
	FetchedAt time.Time
}

// Provider fetches and caches the aggregate. One instance is shared by all
// bots; the cache TTL bounds provider traffic.
type Provider struct {
	cfg  config.SentimentConfig
	http *http.Client
	log  zerolog.Logger

	mu     sync.Mutex
	cached Reading
}

func NewProvider(cfg config.SentimentConfig, log zerolog.Logger) *Provider {
	return &Provider{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

// Get returns the cached reading, refreshing when the TTL expired.
func (p *Provider) Get(ctx context.Context) Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	ttl := time.Duration(p.cfg.CacheTTLSeconds) * time.Second
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if !p.cached.FetchedAt.IsZero() && time.Since(p.cached.FetchedAt) < ttl {
		return p.cached
	}
	p.cached = p.fetch(ctx)
	return p.cached
}

func (p *Provider) fetch(ctx context.Context) Reading {
	r := Reading{Bias: "neutral", FetchedAt: time.Now()}
	if !p.cfg.Enabled {
		return r
	}

	fg, err := p.fearGreed(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("fear & greed unavailable")
	} else {
		r.FearGreed = fg
	}

	news, err := p.newsScore(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("news sentiment unavailable")
	} else {
		r.NewsScore = news
	}

	dom, err := p.btcDominance(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("btc dominance unavailable")
	} else {
		r.BTCDom = dom
	}

	// Fear&Greed centred at 50 carries half the weight; news 30%; a rising
	// BTC dominance above 55% reads as alt-bearish for 20%.
	fgComponent := (r.FearGreed - 50) * 2
	domComponent := 0.0
	if r.BTCDom > 0 {
		domComponent = (55 - r.BTCDom) * 4
		domComponent = clamp(domComponent, -100, 100)
	}
	r.Score = clamp(fgComponent*0.5+r.NewsScore*0.3+domComponent*0.2, -100, 100)

	switch {
	case r.Score >= 20:
		r.Bias = "bullish"
	case r.Score <= -20:
		r.Bias = "bearish"
	}
	return r
}

func (p *Provider) fearGreed(ctx context.Context) (float64, error) {
	var out struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, "https://api.alternative.me/fng/", &out); err != nil {
		return 0, err
	}
	if len(out.Data) == 0 {
		return 0, fmt.Errorf("empty fng response")
	}
	var v float64
	if _, err := fmt.Sscanf(out.Data[0].Value, "%f", &v); err != nil {
		return 0, err
	}
	return v, nil
}

var bullishWords = []string{"surge", "rally", "bullish", "breakout", "adoption", "approve", "gain", "soar", "record", "etf inflow"}
var bearishWords = []string{"crash", "dump", "bearish", "hack", "exploit", "ban", "lawsuit", "sell-off", "liquidation", "outflow"}

func (p *Provider) newsScore(ctx context.Context) (float64, error) {
	if p.cfg.CryptoPanicToken == "" {
		return 0, nil
	}
	var out struct {
		Results []struct {
			Title string `json:"title"`
		} `json:"results"`
	}
	u := "https://cryptopanic.com/api/v1/posts/?auth_token=" + p.cfg.CryptoPanicToken + "&kind=news&public=true"
	if err := p.getJSON(ctx, u, &out); err != nil {
		return 0, err
	}
	var score float64
	for _, post := range out.Results {
		title := strings.ToLower(post.Title)
		for _, w := range bullishWords {
			if strings.Contains(title, w) {
				score += 10
			}
		}
		for _, w := range bearishWords {
			if strings.Contains(title, w) {
				score -= 10
			}
		}
	}
	return clamp(score, -100, 100), nil
}

func (p *Provider) btcDominance(ctx context.Context) (float64, error) {
	var out struct {
		Data struct {
			MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, "https://api.coingecko.com/api/v3/global", &out); err != nil {
		return 0, err
	}
	return out.Data.MarketCapPercentage["btc"], nil
}

func (p *Provider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
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
