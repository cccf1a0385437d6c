// Package market talks to the MEXC contract API: REST market data, the
// WebSocket deal stream, and the derived order-flow window.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mexc-futures-engine/config"
)

// tfMap translates config timeframes into the exchange interval names.
var tfMap = map[string]string{
	"1m":  "Min1",
	"3m":  "Min3",
	"5m":  "Min5",
	"15m": "Min15",
	"30m": "Min30",
	"1h":  "Min60",
	"4h":  "Hour4",
	"8h":  "Hour8",
	"1d":  "Day1",
}

// Client is the process-wide read-only market data client. Safe for
// concurrent use; the OI delta memory is the only mutable state.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	oiMu   sync.Mutex
	oiLast map[string]float64

	connMu    sync.RWMutex
	lastOK    time.Time
	connected bool
}

func NewClient(cfg config.MarketConfig, log zerolog.Logger) *Client {
	timeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.RESTBaseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		oiLast:  make(map[string]float64),
	}
}

// Connect verifies the REST endpoint is reachable. Failure is not fatal;
// the scanner retries on each cycle.
func (c *Client) Connect(ctx context.Context) error {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.get(ctx, "/api/v1/contract/ping", nil, &out); err != nil {
		c.setConnected(false)
		return fmt.Errorf("exchange ping: %w", err)
	}
	c.setConnected(true)
	return nil
}

func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && time.Since(c.lastOK) < 5*time.Minute
}

func (c *Client) setConnected(ok bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected = ok
	if ok {
		c.lastOK = time.Now()
	}
}

// Klines fetches up to limit bars for one timeframe, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Kline, error) {
	interval, ok := tfMap[timeframe]
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", timeframe)
	}

	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Time  []int64   `json:"time"`
			Open  []float64 `json:"open"`
			High  []float64 `json:"high"`
			Low   []float64 `json:"low"`
			Close []float64 `json:"close"`
			Vol   []float64 `json:"vol"`
		} `json:"data"`
	}
	params := url.Values{"interval": {interval}}
	if err := c.get(ctx, "/api/v1/contract/kline/"+symbol, params, &out); err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, timeframe, err)
	}
	n := len(out.Data.Time)
	if n == 0 {
		return nil, fmt.Errorf("klines %s %s: empty response", symbol, timeframe)
	}
	klines := make([]Kline, 0, n)
	for i := 0; i < n; i++ {
		klines = append(klines, Kline{
			Timestamp: out.Data.Time[i] * 1000,
			Open:      out.Data.Open[i],
			High:      out.Data.High[i],
			Low:       out.Data.Low[i],
			Close:     out.Data.Close[i],
			Volume:    out.Data.Vol[i],
		})
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// Ticker returns last price and the bid/ask spread.
func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	var out struct {
		Success bool `json:"success"`
		Data    struct {
			LastPrice float64 `json:"lastPrice"`
			Bid1      float64 `json:"bid1"`
			Ask1      float64 `json:"ask1"`
			HoldVol   float64 `json:"holdVol"`
		} `json:"data"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, "/api/v1/contract/ticker", params, &out); err != nil {
		return Ticker{}, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	t := Ticker{
		Symbol:    symbol,
		Last:      out.Data.LastPrice,
		Bid:       out.Data.Bid1,
		Ask:       out.Data.Ask1,
		SpreadPct: SpreadMissing,
	}
	if t.Bid > 0 && t.Ask > 0 {
		mid := (t.Bid + t.Ask) / 2
		t.SpreadPct = (t.Ask - t.Bid) / mid * 100
	}
	return t, nil
}

// Depth returns USD depth aggregated over the top orderbook levels.
func (c *Client) Depth(ctx context.Context, symbol string) (OrderBook, error) {
	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Asks [][]float64 `json:"asks"`
			Bids [][]float64 `json:"bids"`
		} `json:"data"`
	}
	params := url.Values{"limit": {"20"}}
	if err := c.get(ctx, "/api/v1/contract/depth/"+symbol, params, &out); err != nil {
		return OrderBook{Symbol: symbol}, fmt.Errorf("depth %s: %w", symbol, err)
	}
	book := OrderBook{Symbol: symbol, Available: true}
	for _, lvl := range out.Data.Bids {
		if len(lvl) >= 2 {
			book.BidDepthUSD += lvl[0] * lvl[1]
		}
	}
	for _, lvl := range out.Data.Asks {
		if len(lvl) >= 2 {
			book.AskDepthUSD += lvl[0] * lvl[1]
		}
	}
	return book, nil
}

// Funding returns the current funding rate in percent.
func (c *Client) Funding(ctx context.Context, symbol string) (FundingRate, error) {
	var out struct {
		Success bool `json:"success"`
		Data    struct {
			FundingRate float64 `json:"fundingRate"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/contract/funding_rate/"+symbol, nil, &out); err != nil {
		return FundingRate{Symbol: symbol}, fmt.Errorf("funding %s: %w", symbol, err)
	}
	return FundingRate{Symbol: symbol, RatePct: out.Data.FundingRate * 100}, nil
}

// OpenInterest returns the current OI and the percent change since the last
// observation for this symbol. The first observation reports 0 change.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	// holdVol rides on the ticker payload.
	var out struct {
		Data struct {
			HoldVol float64 `json:"holdVol"`
		} `json:"data"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, "/api/v1/contract/ticker", params, &out); err != nil {
		return OpenInterest{Symbol: symbol}, err
	}

	oi := OpenInterest{Symbol: symbol, Value: out.Data.HoldVol}
	c.oiMu.Lock()
	if prev, ok := c.oiLast[symbol]; ok && prev > 0 {
		oi.ChangePct = (oi.Value - prev) / prev * 100
	}
	c.oiLast[symbol] = oi.Value
	c.oiMu.Unlock()
	return oi, nil
}

// FetchSnapshot gathers everything the signal pipeline needs for one symbol.
// Orderbook, funding and OI failures degrade (zero values / missing flags);
// missing klines are a hard error.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string, timeframes []string, flow *OrderFlowTracker) (*Snapshot, error) {
	snap := &Snapshot{
		Symbol:         symbol,
		Klines:         make(map[string][]Kline, len(timeframes)),
		OrderFlowRatio: 0.5,
	}

	for _, tf := range timeframes {
		klines, err := c.Klines(ctx, symbol, tf, 300)
		if err != nil {
			c.setConnected(false)
			return nil, err
		}
		snap.Klines[tf] = klines
	}
	c.setConnected(true)

	ticker, err := c.Ticker(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("ticker unavailable")
		ticker = Ticker{Symbol: symbol, SpreadPct: SpreadMissing}
	}
	snap.Ticker = ticker

	book, err := c.Depth(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("orderbook unavailable")
		book = OrderBook{Symbol: symbol}
	}
	snap.OrderBook = book

	funding, err := c.Funding(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("funding unavailable")
	}
	snap.Funding = funding

	oi, err := c.OpenInterest(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("open interest unavailable")
	}
	snap.OI = oi

	if flow != nil {
		snap.OrderFlowRatio, snap.OrderFlowVolume = flow.Window(symbol)
	}
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
