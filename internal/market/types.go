package market

// Kline is one OHLCV bar. Timestamp is the bar open time in ms.
type Kline struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Ticker carries best bid/ask and last price for a symbol.
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	SpreadPct float64 // (ask-bid)/mid*100; SpreadMissing when no orderbook
}

// SpreadMissing is the sentinel spread reported when the orderbook is
// unavailable. Tradeability maps it to a neutral score.
const SpreadMissing = 999.0

// OrderBook holds aggregate depth near the touch.
type OrderBook struct {
	Symbol      string
	BidDepthUSD float64
	AskDepthUSD float64
	Available   bool
}

// FundingRate is the current funding rate in percent.
type FundingRate struct {
	Symbol  string
	RatePct float64
}

// OpenInterest carries the current OI and the percent change since the
// previous observation (0 on the first observation).
type OpenInterest struct {
	Symbol    string
	Value     float64
	ChangePct float64
}

// Snapshot bundles everything the signal pipeline needs for one symbol at
// one instant.
type Snapshot struct {
	Symbol    string
	Klines    map[string][]Kline // keyed by timeframe
	Ticker    Ticker
	OrderBook OrderBook
	Funding   FundingRate
	OI        OpenInterest

	// V4 order flow over the rolling deal-stream window.
	OrderFlowRatio  float64 // taker-buy volume / total, 0.5 when unknown
	OrderFlowVolume float64 // total taker volume in the window
}

// Deal is one executed trade from the exchange deal stream.
type Deal struct {
	Symbol    string
	Price     float64
	Volume    float64
	TakerBuy  bool
	Timestamp int64
}
