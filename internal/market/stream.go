package market

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mexc-futures-engine/internal/metrics"
)

const (
	pingInterval   = 20 * time.Second
	reconnectDelay = 3 * time.Second
	readDeadline   = 60 * time.Second
)

// DealHandler receives every executed trade for a subscribed symbol.
type DealHandler func(Deal)

// StreamHub multiplexes the exchange deal stream: one WebSocket connection
// per symbol, fanned out to any number of named subscribers. A symbol's
// worker starts with its first subscriber and stops with its last.
type StreamHub struct {
	url string
	log zerolog.Logger

	mu      sync.Mutex
	workers map[string]*streamWorker
}

func NewStreamHub(wsURL string, log zerolog.Logger) *StreamHub {
	return &StreamHub{
		url:     wsURL,
		log:     log,
		workers: make(map[string]*streamWorker),
	}
}

// Subscribe registers a handler under an id. The id must be unique per
// (symbol, subscriber); re-subscribing replaces the handler.
func (h *StreamHub) Subscribe(symbol, id string, fn DealHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.workers[symbol]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		w = &streamWorker{
			hub:      h,
			symbol:   symbol,
			handlers: make(map[string]DealHandler),
			cancel:   cancel,
			log:      h.log.With().Str("symbol", symbol).Logger(),
		}
		h.workers[symbol] = w
		go w.run(ctx)
	}
	w.hmu.Lock()
	w.handlers[id] = fn
	w.hmu.Unlock()
}

// Unsubscribe removes a handler; the worker shuts down when none remain.
func (h *StreamHub) Unsubscribe(symbol, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.workers[symbol]
	if !ok {
		return
	}
	w.hmu.Lock()
	delete(w.handlers, id)
	empty := len(w.handlers) == 0
	w.hmu.Unlock()
	if empty {
		w.cancel()
		delete(h.workers, symbol)
	}
}

// Close stops every worker.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for symbol, w := range h.workers {
		w.cancel()
		delete(h.workers, symbol)
	}
}

// ActiveSymbols returns symbols with a live worker.
func (h *StreamHub) ActiveSymbols() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.workers))
	for s := range h.workers {
		out = append(out, s)
	}
	return out
}

type streamWorker struct {
	hub    *StreamHub
	symbol string
	cancel context.CancelFunc
	log    zerolog.Logger

	hmu      sync.RWMutex
	handlers map[string]DealHandler
}

func (w *streamWorker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.session(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("deal stream dropped, reconnecting")
			metrics.WSReconnects.WithLabelValues(w.symbol).Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (w *streamWorker) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.hub.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{
		"method": "sub.deal",
		"param":  map[string]string{"symbol": w.symbol},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	w.log.Debug().Msg("deal stream subscribed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"ping"}`)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		for _, deal := range parseDeals(w.symbol, raw) {
			w.dispatch(deal)
		}
	}
}

func (w *streamWorker) dispatch(deal Deal) {
	w.hmu.RLock()
	defer w.hmu.RUnlock()
	for _, fn := range w.handlers {
		fn(deal)
	}
}

type dealPayload struct {
	P  float64 `json:"p"`
	V  float64 `json:"v"`
	T  int     `json:"T"` // 1=taker buy, 2=taker sell
	Ts int64   `json:"t"`
}

// parseDeals handles both payload shapes: data as a single object or as a
// list of objects.
func parseDeals(symbol string, raw []byte) []Deal {
	var msg struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Channel != "push.deal" || len(msg.Data) == 0 {
		return nil
	}

	var payloads []dealPayload
	if msg.Data[0] == '[' {
		if err := json.Unmarshal(msg.Data, &payloads); err != nil {
			return nil
		}
	} else {
		var one dealPayload
		if err := json.Unmarshal(msg.Data, &one); err != nil {
			return nil
		}
		payloads = []dealPayload{one}
	}

	deals := make([]Deal, 0, len(payloads))
	for _, p := range payloads {
		if p.P <= 0 {
			continue
		}
		deals = append(deals, Deal{
			Symbol:    symbol,
			Price:     p.P,
			Volume:    p.V,
			TakerBuy:  p.T == 1,
			Timestamp: p.Ts,
		})
	}
	return deals
}
