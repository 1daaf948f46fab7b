package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"TradeScout/internal/domain/repository"
	"TradeScout/pkg/logger"

	"github.com/gorilla/websocket"
)

type quote struct {
	price float64
	at    time.Time
}

// PriceStream keeps the latest close per symbol from the all-market
// mini-ticker websocket stream.
type PriceStream struct {
	url            string
	reconnectDelay time.Duration
	staleAfter     time.Duration
	logger         *logger.Logger
	now            func() time.Time

	mu        sync.RWMutex
	quotes    map[string]quote
	connected bool
}

// NewPriceStream creates a stream reader for url, e.g.
// wss://stream.binance.com:9443/ws/!miniTicker@arr.
func NewPriceStream(url string, reconnectDelay, staleAfter time.Duration, lgr *logger.Logger) *PriceStream {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &PriceStream{
		url:            url,
		reconnectDelay: reconnectDelay,
		staleAfter:     staleAfter,
		logger:         lgr.With(logger.String("component", "price_stream")),
		now:            time.Now,
		quotes:         make(map[string]quote),
	}
}

// Run connects and reads until ctx is done, reconnecting after failures.
func (s *PriceStream) Run(ctx context.Context) {
	for {
		err := s.session(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("price stream disconnected", logger.Error(err), logger.Duration("retry_in", s.reconnectDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *PriceStream) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("price stream connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.setConnected(true)
	s.logger.Info("price stream connected", logger.String("url", s.url))

	for {
		if s.staleAfter > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * s.staleAfter))
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("price stream read: %w", err)
		}
		if n := s.apply(b); n == 0 {
			s.logger.Debug("ignored price stream frame", logger.Int("bytes", len(b)))
		}
	}
}

// miniTicker keeps only the keys it needs. encoding/json matches keys case
// insensitively, so no field may be tagged "e" or "E": the frame carries the
// event type string under "e" and the event time number under "E".
type miniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// apply stores the quotes carried by one frame and returns how many it stored.
func (s *PriceStream) apply(frame []byte) int {
	var tickers []miniTicker
	if err := json.Unmarshal(frame, &tickers); err != nil {
		return 0
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range tickers {
		p, err := strconv.ParseFloat(t.Close, 64)
		if err != nil || p <= 0 {
			continue
		}
		s.quotes[t.Symbol] = quote{price: p, at: now}
		n++
	}
	return n
}

// Price returns the latest streamed price of symbol if it is fresh.
func (s *PriceStream) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if s.staleAfter > 0 && s.now().Sub(q.at) > s.staleAfter {
		return 0, false
	}
	return q.price, true
}

// IsConnected indicates status.
func (s *PriceStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *PriceStream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// FallbackPriceSource reads fresh stream prices first and asks the REST
// gateway for the rest in one batched call.
type FallbackPriceSource struct {
	stream *PriceStream
	rest   repository.PriceSource
}

var _ repository.PriceSource = (*FallbackPriceSource)(nil)

// NewFallbackPriceSource combines stream and rest. A nil stream means REST only.
func NewFallbackPriceSource(stream *PriceStream, rest repository.PriceSource) *FallbackPriceSource {
	return &FallbackPriceSource{stream: stream, rest: rest}
}

func (f *FallbackPriceSource) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var missing []string
	for _, sym := range symbols {
		if f.stream != nil {
			if p, ok := f.stream.Price(sym); ok {
				out[sym] = p
				continue
			}
		}
		missing = append(missing, sym)
	}
	if len(missing) == 0 {
		return out, nil
	}
	rest, err := f.rest.Prices(ctx, missing)
	for sym, p := range rest {
		out[sym] = p
	}
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}
