// Package market maintains a live mark-price view for the watched futures
// symbols, seeded over REST and kept fresh by the mark-price stream.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"bn-hedge-bot/internal/bnc/rest"
	"bn-hedge-bot/internal/bnc/ws"

	"go.uber.org/zap"
)

const (
	markPriceStream = "!markPrice@arr"

	// realized volatility needs a minimum history before it is reported
	volWindow     = 64
	minVolSamples = 12
)

type MarkPrice struct {
	Symbol      string
	Price       float64
	FundingRate float64
	UpdatedAt   time.Time
}

type Cache struct {
	rest *rest.Client
	ws   *ws.Client
	log  *zap.Logger

	mu      sync.RWMutex
	marks   map[string]MarkPrice
	returns map[string][]float64
}

func New(restClient *rest.Client, wsClient *ws.Client, log *zap.Logger) *Cache {
	return &Cache{
		rest:    restClient,
		ws:      wsClient,
		log:     log,
		marks:   make(map[string]MarkPrice),
		returns: make(map[string][]float64),
	}
}

// Refresh seeds the cache from the premium index endpoint.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.rest == nil {
		return nil
	}
	body, err := c.rest.GetFutures(ctx, "/fapi/v1/premiumIndex", url.Values{}, 10)
	if err != nil {
		return fmt.Errorf("premium index refresh: %w", err)
	}
	var entries []premiumIndexEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		// A single-symbol response is an object, not an array.
		var single premiumIndexEntry
		if err := json.Unmarshal(body, &single); err != nil {
			return fmt.Errorf("premium index refresh: %w", err)
		}
		entries = []premiumIndexEntry{single}
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range entries {
		mark, ok := entry.toMark(now)
		if !ok {
			continue
		}
		c.setMarkLocked(mark)
	}
	return nil
}

// Start subscribes to the mark-price stream and consumes events until the
// context is cancelled. The read loop runs on the caller-provided ws client.
func (c *Cache) Start(ctx context.Context) error {
	if c.ws == nil {
		return nil
	}
	if err := c.ws.Connect(ctx); err != nil {
		return err
	}
	if err := c.ws.Subscribe(ctx, markPriceStream); err != nil {
		return err
	}
	go func() {
		if err := c.ws.Run(ctx, c.handle); err != nil && ctx.Err() == nil && c.log != nil {
			c.log.Warn("mark price stream ended", zap.Error(err))
		}
	}()
	return nil
}

func (c *Cache) Mark(symbol string) (MarkPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mark, ok := c.marks[symbol]
	return mark, ok
}

// Age reports the staleness of the freshest entry, or a large value when the
// cache is empty.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var newest time.Time
	for _, mark := range c.marks {
		if mark.UpdatedAt.After(newest) {
			newest = mark.UpdatedAt
		}
	}
	if newest.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(newest)
}

func (c *Cache) handle(raw json.RawMessage) {
	var events []markPriceEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		var single markPriceEvent
		if err := json.Unmarshal(raw, &single); err != nil || single.EventType != "markPriceUpdate" {
			return
		}
		events = []markPriceEvent{single}
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range events {
		if event.EventType != "markPriceUpdate" || event.Symbol == "" {
			continue
		}
		price, ok := parseDecimal(event.MarkPrice)
		if !ok || price <= 0 {
			continue
		}
		funding, _ := parseDecimal(event.FundingRate)
		c.setMarkLocked(MarkPrice{
			Symbol:      event.Symbol,
			Price:       price,
			FundingRate: funding,
			UpdatedAt:   now,
		})
	}
}

// setMarkLocked stores the mark and records the relative price move against
// the previous one. Callers must hold c.mu.
func (c *Cache) setMarkLocked(mark MarkPrice) {
	if prev, ok := c.marks[mark.Symbol]; ok && prev.Price > 0 && mark.Price != prev.Price {
		rets := append(c.returns[mark.Symbol], mark.Price/prev.Price-1)
		if len(rets) > volWindow {
			rets = rets[len(rets)-volWindow:]
		}
		c.returns[mark.Symbol] = rets
	}
	c.marks[mark.Symbol] = mark
}

// Volatility reports the standard deviation of recent relative mark-price
// moves for the symbol. The second return is false until enough samples have
// accumulated; callers treat that as "no measurement", not as calm markets.
func (c *Cache) Volatility(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rets := c.returns[symbol]
	if len(rets) < minVolSamples {
		return 0, false
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var variance float64
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(rets))
	return math.Sqrt(variance), true
}

type markPriceEvent struct {
	EventType   string `json:"e"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	FundingRate string `json:"r"`
}

type premiumIndexEntry struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
}

func (e premiumIndexEntry) toMark(now time.Time) (MarkPrice, bool) {
	if e.Symbol == "" {
		return MarkPrice{}, false
	}
	price, ok := parseDecimal(e.MarkPrice)
	if !ok || price <= 0 {
		return MarkPrice{}, false
	}
	funding, _ := parseDecimal(e.LastFundingRate)
	return MarkPrice{Symbol: e.Symbol, Price: price, FundingRate: funding, UpdatedAt: now}, true
}
