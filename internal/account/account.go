// Package account is the read adapter over the authenticated Binance
// endpoints: spot balances, futures position risk, trading rules and realized
// PnL. It holds no state beyond the per-run trading-rules cache.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"bn-hedge-bot/internal/bnc"
	"bn-hedge-bot/internal/bnc/rest"
	"bn-hedge-bot/internal/hedge"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	weightSpotAccount  = 20
	weightPositionRisk = 5
	weightExchangeInfo = 1
	weightIncome       = 30
)

type Balance struct {
	Free   float64
	Locked float64
}

func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

type Position struct {
	Symbol        string
	PositionAmt   float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

type Adapter struct {
	rest *rest.Client
	log  *zap.Logger

	mu    sync.Mutex
	rules map[string]hedge.TradingRules
}

func New(restClient *rest.Client, log *zap.Logger) *Adapter {
	return &Adapter{rest: restClient, log: log}
}

// SpotBalances returns the spot wallet balances keyed by asset. Margin and
// isolated-margin wallets are not counted toward spot holdings.
func (a *Adapter) SpotBalances(ctx context.Context) (map[string]Balance, error) {
	body, err := a.rest.GetSpotSigned(ctx, "/api/v3/account", url.Values{}, weightSpotAccount)
	if err != nil {
		return nil, fmt.Errorf("spot balances: %w", err)
	}
	var payload struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("spot balances: %w", err)
	}
	balances := make(map[string]Balance, len(payload.Balances))
	for _, entry := range payload.Balances {
		free, freeOK := parseDecimal(entry.Free)
		locked, lockedOK := parseDecimal(entry.Locked)
		if !freeOK || !lockedOK {
			a.log.Warn("dropping balance with malformed amount",
				zap.String("asset", entry.Asset),
				zap.String("free", entry.Free),
				zap.String("locked", entry.Locked),
			)
			continue
		}
		if free == 0 && locked == 0 {
			continue
		}
		balances[entry.Asset] = Balance{Free: free, Locked: locked}
	}
	return balances, nil
}

// FuturesPositions returns open futures positions; entries with a zero
// position amount are filtered out since only non-zero positions are
// semantically open.
func (a *Adapter) FuturesPositions(ctx context.Context) ([]Position, error) {
	body, err := a.rest.GetFuturesSigned(ctx, "/fapi/v2/positionRisk", url.Values{}, weightPositionRisk)
	if err != nil {
		return nil, fmt.Errorf("futures positions: %w", err)
	}
	var payload []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("futures positions: %w", err)
	}
	positions := make([]Position, 0, len(payload))
	for _, entry := range payload {
		amt, ok := parseDecimal(entry.PositionAmt)
		if !ok {
			a.log.Warn("dropping position with malformed amount",
				zap.String("symbol", entry.Symbol),
				zap.String("position_amt", entry.PositionAmt),
			)
			continue
		}
		if amt == 0 {
			continue
		}
		entryPrice, _ := parseDecimal(entry.EntryPrice)
		markPrice, _ := parseDecimal(entry.MarkPrice)
		upnl, _ := parseDecimal(entry.UnRealizedProfit)
		positions = append(positions, Position{
			Symbol:        entry.Symbol,
			PositionAmt:   amt,
			EntryPrice:    entryPrice,
			MarkPrice:     markPrice,
			UnrealizedPnL: upnl,
		})
	}
	return positions, nil
}

// TradingRules returns the lot-size and notional filters for a futures
// symbol. The full exchange metadata is fetched once and cached for the run.
func (a *Adapter) TradingRules(ctx context.Context, symbol string) (hedge.TradingRules, error) {
	a.mu.Lock()
	cached := a.rules
	a.mu.Unlock()
	if cached == nil {
		loaded, err := a.loadTradingRules(ctx)
		if err != nil {
			return hedge.TradingRules{}, err
		}
		a.mu.Lock()
		a.rules = loaded
		cached = loaded
		a.mu.Unlock()
	}
	rules, ok := cached[symbol]
	if !ok {
		return hedge.TradingRules{}, fmt.Errorf("trading rules for %s: %w", symbol, bnc.ErrUnknownSymbol)
	}
	return rules, nil
}

func (a *Adapter) loadTradingRules(ctx context.Context) (map[string]hedge.TradingRules, error) {
	body, err := a.rest.GetFutures(ctx, "/fapi/v1/exchangeInfo", url.Values{}, weightExchangeInfo)
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	var payload struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	rules := make(map[string]hedge.TradingRules, len(payload.Symbols))
	for _, sym := range payload.Symbols {
		if sym.Status != "" && sym.Status != "TRADING" {
			continue
		}
		entry := hedge.TradingRules{Symbol: sym.Symbol}
		for _, filter := range sym.Filters {
			switch filter.FilterType {
			case "LOT_SIZE", "MARKET_LOT_SIZE":
				if step, _ := parseDecimal(filter.StepSize); step > 0 && entry.StepSize == 0 {
					entry.StepSize = step
				}
				if minQty, _ := parseDecimal(filter.MinQty); minQty > 0 && entry.MinQty == 0 {
					entry.MinQty = minQty
				}
			case "MIN_NOTIONAL", "NOTIONAL":
				if notional, _ := parseDecimal(filter.Notional); notional > 0 {
					entry.MinNotional = notional
				}
			}
		}
		rules[sym.Symbol] = entry
	}
	return rules, nil
}

// DailyRealizedPnL sums today's realized futures PnL (UTC day boundary).
func (a *Adapter) DailyRealizedPnL(ctx context.Context) (float64, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	params := url.Values{}
	params.Set("incomeType", "REALIZED_PNL")
	params.Set("startTime", strconv.FormatInt(midnight.UnixMilli(), 10))
	params.Set("limit", "1000")
	body, err := a.rest.GetFuturesSigned(ctx, "/fapi/v1/income", params, weightIncome)
	if err != nil {
		return 0, fmt.Errorf("daily realized pnl: %w", err)
	}
	var payload []struct {
		Income string `json:"income"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("daily realized pnl: %w", err)
	}
	var total float64
	for _, entry := range payload {
		income, ok := parseDecimal(entry.Income)
		if !ok {
			a.log.Warn("skipping malformed income entry", zap.String("income", entry.Income))
			continue
		}
		total += income
	}
	return total, nil
}

// Snapshot fetches spot balances and futures positions concurrently and joins
// them into one AssetPosition per asset. The result covers the union of the
// watched assets (in their configured order) and any open futures position on
// a quote-suffixed symbol outside the watch list, so stray positions still
// reach the evaluator.
func (a *Adapter) Snapshot(ctx context.Context, assets []string, quote string) ([]hedge.AssetPosition, error) {
	var (
		balances  map[string]Balance
		positions []Position
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		balances, err = a.SpotBalances(groupCtx)
		return err
	})
	group.Go(func() error {
		var err error
		positions, err = a.FuturesPositions(groupCtx)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	bySymbol := make(map[string]Position, len(positions))
	for _, pos := range positions {
		bySymbol[pos.Symbol] = pos
	}
	watched := make(map[string]bool, len(assets))
	snapshot := make([]hedge.AssetPosition, 0, len(assets))
	for _, asset := range assets {
		asset = strings.ToUpper(strings.TrimSpace(asset))
		if asset == "" {
			continue
		}
		symbol := asset + quote
		watched[symbol] = true
		snapshot = append(snapshot, joinAsset(asset, symbol, balances[asset], bySymbol[symbol]))
	}

	var extras []string
	for _, pos := range positions {
		if watched[pos.Symbol] {
			continue
		}
		if !strings.HasSuffix(pos.Symbol, quote) || len(pos.Symbol) <= len(quote) {
			continue
		}
		extras = append(extras, pos.Symbol)
	}
	sort.Strings(extras)
	for _, symbol := range extras {
		asset := strings.TrimSuffix(symbol, quote)
		snapshot = append(snapshot, joinAsset(asset, symbol, balances[asset], bySymbol[symbol]))
	}
	return snapshot, nil
}

func joinAsset(asset, symbol string, balance Balance, position Position) hedge.AssetPosition {
	return hedge.AssetPosition{
		Asset:         asset,
		Symbol:        symbol,
		SpotFree:      balance.Free,
		SpotLocked:    balance.Locked,
		FuturesAmt:    position.PositionAmt,
		EntryPrice:    position.EntryPrice,
		MarkPrice:     position.MarkPrice,
		UnrealizedPnL: position.UnrealizedPnL,
	}
}

// Position fetches a fresh snapshot for one asset; used by the validation
// loop after a corrective order.
func (a *Adapter) Position(ctx context.Context, asset, quote string) (hedge.AssetPosition, error) {
	snapshot, err := a.Snapshot(ctx, []string{asset}, quote)
	if err != nil {
		return hedge.AssetPosition{}, err
	}
	if len(snapshot) == 0 {
		return hedge.AssetPosition{}, fmt.Errorf("no snapshot produced for %s", asset)
	}
	return snapshot[0], nil
}

// parseDecimal parses a Binance decimal string. The second return is false
// for malformed input so callers can tell a corrupt field from a real zero;
// an empty string parses as a valid zero.
func parseDecimal(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}
