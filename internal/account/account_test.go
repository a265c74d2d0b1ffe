package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bn-hedge-bot/internal/bnc"
	"bn-hedge-bot/internal/bnc/rest"
	"bn-hedge-bot/internal/config"

	"go.uber.org/zap"
)

const (
	spotAccountBody = `{"balances":[
		{"asset":"BTC","free":"0.50000000","locked":"0.10000000"},
		{"asset":"ETH","free":"2.00000000","locked":"0.00000000"},
		{"asset":"DUST","free":"0.00000000","locked":"0.00000000"}
	]}`
	positionRiskBody = `[
		{"symbol":"BTCUSDT","positionAmt":"-0.550","entryPrice":"60000.0","markPrice":"61000.0","unRealizedProfit":"-550.0"},
		{"symbol":"ETHUSDT","positionAmt":"0.000","entryPrice":"0.0","markPrice":"3000.0","unRealizedProfit":"0.0"}
	]`
	exchangeInfoBody = `{"symbols":[
		{"symbol":"BTCUSDT","status":"TRADING","filters":[
			{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
			{"filterType":"MIN_NOTIONAL","notional":"100"}
		]},
		{"symbol":"DELISTED","status":"BREAK","filters":[]}
	]}`
	incomeBody = `[{"income":"12.5"},{"income":"-2.5"},{"income":"1.0"}]`
)

type fixture struct {
	adapter           *Adapter
	exchangeInfoCalls atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/account":
			fmt.Fprint(w, spotAccountBody)
		case "/fapi/v2/positionRisk":
			fmt.Fprint(w, positionRiskBody)
		case "/fapi/v1/exchangeInfo":
			f.exchangeInfoCalls.Add(1)
			fmt.Fprint(w, exchangeInfoBody)
		case "/fapi/v1/income":
			fmt.Fprint(w, incomeBody)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	restClient := rest.New(config.RESTConfig{
		SpotBaseURL:     server.URL,
		FuturesBaseURL:  server.URL,
		Timeout:         5 * time.Second,
		RecvWindowMS:    5000,
		WeightPerMinute: 6000,
	}, "key", "secret", zap.NewNop())
	f.adapter = New(restClient, zap.NewNop())
	return f
}

func TestSpotBalancesFiltersZero(t *testing.T) {
	f := newFixture(t)
	balances, err := f.adapter.SpotBalances(context.Background())
	if err != nil {
		t.Fatalf("spot balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 non-zero balances, got %d", len(balances))
	}
	btc := balances["BTC"]
	if btc.Free != 0.5 || btc.Locked != 0.1 {
		t.Fatalf("unexpected BTC balance %+v", btc)
	}
	if btc.Total() != 0.6 {
		t.Fatalf("expected total 0.6, got %v", btc.Total())
	}
}

func TestFuturesPositionsFiltersFlat(t *testing.T) {
	f := newFixture(t)
	positions, err := f.adapter.FuturesPositions(context.Background())
	if err != nil {
		t.Fatalf("futures positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected only the open position, got %d", len(positions))
	}
	pos := positions[0]
	if pos.Symbol != "BTCUSDT" || pos.PositionAmt != -0.55 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestSnapshotJoinsSpotAndFutures(t *testing.T) {
	f := newFixture(t)
	snapshot, err := f.adapter.Snapshot(context.Background(), []string{"BTC", "ETH"}, "USDT")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snapshot))
	}
	btc := snapshot[0]
	if btc.Asset != "BTC" || btc.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected join %+v", btc)
	}
	if btc.SpotTotal() != 0.6 || btc.FuturesAmt != -0.55 {
		t.Fatalf("unexpected amounts %+v", btc)
	}
	if btc.MarkPrice != 61000 {
		t.Fatalf("expected mark price carried over, got %v", btc.MarkPrice)
	}
	eth := snapshot[1]
	if eth.FuturesAmt != 0 || eth.SpotTotal() != 2 {
		t.Fatalf("flat futures leg should join as zero, got %+v", eth)
	}
}

func TestSnapshotNormalizesAssetNames(t *testing.T) {
	f := newFixture(t)
	snapshot, err := f.adapter.Snapshot(context.Background(), []string{" btc ", ""}, "USDT")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].Asset != "BTC" {
		t.Fatalf("expected normalized single BTC entry, got %+v", snapshot)
	}
}

func TestSnapshotIncludesUnwatchedFutures(t *testing.T) {
	f := newFixture(t)
	snapshot, err := f.adapter.Snapshot(context.Background(), []string{"ETH"}, "USDT")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("open BTCUSDT position must appear even off the watch list, got %+v", snapshot)
	}
	if snapshot[0].Asset != "ETH" {
		t.Fatalf("watched assets keep their order, got %+v", snapshot[0])
	}
	btc := snapshot[1]
	if btc.Asset != "BTC" || btc.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected extra entry %+v", btc)
	}
	if btc.FuturesAmt != -0.55 || btc.SpotFree != 0.5 {
		t.Fatalf("extra entry must join spot and futures legs, got %+v", btc)
	}
}

func TestSnapshotSkipsForeignQuoteSymbols(t *testing.T) {
	f := newFixture(t)
	snapshot, err := f.adapter.Snapshot(context.Background(), []string{"ETH"}, "BUSD")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("BTCUSDT is not a BUSD symbol and must not be appended, got %+v", snapshot)
	}
}

func TestMalformedNumbersAreDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/account":
			fmt.Fprint(w, `{"balances":[
				{"asset":"BTC","free":"oops","locked":"0.1"},
				{"asset":"ETH","free":"2.0","locked":"0.0"}
			]}`)
		case "/fapi/v2/positionRisk":
			fmt.Fprint(w, `[
				{"symbol":"BTCUSDT","positionAmt":"garbage","entryPrice":"60000","markPrice":"61000","unRealizedProfit":"0"},
				{"symbol":"ETHUSDT","positionAmt":"1.5","entryPrice":"3000","markPrice":"3000","unRealizedProfit":"0"}
			]`)
		case "/fapi/v1/income":
			fmt.Fprint(w, `[{"income":"10"},{"income":"NaN-ish"},{"income":"2"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	restClient := rest.New(config.RESTConfig{
		SpotBaseURL:     server.URL,
		FuturesBaseURL:  server.URL,
		Timeout:         5 * time.Second,
		WeightPerMinute: 6000,
	}, "key", "secret", zap.NewNop())
	adapter := New(restClient, zap.NewNop())

	balances, err := adapter.SpotBalances(context.Background())
	if err != nil {
		t.Fatalf("spot balances: %v", err)
	}
	if _, ok := balances["BTC"]; ok {
		t.Fatal("a balance with an unparseable amount must be dropped, not read as zero")
	}
	if balances["ETH"].Free != 2 {
		t.Fatalf("well-formed balances must survive, got %+v", balances)
	}

	positions, err := adapter.FuturesPositions(context.Background())
	if err != nil {
		t.Fatalf("futures positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Symbol != "ETHUSDT" {
		t.Fatalf("a corrupt positionAmt must not read as a closed position, got %+v", positions)
	}

	total, err := adapter.DailyRealizedPnL(context.Background())
	if err != nil {
		t.Fatalf("daily pnl: %v", err)
	}
	if total != 12 {
		t.Fatalf("malformed income entries must be skipped, got %v", total)
	}
}

func TestTradingRulesParsedAndCached(t *testing.T) {
	f := newFixture(t)
	rules, err := f.adapter.TradingRules(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("trading rules: %v", err)
	}
	if rules.StepSize != 0.001 || rules.MinQty != 0.001 || rules.MinNotional != 100 {
		t.Fatalf("unexpected rules %+v", rules)
	}
	if _, err := f.adapter.TradingRules(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("cached trading rules: %v", err)
	}
	if calls := f.exchangeInfoCalls.Load(); calls != 1 {
		t.Fatalf("exchange info should be fetched once, got %d", calls)
	}
}

func TestTradingRulesUnknownSymbol(t *testing.T) {
	f := newFixture(t)
	_, err := f.adapter.TradingRules(context.Background(), "NOPEUSDT")
	if !errors.Is(err, bnc.ErrUnknownSymbol) {
		t.Fatalf("expected unknown symbol, got %v", err)
	}
}

func TestTradingRulesSkipsNonTrading(t *testing.T) {
	f := newFixture(t)
	if _, err := f.adapter.TradingRules(context.Background(), "DELISTED"); !errors.Is(err, bnc.ErrUnknownSymbol) {
		t.Fatalf("delisted symbol should be unknown, got %v", err)
	}
}

func TestDailyRealizedPnLSums(t *testing.T) {
	f := newFixture(t)
	total, err := f.adapter.DailyRealizedPnL(context.Background())
	if err != nil {
		t.Fatalf("daily pnl: %v", err)
	}
	if total != 11 {
		t.Fatalf("expected 11, got %v", total)
	}
}

func TestPositionSingleAsset(t *testing.T) {
	f := newFixture(t)
	pos, err := f.adapter.Position(context.Background(), "BTC", "USDT")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Symbol != "BTCUSDT" || pos.FuturesAmt != -0.55 {
		t.Fatalf("unexpected position %+v", pos)
	}
}
