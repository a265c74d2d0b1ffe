// Command verify runs a one-shot hedge check against live account state. It
// prints the classification for each watched asset and, with -plan, the
// corrective order it would place. Orders are only submitted with -execute.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bn-hedge-bot/internal/account"
	"bn-hedge-bot/internal/bnc"
	"bn-hedge-bot/internal/bnc/rest"
	"bn-hedge-bot/internal/config"
	"bn-hedge-bot/internal/exec"
	"bn-hedge-bot/internal/hedge"
	"bn-hedge-bot/internal/logging"
	"bn-hedge-bot/internal/market"
)

const defaultVerifyEnvFile = ".env"

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	assetFlag := flag.String("asset", "", "check a single asset instead of the configured list")
	plan := flag.Bool("plan", false, "print the corrective order for imbalanced assets")
	execute := flag.Bool("execute", false, "submit the corrective order (implies -plan)")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	apiKey := strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	if apiKey == "" || apiSecret == "" {
		fatal(errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required"))
	}

	assets := cfg.Hedge.Assets
	if *assetFlag != "" {
		assets = []string{strings.ToUpper(strings.TrimSpace(*assetFlag))}
	}

	policy := hedge.Policy{
		MinRatio:    cfg.Hedge.MinRatio,
		MaxRatio:    cfg.Hedge.MaxRatio,
		TargetRatio: cfg.Hedge.TargetRatio,
	}
	bounds := hedge.Bounds{MinUSD: cfg.Hedge.MinOrderUSD, MaxUSD: cfg.Hedge.MaxOrderUSD}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	restClient := rest.New(cfg.REST, apiKey, apiSecret, log)
	if err := restClient.SyncClock(ctx); err != nil {
		fatal(err)
	}
	fmt.Printf("clock offset: %dms\n", restClient.ClockOffsetMS())

	marks := market.New(restClient, nil, log)
	if err := marks.Refresh(ctx); err != nil {
		fatal(err)
	}

	adapter := account.New(restClient, log)
	snapshot, err := adapter.Snapshot(ctx, assets, cfg.Hedge.QuoteAsset)
	if err != nil {
		fatal(err)
	}

	placer := exec.NewBinanceClient(restClient)
	for _, pos := range snapshot {
		if mark, ok := marks.Mark(pos.Symbol); ok && mark.Price > 0 {
			pos.MarkPrice = mark.Price
		}
		eval := hedge.Evaluate(pos, policy)
		if eval.HasRatio {
			fmt.Printf("%-10s %-14s spot=%.8f futures=%.8f ratio=%.4f\n",
				eval.Asset, eval.Classification, eval.SpotTotal, eval.FuturesSize, eval.Ratio)
		} else {
			fmt.Printf("%-10s %-14s spot=%.8f futures=%.8f\n",
				eval.Asset, eval.Classification, eval.SpotTotal, eval.FuturesSize)
		}
		if eval.Classification == hedge.Balanced || (!*plan && !*execute) {
			continue
		}
		rules, err := adapter.TradingRules(ctx, pos.Symbol)
		if err != nil {
			fmt.Printf("  rules unavailable: %v\n", err)
			continue
		}
		order, err := hedge.PlanRebalance(pos, policy, rules, bounds)
		if err != nil {
			if errors.Is(err, bnc.ErrRuleViolation) {
				fmt.Printf("  plan rejected: %v\n", err)
			} else {
				fmt.Printf("  no plan: %v\n", err)
			}
			continue
		}
		fmt.Printf("  plan: %s %s %.8f (~%.2f %s) %s\n",
			order.Side, order.Symbol, order.Quantity, order.Quantity*pos.MarkPrice, cfg.Hedge.QuoteAsset, order.Reason)
		if !*execute {
			continue
		}
		orderID, err := placer.PlaceFuturesOrder(ctx, order, "")
		if err != nil {
			fatal(err)
		}
		fmt.Printf("  placed: order_id=%s\n", orderID)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
