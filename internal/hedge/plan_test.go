package hedge

import (
	"errors"
	"math"
	"testing"

	"bn-hedge-bot/internal/bnc"
)

func testRules() TradingRules {
	return TradingRules{Symbol: "BTCUSDT", StepSize: 0.1, MinQty: 0.1, MinNotional: 5}
}

func TestPlanFloorsToStepSize(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 10.07, FuturesAmt: 0, MarkPrice: 100}
	order, err := PlanRebalance(pos, DefaultPolicy(), testRules(), Bounds{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// target 10.07 * 0.95 = 9.5665, floored to the 0.1 step
	if math.Abs(order.Quantity-9.5) > 1e-12 {
		t.Fatalf("expected quantity 9.5, got %v", order.Quantity)
	}
	if order.Side != Sell {
		t.Fatalf("growing a hedge from flat should SELL, got %s", order.Side)
	}
}

func TestPlanNeverRoundsUp(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 10, FuturesAmt: -8, MarkPrice: 100}
	order, err := PlanRebalance(pos, DefaultPolicy(), TradingRules{StepSize: 0.4, MinQty: 0.4, MinNotional: 5}, Bounds{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// delta 1.5 floors to 1.2, not 1.6
	if math.Abs(order.Quantity-1.2) > 1e-12 {
		t.Fatalf("expected quantity 1.2, got %v", order.Quantity)
	}
}

func TestPlanBuysBackOverHedge(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 10, FuturesAmt: -12, MarkPrice: 100}
	order, err := PlanRebalance(pos, DefaultPolicy(), testRules(), Bounds{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if order.Side != Buy {
		t.Fatalf("shrinking a short hedge should BUY, got %s", order.Side)
	}
	if math.Abs(order.Quantity-2.5) > 1e-12 {
		t.Fatalf("expected quantity 2.5, got %v", order.Quantity)
	}
}

func TestPlanRejectsBalanced(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 10, FuturesAmt: -9.5, MarkPrice: 100}
	_, err := PlanRebalance(pos, DefaultPolicy(), testRules(), Bounds{})
	if !errors.Is(err, ErrAlreadyBalanced) {
		t.Fatalf("expected ErrAlreadyBalanced, got %v", err)
	}
}

func TestPlanRejectsBelowMinQty(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 0.3, FuturesAmt: 0, MarkPrice: 100}
	rules := TradingRules{StepSize: 0.01, MinQty: 0.5, MinNotional: 5}
	_, err := PlanRebalance(pos, DefaultPolicy(), rules, Bounds{})
	if !errors.Is(err, bnc.ErrRuleViolation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
}

func TestPlanRejectsBelowMinNotional(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 0.5, FuturesAmt: 0, MarkPrice: 10}
	rules := TradingRules{StepSize: 0.001, MinQty: 0.001, MinNotional: 5}
	_, err := PlanRebalance(pos, DefaultPolicy(), rules, Bounds{})
	if !errors.Is(err, bnc.ErrRuleViolation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
}

func TestPlanRejectsBelowConfiguredMinimum(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 0.5, FuturesAmt: 0, MarkPrice: 100}
	_, err := PlanRebalance(pos, DefaultPolicy(), testRules(), Bounds{MinUSD: 200})
	if !errors.Is(err, bnc.ErrRuleViolation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
}

func TestPlanCapsAtMaxOrderUSD(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 100, FuturesAmt: 0, MarkPrice: 100}
	order, err := PlanRebalance(pos, DefaultPolicy(), testRules(), Bounds{MaxUSD: 1000})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if math.Abs(order.Quantity-10) > 1e-12 {
		t.Fatalf("expected capped quantity 10, got %v", order.Quantity)
	}
}

func TestPlanRejectsZeroQuantity(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 10, FuturesAmt: -9.56, MarkPrice: 100}
	pol := Policy{MinRatio: 0.96, MaxRatio: 0.97, TargetRatio: 0.965}
	// delta is below one step, so the floored quantity is zero
	_, err := PlanRebalance(pos, pol, testRules(), Bounds{})
	if !errors.Is(err, ErrNoImprovement) {
		t.Fatalf("expected ErrNoImprovement, got %v", err)
	}
}

func TestPlanRequiresMarkPrice(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 10, FuturesAmt: 0}
	if _, err := PlanRebalance(pos, DefaultPolicy(), testRules(), Bounds{}); err == nil {
		t.Fatal("expected error with zero mark price")
	}
}

func TestPlanNakedFuturesReduces(t *testing.T) {
	pos := AssetPosition{Symbol: "BTCUSDT", SpotFree: 0, FuturesAmt: -3, MarkPrice: 100}
	order, err := PlanRebalance(pos, DefaultPolicy(), testRules(), Bounds{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if order.Side != Buy {
		t.Fatalf("naked short should be bought back, got %s", order.Side)
	}
	if math.Abs(order.Quantity-3) > 1e-12 {
		t.Fatalf("expected full close 3, got %v", order.Quantity)
	}
}

func TestCorrectiveSide(t *testing.T) {
	if got := correctiveSide(-5, 1); got != Sell {
		t.Fatalf("short grow expected SELL, got %s", got)
	}
	if got := correctiveSide(-5, -1); got != Buy {
		t.Fatalf("short shrink expected BUY, got %s", got)
	}
	if got := correctiveSide(5, 1); got != Buy {
		t.Fatalf("long grow expected BUY, got %s", got)
	}
	if got := correctiveSide(5, -1); got != Sell {
		t.Fatalf("long shrink expected SELL, got %s", got)
	}
	if got := correctiveSide(0, 1); got != Sell {
		t.Fatalf("flat grow expected SELL, got %s", got)
	}
}
