package hedge

import (
	"errors"
	"fmt"
	"math"

	"bn-hedge-bot/internal/bnc"
)

var (
	ErrAlreadyBalanced = errors.New("position already balanced")
	ErrNoImprovement   = errors.New("no improvement possible")
)

const stepEpsilon = 1e-9

// PlanRebalance turns an imbalance into one exchange-legal corrective order.
//
// The target futures size is spotTotal * targetRatio and the corrective
// quantity is floored to the step size, never rounded up, so a fix can not
// overshoot the target and flip the imbalance to the other side. Orders below
// the exchange minimums are rejected with the offending numbers instead of
// being silently skipped.
func PlanRebalance(pos AssetPosition, pol Policy, rules TradingRules, bounds Bounds) (Order, error) {
	eval := Evaluate(pos, pol)
	if eval.Classification == Balanced {
		return Order{}, fmt.Errorf("%s: ratio %.4f within [%.4f, %.4f]: %w",
			pos.Symbol, eval.Ratio, pol.MinRatio, pol.MaxRatio, ErrAlreadyBalanced)
	}
	if pos.MarkPrice <= 0 {
		return Order{}, fmt.Errorf("%s: mark price %.8f unavailable for notional checks", pos.Symbol, pos.MarkPrice)
	}

	spot := pos.SpotTotal()
	current := math.Abs(pos.FuturesAmt)
	target := spot * pol.TargetRatio
	delta := target - current

	quantity := floorToStep(math.Abs(delta), rules.StepSize)
	if bounds.MaxUSD > 0 && quantity*pos.MarkPrice > bounds.MaxUSD {
		quantity = floorToStep(bounds.MaxUSD/pos.MarkPrice, rules.StepSize)
	}
	if quantity <= 0 {
		return Order{}, fmt.Errorf("%s: corrective quantity floored to zero (delta %.8f, step %.8f): %w",
			pos.Symbol, delta, rules.StepSize, ErrNoImprovement)
	}
	if quantity < rules.MinQty {
		return Order{}, fmt.Errorf("%s: cannot rebalance, quantity %.8f below exchange min qty %.8f: %w",
			pos.Symbol, quantity, rules.MinQty, bnc.ErrRuleViolation)
	}
	notional := quantity * pos.MarkPrice
	if notional < rules.MinNotional {
		return Order{}, fmt.Errorf("%s: cannot rebalance, notional %.2f below exchange min notional %.2f: %w",
			pos.Symbol, notional, rules.MinNotional, bnc.ErrRuleViolation)
	}
	if bounds.MinUSD > 0 && notional < bounds.MinUSD {
		return Order{}, fmt.Errorf("%s: cannot rebalance, notional %.2f below configured minimum %.2f: %w",
			pos.Symbol, notional, bounds.MinUSD, bnc.ErrRuleViolation)
	}

	// The flooring above means the corrected size never crosses the target,
	// so checking the distance shrinks is enough to guarantee the new ratio
	// lands strictly closer to target than before.
	if spot > 0 {
		newSize := current + quantity
		if delta < 0 {
			newSize = current - quantity
		}
		newRatio := newSize / spot
		if math.Abs(newRatio-pol.TargetRatio) >= math.Abs(eval.Ratio-pol.TargetRatio) {
			return Order{}, fmt.Errorf("%s: order of %.8f moves ratio %.4f -> %.4f, not closer to target %.4f: %w",
				pos.Symbol, quantity, eval.Ratio, newRatio, pol.TargetRatio, ErrNoImprovement)
		}
	}

	return Order{
		Symbol:   pos.Symbol,
		Side:     correctiveSide(pos.FuturesAmt, delta),
		Quantity: quantity,
		Reason: fmt.Sprintf("%s: spot %.8f futures %.8f target ratio %.4f",
			eval.Classification, spot, current, pol.TargetRatio),
	}, nil
}

// correctiveSide picks the order side that moves the futures position size
// toward the target. Hedges follow the short-futures convention: growing a
// hedge from flat or short sells, shrinking a short buys it back. A long
// futures position is adjusted in its own direction.
func correctiveSide(futuresAmt, delta float64) Side {
	long := futuresAmt > 0
	if delta > 0 {
		if long {
			return Buy
		}
		return Sell
	}
	if long {
		return Sell
	}
	return Buy
}

func floorToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	steps := math.Floor(quantity/step + stepEpsilon)
	if steps <= 0 {
		return 0
	}
	return steps * step
}
