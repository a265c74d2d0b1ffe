// Package hedge classifies spot/futures pairings and plans corrective orders.
// Evaluation is stateless and idempotent: the same snapshot always yields the
// same classification.
package hedge

import "math"

// Evaluate classifies one asset's hedge consistency.
//
// A futures position with no spot backing is always NakedFutures, flagged
// regardless of the ratio band; the ratio itself is left undefined so no
// Inf or NaN ever escapes. Flat assets (no spot, no futures) come back
// Balanced since there is nothing to correct.
func Evaluate(pos AssetPosition, pol Policy) Evaluation {
	spot := pos.SpotTotal()
	futures := math.Abs(pos.FuturesAmt)
	eval := Evaluation{
		Asset:       pos.Asset,
		Symbol:      pos.Symbol,
		SpotTotal:   spot,
		FuturesSize: futures,
	}
	switch {
	case spot <= 0 && futures > 0:
		eval.Classification = NakedFutures
	case spot <= 0:
		eval.Classification = Balanced
	case futures == 0:
		eval.HasRatio = true
		eval.Classification = NoHedge
	default:
		ratio := futures / spot
		eval.Ratio = ratio
		eval.HasRatio = true
		switch {
		case ratio < pol.MinRatio:
			eval.Classification = UnderHedged
		case ratio > pol.MaxRatio:
			eval.Classification = OverHedged
		default:
			eval.Classification = Balanced
		}
	}
	return eval
}
