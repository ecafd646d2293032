package evaluator

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// toFloat converts a uint256 amount to a float64 for the signal math
// that spec §4.5 expresses in continuous terms (S/D, kappa, the logistic
// score). Precision loss here is acceptable: these are dimensionless
// ranking signals, not on-chain-exact amounts (those stay in uint256
// throughout pricing.go).
func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

// poolDepth returns the depth D spec §4.5 defines: the reserve on the
// deeper side for V2, or liquidity/sqrt(p) for V3.
func poolDepth(kind poolKindLike, reserveDeep, sqrtPriceX96, liquidity *uint256.Int) float64 {
	if kind.isV3 {
		if sqrtPriceX96 == nil || sqrtPriceX96.IsZero() {
			return 0
		}
		q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
		depth := new(uint256.Int).Div(new(uint256.Int).Mul(liquidity, q96), sqrtPriceX96)
		return toFloat(depth)
	}
	return toFloat(reserveDeep)
}

// poolKindLike avoids an import cycle on types.PoolKind for this tiny
// helper struct; Evaluate constructs it inline from the snapshot's kind.
type poolKindLike struct{ isV3 bool }

// logistic is the standard sigmoid sigma(z) = 1/(1+e^-z).
func logistic(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// ScoreWeights mirrors config.ScoreWeights without importing pkg/config,
// keeping this package dependency-free of the process-wide config type.
type ScoreWeights struct {
	A, B, C float64
}

// opportunityScore implements spec §4.5's formula:
//
//	sigma(a*(S/D) + b*max(0, slippage_avg-baseline) + c*kappa) * viability_factor
func opportunityScore(w ScoreWeights, sOverD, slippageAvg, baseline, kappa float64, viable bool) float64 {
	slippageTerm := math.Max(0, slippageAvg-baseline)
	z := w.A*sOverD + w.B*slippageTerm + w.C*kappa
	score := logistic(z)
	if !viable {
		return 0
	}
	return score
}

// kappa computes the dimensionless convexity measure spec §4.5 defines:
// (price_after/price_before - 1) / (S/D).
func kappa(priceBefore, priceAfter, sOverD float64) float64 {
	if priceBefore == 0 || sOverD == 0 {
		return 0
	}
	return (priceAfter/priceBefore - 1) / sOverD
}
