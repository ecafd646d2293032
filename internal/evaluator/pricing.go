// Package evaluator computes per-victim slippage, aggregate opportunity
// signals, and expected back-run profit for a ripe bucket (spec §4.5).
package evaluator

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

const bpsDenominator = 10_000

// v2Output computes the constant-product output for reserves (resIn,
// resOut), fee f (bps) and input x, per spec §4.5:
//
//	y = (resOut * x * (10000-f)) / (resIn*10000 + x*(10000-f))
//
// All arithmetic happens in 256-bit unsigned integers; the numerator
// product resOut*xFeeAdj is formed via 512-bit widening inside the final
// MulDivOverflow, so it never has to fit in 256 bits, per spec §9
// "Pricing precision". The result is 0 if x*(10000-f), the denominator or
// the quotient does not fit in 256 bits.
func v2Output(resIn, resOut *uint256.Int, feeBps uint16, amountIn *uint256.Int) *uint256.Int {
	if resIn.IsZero() || resOut.IsZero() || amountIn.IsZero() {
		return uint256.NewInt(0)
	}

	feeAdj := uint256.NewInt(bpsDenominator - uint64(feeBps))
	denomTenK := uint256.NewInt(bpsDenominator)

	one := uint256.NewInt(1)
	xFeeAdj, overflow := new(uint256.Int).MulDivOverflow(amountIn, feeAdj, one)
	if overflow {
		return uint256.NewInt(0)
	}

	resInTenK, overflow := new(uint256.Int).MulDivOverflow(resIn, denomTenK, one)
	if overflow {
		return uint256.NewInt(0)
	}
	denominator, overflow := new(uint256.Int).AddOverflow(resInTenK, xFeeAdj)
	if overflow || denominator.IsZero() {
		return uint256.NewInt(0)
	}

	out, overflow := new(uint256.Int).MulDivOverflow(resOut, xFeeAdj, denominator)
	if overflow {
		return uint256.NewInt(0)
	}
	return out
}

// v3Output approximates the V3 concentrated-liquidity swap output by
// treating the active tick's liquidity as constant across the swap (spec
// §4.5): for input dx, the closed-form sqrt-price delta is
// dSqrtPrice = dx / liquidity (token0-in convention), and output is
// liquidity * dSqrtPrice / (sqrtPrice * (sqrtPrice + dSqrtPrice))
// (the standard single-tick closed form). crossesTick reports whether the
// computed price delta is large enough relative to the tick spacing
// heuristic that a real swap would likely cross ticks, signalling the
// caller to fall back to twoTickBlend.
func v3Output(sqrtPriceX96, liquidity, amountIn *uint256.Int) (amountOut *uint256.Int, crossesTick bool) {
	if liquidity.IsZero() || sqrtPriceX96.IsZero() || amountIn.IsZero() {
		return uint256.NewInt(0), false
	}

	// dSqrtPriceX96 = amountIn * Q96 / liquidity (Q64.96 fixed point).
	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	dSqrt, overflow := new(uint256.Int).MulDivOverflow(amountIn, q96, liquidity)
	if overflow {
		return uint256.NewInt(0), true
	}

	// crossesTick is a coarse heuristic: a price delta exceeding 10% of
	// the current sqrt price means the swap almost certainly walks past
	// the active tick's boundary at typical tick spacings.
	tenPercent := new(uint256.Int).Div(sqrtPriceX96, uint256.NewInt(10))
	crossesTick = dSqrt.Cmp(tenPercent) > 0

	newSqrt := new(uint256.Int).Add(sqrtPriceX96, dSqrt)
	// amountOut = liquidity * dSqrt / (sqrtPrice * newSqrt / Q96)
	denom, overflow := new(uint256.Int).MulDivOverflow(sqrtPriceX96, newSqrt, q96)
	if overflow || denom.IsZero() {
		return uint256.NewInt(0), crossesTick
	}
	out, overflow := new(uint256.Int).MulDivOverflow(liquidity, dSqrt, denom)
	if overflow {
		return uint256.NewInt(0), crossesTick
	}
	return out, crossesTick
}

// twoTickBlend linearly blends the outputs computed at the current price
// and at a 10%-shifted price, approximating the effect of crossing into
// an adjacent tick without a full tick-walk (spec §4.5 "convexity_high").
func twoTickBlend(sqrtPriceX96, liquidity, amountIn *uint256.Int) *uint256.Int {
	half := new(uint256.Int).Rsh(amountIn, 1)
	out1, _ := v3Output(sqrtPriceX96, liquidity, half)

	shiftedPrice := new(uint256.Int).Add(sqrtPriceX96, new(uint256.Int).Div(sqrtPriceX96, uint256.NewInt(10)))
	remaining := new(uint256.Int).Sub(amountIn, half)
	out2, _ := v3Output(shiftedPrice, liquidity, remaining)

	return new(uint256.Int).Add(out1, out2)
}

// priceForKind dispatches to the pricing formula matching a snapshot's
// pool kind. ok is false for PoolUnknown or an empty pool (spec §8
// "R_in = R_out = 0 returns 0, dropped with reason empty_pool").
func priceForKind(snap *types.Snapshot, tokenIn common.Address, amountIn *uint256.Int) (out *uint256.Int, convexityHigh bool, ok bool) {
	switch snap.Kind {
	case types.PoolV2:
		resIn, resOut := snap.Reserve0, snap.Reserve1
		if tokenIn != snap.Token0 {
			resIn, resOut = snap.Reserve1, snap.Reserve0
		}
		if resIn == nil || resOut == nil || resIn.IsZero() || resOut.IsZero() {
			return uint256.NewInt(0), false, false
		}
		return v2Output(resIn, resOut, snap.FeeBps, amountIn), false, true
	case types.PoolV3:
		if snap.Liquidity == nil || snap.Liquidity.IsZero() {
			return uint256.NewInt(0), false, false
		}
		out, crosses := v3Output(snap.SqrtPriceX96, snap.Liquidity, amountIn)
		if crosses {
			out = twoTickBlend(snap.SqrtPriceX96, snap.Liquidity, amountIn)
		}
		return out, crosses, true
	default:
		return uint256.NewInt(0), false, false
	}
}
