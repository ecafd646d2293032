package tagger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// v3HeadWordLen is the size of the leading offset word that precedes a
// dynamic tuple's body when that tuple is the sole top-level argument.
const v3HeadWordLen = 32

// tagV3Swap decodes a Uniswap V3 router swap. The *Single variants take an
// all-static tuple, so their calldata decodes like a flat argument list; the
// path variants take a tuple with a dynamic bytes field, which adds a
// leading offset word ahead of the tuple body (spec §4.1 step 4).
func tagV3Swap(tx types.PendingTx, sig selector, args []byte) (*types.TaggedTx, bool) {
	kind := v3Selectors[sig]

	var path []common.Address
	var amountIn, amountOutMin *uint256.Int

	switch kind {
	case v3ExactInputSingle, v3ExactOutputSingle:
		out, err := v3SingleArgs.Unpack(args)
		if err != nil || len(out) != 8 {
			return nil, false
		}
		tokenIn, ok0 := out[0].(common.Address)
		tokenOut, ok1 := out[1].(common.Address)
		specified, ok2 := out[5].(*big.Int)
		limit, ok3 := out[6].(*big.Int)
		if !ok0 || !ok1 || !ok2 || !ok3 {
			return nil, false
		}
		path = []common.Address{tokenIn, tokenOut}
		if kind == v3ExactInputSingle {
			amountIn, amountOutMin = toU256(specified), toU256(limit)
		} else {
			amountOutMin, amountIn = toU256(specified), toU256(limit)
		}
	case v3ExactInput, v3ExactOutput:
		if len(args) <= v3HeadWordLen {
			return nil, false
		}
		out, err := v3PathArgs.Unpack(args[v3HeadWordLen:])
		if err != nil || len(out) != 5 {
			return nil, false
		}
		rawPath, okP := out[0].([]byte)
		specified, ok2 := out[3].(*big.Int)
		limit, ok3 := out[4].(*big.Int)
		if !okP || !ok2 || !ok3 {
			return nil, false
		}
		decoded, derr := decodeV3Path(rawPath)
		if derr != nil || len(decoded) < 2 {
			return nil, false
		}
		path = decoded
		if kind == v3ExactInput {
			amountIn, amountOutMin = toU256(specified), toU256(limit)
		} else {
			amountOutMin, amountIn = toU256(specified), toU256(limit)
		}
	default:
		return nil, false
	}

	if len(path) < 2 {
		return nil, false
	}

	out := emptyTagged(tx)
	out.Tags[types.TagSwapV3] = struct{}{}
	out.TokenPath = path
	out.Targets[tx.To] = struct{}{}
	out.AmountIn = amountIn
	out.AmountOutMin = amountOutMin
	return out, true
}
