// Package tagger implements the NatureTagger: a pure, side-effect-free
// classifier that decides what a pending transaction does from its
// calldata and destination bytecode alone, without executing or
// simulating it (spec §4.1).
package tagger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// toU256 converts an abi-decoded *big.Int (always non-negative for the
// uintN types this tagger decodes) into the fixed-width integer used
// throughout the rest of the pipeline. A nil input yields zero.
func toU256(bi *big.Int) *uint256.Int {
	if bi == nil {
		return uint256.NewInt(0)
	}
	u, overflow := uint256.FromBig(bi)
	if overflow {
		return uint256.NewInt(0)
	}
	return u
}

// maxMulticallDepth bounds multicall recursion; Universal Router batches
// are never nested more than a handful of levels deep in practice, and
// this keeps Tag's running time linear in calldata length regardless of
// adversarial nesting (spec §4.1: "time bounded independent of contract
// size").
const maxMulticallDepth = 8

// Stats counts recovered decode failures; callers that care about
// observability can read it (it is safe for concurrent use).
type Stats struct {
	unknownCount counter
}

var globalStats Stats

// UnknownCount returns the number of calldata payloads downgraded to
// Unknown since process start.
func UnknownCount() uint64 { return globalStats.unknownCount.load() }

// Tag classifies a single pending transaction. It never returns an error:
// any malformed input downgrades to an Unknown tag with an empty path,
// per spec §4.1/§7. code is the bytecode at tx.To (may be nil for an EOA
// destination, which also yields Unknown/ProxyCall as appropriate).
func Tag(tx types.PendingTx, code []byte) *types.TaggedTx {
	out := tagRecursive(tx, tx.Input, code, 0)
	if out.AmountIn == nil {
		out.AmountIn = uint256.NewInt(0)
	}
	if out.AmountOutMin == nil {
		out.AmountOutMin = uint256.NewInt(0)
	}
	out.GroupKey = types.GroupKeyFor(out.TokenPath, out.Targets)
	return out
}

func tagRecursive(tx types.PendingTx, input, code []byte, depth int) *types.TaggedTx {
	out := emptyTagged(tx)

	if len(input) < 4 {
		globalStats.unknownCount.add(1)
		out.Tags[types.TagUnknown] = struct{}{}
		return out
	}

	var sig selector
	copy(sig[:], input[:4])
	args := input[4:]

	switch {
	case isV2Selector(sig):
		if tagged, ok := tagV2Swap(tx, sig, args); ok {
			return tagged
		}
	case isV3Selector(sig):
		if tagged, ok := tagV3Swap(tx, sig, args); ok {
			return tagged
		}
	case sig == multicallSelector || sig == multicallDeadline || sig == universalExecute || sig == universalExecuteNoDL:
		if depth >= maxMulticallDepth {
			break
		}
		inner, err := decodeMulticallInner(sig, args)
		if err != nil {
			break
		}
		out.Tags[types.TagMulticall] = struct{}{}
		out.Targets[tx.To] = struct{}{}
		for _, innerCalldata := range inner {
			branch := tagRecursive(tx, innerCalldata, code, depth+1)
			mergeInto(out, branch)
		}
		return out
	case sig == erc20Transfer:
		out.Tags[types.TagTransfer] = struct{}{}
		out.Targets[tx.To] = struct{}{}
		out.TokenPath = []common.Address{tx.To}
		if decoded, uerr := erc20TransferArgs.Unpack(args); uerr == nil && len(decoded) == 2 {
			if amt, ok := decoded[1].(*big.Int); ok {
				out.AmountIn = toU256(amt)
			}
		}
		return out
	case sig == erc20TransferFrom:
		out.Tags[types.TagTransfer] = struct{}{}
		out.Targets[tx.To] = struct{}{}
		out.TokenPath = []common.Address{tx.To}
		if decoded, uerr := erc20TransferFromArgs.Unpack(args); uerr == nil && len(decoded) == 3 {
			if amt, ok := decoded[2].(*big.Int); ok {
				out.AmountIn = toU256(amt)
			}
		}
		return out
	case sig == erc20Approve:
		out.Tags[types.TagApprove] = struct{}{}
		out.Targets[tx.To] = struct{}{}
		out.TokenPath = []common.Address{tx.To}
		if decoded, uerr := erc20ApproveArgs.Unpack(args); uerr == nil && len(decoded) == 2 {
			if amt, ok := decoded[1].(*big.Int); ok {
				out.AmountIn = toU256(amt)
			}
		}
		return out
	}

	// Unrecognized selector: fall back to the bytecode proxy heuristic
	// (spec §4.1 step 7).
	if looksLikeProxy(code) {
		out.Tags[types.TagProxyCall] = struct{}{}
		return out
	}
	globalStats.unknownCount.add(1)
	out.Tags[types.TagUnknown] = struct{}{}
	return out
}

func isV2Selector(s selector) bool { _, ok := v2Selectors[s]; return ok }
func isV3Selector(s selector) bool { _, ok := v3Selectors[s]; return ok }

func tagV2Swap(tx types.PendingTx, sig selector, args []byte) (*types.TaggedTx, bool) {
	kind := v2Selectors[sig]

	var path []common.Address
	var amountIn, amountOutMin *uint256.Int
	var err error

	switch kind {
	case v2ExactTokensForTokens, v2TokensForExactTokens:
		layout := v2ArgsExactIn
		if kind == v2TokensForExactTokens {
			layout = v2ArgsExactOut
		}
		out, uerr := layout.Unpack(args)
		if uerr != nil || len(out) != 5 {
			err = errDecodeArgs
			break
		}
		a0, ok0 := out[0].(*big.Int)
		a1, ok1 := out[1].(*big.Int)
		p, okP := out[2].([]common.Address)
		if !ok0 || !ok1 || !okP {
			err = errDecodeArgs
			break
		}
		path = p
		if kind == v2ExactTokensForTokens {
			amountIn, amountOutMin = toU256(a0), toU256(a1)
		} else {
			amountOutMin, amountIn = toU256(a0), toU256(a1)
		}
	case v2ExactETHForTokens, v2ETHForExactTokens:
		layout := v2ArgsExactETHIn
		if kind == v2ETHForExactTokens {
			layout = v2ArgsExactETHOut
		}
		out, uerr := layout.Unpack(args)
		if uerr != nil || len(out) != 4 {
			err = errDecodeArgs
			break
		}
		a0, ok0 := out[0].(*big.Int)
		p, okP := out[1].([]common.Address)
		if !ok0 || !okP {
			err = errDecodeArgs
			break
		}
		path = p
		if kind == v2ExactETHForTokens {
			amountIn, amountOutMin = zeroIfNil(tx.Value), toU256(a0)
		} else {
			amountOutMin, amountIn = toU256(a0), zeroIfNil(tx.Value)
		}
	case v2TokensForExactETH, v2ExactTokensForETH:
		layout := v2ArgsExactOut
		if kind == v2ExactTokensForETH {
			layout = v2ArgsExactIn
		}
		out, uerr := layout.Unpack(args)
		if uerr != nil || len(out) != 5 {
			err = errDecodeArgs
			break
		}
		a0, ok0 := out[0].(*big.Int)
		a1, ok1 := out[1].(*big.Int)
		p, okP := out[2].([]common.Address)
		if !ok0 || !ok1 || !okP {
			err = errDecodeArgs
			break
		}
		path = p
		if kind == v2ExactTokensForETH {
			amountIn, amountOutMin = toU256(a0), toU256(a1)
		} else {
			amountOutMin, amountIn = toU256(a0), toU256(a1)
		}
	}

	if err != nil || len(path) < 2 {
		return nil, false
	}

	out := emptyTagged(tx)
	out.Tags[types.TagSwapV2] = struct{}{}
	out.TokenPath = path
	out.Targets[tx.To] = struct{}{}
	out.AmountIn = amountIn
	out.AmountOutMin = amountOutMin
	return out, true
}
