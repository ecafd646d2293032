package tagger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// decodeMulticallInner unpacks the inner calldata array from multicall(bytes[])
// / multicall(uint256,bytes[]) / Universal Router execute(bytes,bytes[],
// uint256). The Universal Router's "commands" byte string is not decoded
// opcode-by-opcode — each inner `inputs[i]` entry is recursed on exactly
// like a multicall branch, which is sufficient to recover swap tags and
// token paths without modelling the full command dispatcher.
func decodeMulticallInner(sig selector, data []byte) ([][]byte, error) {
	switch sig {
	case multicallSelector:
		out, err := multicallArgs.Unpack(data)
		if err != nil || len(out) != 1 {
			return nil, errDecodeArgs
		}
		return castBytesSlice(out[0])
	case multicallDeadline:
		out, err := multicallDeadlineArgs.Unpack(data)
		if err != nil || len(out) != 2 {
			return nil, errDecodeArgs
		}
		return castBytesSlice(out[1])
	case universalExecute:
		out, err := executeArgs.Unpack(data)
		if err != nil || len(out) != 3 {
			return nil, errDecodeArgs
		}
		return castBytesSlice(out[1])
	case universalExecuteNoDL:
		out, err := executeNoDLArgs.Unpack(data)
		if err != nil || len(out) != 2 {
			return nil, errDecodeArgs
		}
		return castBytesSlice(out[1])
	}
	return nil, errDecodeArgs
}

func castBytesSlice(v interface{}) ([][]byte, error) {
	s, ok := v.([][]byte)
	if !ok {
		return nil, errDecodeArgs
	}
	return s, nil
}

// mergeInto unions tags/targets and concatenates token paths (deduping
// adjacent entries) from src into dst, per spec §4.1 step 5.
func mergeInto(dst *types.TaggedTx, src *types.TaggedTx) {
	for tag := range src.Tags {
		dst.Tags[tag] = struct{}{}
	}
	for tgt := range src.Targets {
		dst.Targets[tgt] = struct{}{}
	}
	for _, tok := range src.TokenPath {
		if n := len(dst.TokenPath); n > 0 && dst.TokenPath[n-1] == tok {
			continue
		}
		dst.TokenPath = append(dst.TokenPath, tok)
	}
	if dst.AmountIn == nil {
		dst.AmountIn = src.AmountIn
	}
	if dst.AmountOutMin == nil {
		dst.AmountOutMin = src.AmountOutMin
	}
}

func emptyTagged(pending types.PendingTx) *types.TaggedTx {
	return &types.TaggedTx{
		PendingTx: pending,
		Tags:      make(map[types.Tag]struct{}),
		Targets:   make(map[common.Address]struct{}),
	}
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
