package tagger

import "github.com/ethereum/go-ethereum/common"

// decodeV3Path splits a Uniswap V3 "packed path" encoding — a sequence of
// 20-byte token addresses separated by 3-byte fee tiers
// (token0 ‖ fee01 ‖ token1 ‖ fee12 ‖ token2 ‖ ...) — into the full ordered
// token sequence. Malformed paths (wrong total length) yield an error so
// the caller can downgrade the tag to Unknown rather than panic.
func decodeV3Path(path []byte) ([]common.Address, error) {
	const (
		addrLen = 20
		feeLen  = 3
	)
	if len(path) < addrLen {
		return nil, errShortPath
	}
	// N tokens require (N-1) fee tiers: len = N*20 + (N-1)*3.
	rem := len(path) - addrLen
	if rem%(addrLen+feeLen) != 0 {
		return nil, errMalformedPath
	}
	n := rem/(addrLen+feeLen) + 1

	tokens := make([]common.Address, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		var a common.Address
		copy(a[:], path[off:off+addrLen])
		tokens = append(tokens, a)
		off += addrLen
		if i < n-1 {
			off += feeLen
		}
	}
	return tokens, nil
}
