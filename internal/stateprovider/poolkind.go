package stateprovider

import "github.com/angu-team/ethernity-detector-mev/internal/types"

// v2PoolByteCeiling is an upper bound on UniswapV2Pair-style runtime
// bytecode length (around 5.1 KB in practice); V3 pools are far larger,
// commonly pushing against the 24576-byte contract size limit. This is a
// coarse fingerprint, not a proof of pool kind — StateProvider memoizes
// whatever it decides and never re-derives it (spec §4.4 "pool_kind").
const v2PoolByteCeiling = 8192

func classifyPoolBytecode(code []byte) types.PoolKind {
	switch {
	case len(code) == 0:
		return types.PoolUnknown
	case len(code) <= v2PoolByteCeiling:
		return types.PoolV2
	default:
		return types.PoolV3
	}
}
