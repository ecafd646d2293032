package stateprovider

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

func selector4(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

var (
	getReservesSelector = selector4("getReserves()")
	slot0Selector       = selector4("slot0()")
	liquiditySelector   = selector4("liquidity()")

	uint112Ty, _ = abi.NewType("uint112", "", nil)
	uint32Ty, _  = abi.NewType("uint32", "", nil)
	uint160Ty, _ = abi.NewType("uint160", "", nil)
	int24Ty, _   = abi.NewType("int24", "", nil)
	uint16Ty, _  = abi.NewType("uint16", "", nil)
	uint8Ty, _   = abi.NewType("uint8", "", nil)
	boolTy, _    = abi.NewType("bool", "", nil)
	uint128Ty, _ = abi.NewType("uint128", "", nil)

	getReservesReturns = abi.Arguments{
		{Name: "reserve0", Type: uint112Ty},
		{Name: "reserve1", Type: uint112Ty},
		{Name: "blockTimestampLast", Type: uint32Ty},
	}

	// slot0Returns matches UniswapV3Pool.slot0()'s seven-field tuple; this
	// provider only needs the first two.
	slot0Returns = abi.Arguments{
		{Name: "sqrtPriceX96", Type: uint160Ty},
		{Name: "tick", Type: int24Ty},
		{Name: "observationIndex", Type: uint16Ty},
		{Name: "observationCardinality", Type: uint16Ty},
		{Name: "observationCardinalityNext", Type: uint16Ty},
		{Name: "feeProtocol", Type: uint8Ty},
		{Name: "unlocked", Type: boolTy},
	}

	liquidityReturns = abi.Arguments{
		{Name: "liquidity", Type: uint128Ty},
	}
)
