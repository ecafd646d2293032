package tagger

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// selector is the first four bytes of keccak256(signature), the standard
// Solidity function dispatch key.
type selector [4]byte

func selectorOf(signature string) selector {
	h := crypto.Keccak256([]byte(signature))
	var s selector
	copy(s[:], h[:4])
	return s
}

// swapKind distinguishes which argument layout a matched V2 selector uses;
// all of them share the (amountIn/amountOut, path, to, deadline) shape
// modulo the first one or two scalar arguments and the fee-on-transfer
// variants, which only change the *function name*, not the decode path.
type swapKind uint8

const (
	v2ExactTokensForTokens swapKind = iota
	v2TokensForExactTokens
	v2ExactETHForTokens
	v2TokensForExactETH
	v2ExactTokensForETH
	v2ETHForExactTokens
)

// v2Selectors maps every Uniswap V2 router selector this tagger recognizes
// (including the fee-on-transfer and ETH variants) to its decode kind.
var v2Selectors = map[selector]swapKind{
	selectorOf("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"):                                    v2ExactTokensForTokens,
	selectorOf("swapExactTokensForTokensSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)"):       v2ExactTokensForTokens,
	selectorOf("swapTokensForExactTokens(uint256,uint256,address[],address,uint256)"):                                    v2TokensForExactTokens,
	selectorOf("swapExactETHForTokens(uint256,address[],address,uint256)"):                                               v2ExactETHForTokens,
	selectorOf("swapExactETHForTokensSupportingFeeOnTransferTokens(uint256,address[],address,uint256)"):                  v2ExactETHForTokens,
	selectorOf("swapTokensForExactETH(uint256,uint256,address[],address,uint256)"):                                       v2TokensForExactETH,
	selectorOf("swapExactTokensForETH(uint256,uint256,address[],address,uint256)"):                                       v2ExactTokensForETH,
	selectorOf("swapExactTokensForETHSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)"):          v2ExactTokensForETH,
	selectorOf("swapETHForExactTokens(uint256,address[],address,uint256)"):                                               v2ETHForExactTokens,
}

type v3Kind uint8

const (
	v3ExactInputSingle v3Kind = iota
	v3ExactInput
	v3ExactOutputSingle
	v3ExactOutput
)

var v3Selectors = map[selector]v3Kind{
	selectorOf("exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))"): v3ExactInputSingle,
	selectorOf("exactInput((bytes,address,uint256,uint256,uint256))"):                                 v3ExactInput,
	selectorOf("exactOutputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))"): v3ExactOutputSingle,
	selectorOf("exactOutput((bytes,address,uint256,uint256,uint256))"):                                v3ExactOutput,
}

var (
	multicallSelector    = selectorOf("multicall(bytes[])")
	multicallDeadline    = selectorOf("multicall(uint256,bytes[])")
	universalExecute     = selectorOf("execute(bytes,bytes[],uint256)")
	universalExecuteNoDL = selectorOf("execute(bytes,bytes[])")

	erc20Transfer     = selectorOf("transfer(address,uint256)")
	erc20TransferFrom = selectorOf("transferFrom(address,address,uint256)")
	erc20Approve      = selectorOf("approve(address,uint256)")
)

// abi argument tuples used to decode each recognized selector's arguments.
var (
	addrArrTy, _  = abi.NewType("address[]", "", nil)
	addrTy, _     = abi.NewType("address", "", nil)
	uint256Ty, _  = abi.NewType("uint256", "", nil)
	uint24Ty, _   = abi.NewType("uint24", "", nil)
	uint160Ty, _  = abi.NewType("uint160", "", nil)
	bytesTy, _    = abi.NewType("bytes", "", nil)
	bytesArrTy, _ = abi.NewType("bytes[]", "", nil)

	// v3SingleArgs decodes both exactInputSingle and exactOutputSingle: all
	// eight tuple fields are static, so the tuple's encoding is identical to
	// a flat argument list with no head offset (spec §4.1 step 4). Field 6
	// is amountIn for the input variant and amountOut for the output one;
	// field 7 is the matching min/max bound — tagV3Swap interprets them by
	// kind.
	v3SingleArgs = abi.Arguments{
		{Name: "tokenIn", Type: addrTy},
		{Name: "tokenOut", Type: addrTy},
		{Name: "fee", Type: uint24Ty},
		{Name: "recipient", Type: addrTy},
		{Name: "deadline", Type: uint256Ty},
		{Name: "amountSpecified", Type: uint256Ty},
		{Name: "amountLimit", Type: uint256Ty},
		{Name: "sqrtPriceLimitX96", Type: uint160Ty},
	}

	// v3PathArgs decodes the tuple body of exactInput/exactOutput once the
	// caller has skipped the leading 32-byte offset word that makes the
	// outer tuple itself dynamic (the path is a bytes field).
	v3PathArgs = abi.Arguments{
		{Name: "path", Type: bytesTy},
		{Name: "recipient", Type: addrTy},
		{Name: "deadline", Type: uint256Ty},
		{Name: "amountSpecified", Type: uint256Ty},
		{Name: "amountLimit", Type: uint256Ty},
	}

	v2ArgsExactIn = abi.Arguments{
		{Name: "amountIn", Type: uint256Ty},
		{Name: "amountOutMin", Type: uint256Ty},
		{Name: "path", Type: addrArrTy},
		{Name: "to", Type: addrTy},
		{Name: "deadline", Type: uint256Ty},
	}
	v2ArgsExactOut = abi.Arguments{
		{Name: "amountOut", Type: uint256Ty},
		{Name: "amountInMax", Type: uint256Ty},
		{Name: "path", Type: addrArrTy},
		{Name: "to", Type: addrTy},
		{Name: "deadline", Type: uint256Ty},
	}
	v2ArgsExactETHIn = abi.Arguments{
		{Name: "amountOutMin", Type: uint256Ty},
		{Name: "path", Type: addrArrTy},
		{Name: "to", Type: addrTy},
		{Name: "deadline", Type: uint256Ty},
	}
	v2ArgsExactETHOut = abi.Arguments{
		{Name: "amountOut", Type: uint256Ty},
		{Name: "path", Type: addrArrTy},
		{Name: "to", Type: addrTy},
		{Name: "deadline", Type: uint256Ty},
	}

	multicallArgs = abi.Arguments{
		{Name: "data", Type: bytesArrTy},
	}
	multicallDeadlineArgs = abi.Arguments{
		{Name: "deadline", Type: uint256Ty},
		{Name: "data", Type: bytesArrTy},
	}
	executeArgs = abi.Arguments{
		{Name: "commands", Type: bytesTy},
		{Name: "inputs", Type: bytesArrTy},
		{Name: "deadline", Type: uint256Ty},
	}
	executeNoDLArgs = abi.Arguments{
		{Name: "commands", Type: bytesTy},
		{Name: "inputs", Type: bytesArrTy},
	}

	erc20TransferArgs = abi.Arguments{
		{Name: "to", Type: addrTy},
		{Name: "amount", Type: uint256Ty},
	}
	erc20TransferFromArgs = abi.Arguments{
		{Name: "from", Type: addrTy},
		{Name: "to", Type: addrTy},
		{Name: "amount", Type: uint256Ty},
	}
	erc20ApproveArgs = abi.Arguments{
		{Name: "spender", Type: addrTy},
		{Name: "amount", Type: uint256Ty},
	}
)

