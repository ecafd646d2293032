package tagger

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

func samplePending(input []byte) types.PendingTx {
	return types.PendingTx{
		Hash:       common.HexToHash("0x01"),
		From:       common.HexToAddress("0xaaaa"),
		To:         common.HexToAddress("0x5555"),
		Input:      input,
		Value:      uint256.NewInt(0),
		Gas:        200000,
		ObservedAt: time.Now(),
	}
}

func packSelector(sig string, packed []byte) []byte {
	out := make([]byte, 4+len(packed))
	sel := selectorOf(sig)
	copy(out[:4], sel[:])
	copy(out[4:], packed)
	return out
}

func TestTagV2SwapExactTokensForTokens(t *testing.T) {
	path := []common.Address{
		common.HexToAddress("0x1111"),
		common.HexToAddress("0x2222"),
		common.HexToAddress("0x3333"),
	}
	args, err := v2ArgsExactIn.Pack(
		big.NewInt(1_000_000),
		big.NewInt(900_000),
		path,
		common.HexToAddress("0x4444"),
		big.NewInt(9_999_999_999),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	input := packSelector("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)", args)

	out := Tag(samplePending(input), nil)
	if !out.HasTag(types.TagSwapV2) {
		t.Fatalf("expected SwapV2 tag, got %v", out.Tags)
	}
	if len(out.TokenPath) != 3 || out.TokenPath[0] != path[0] || out.TokenPath[2] != path[2] {
		t.Fatalf("unexpected token path: %v", out.TokenPath)
	}
	if out.AmountIn.Uint64() != 1_000_000 || out.AmountOutMin.Uint64() != 900_000 {
		t.Fatalf("unexpected amounts: in=%s outMin=%s", out.AmountIn, out.AmountOutMin)
	}
	if out.GroupKey == "" {
		t.Fatalf("expected non-empty group key")
	}
}

func TestTagV2SwapExactETHForTokens(t *testing.T) {
	path := []common.Address{
		common.HexToAddress("0x1111"),
		common.HexToAddress("0x2222"),
	}
	args, err := v2ArgsExactETHIn.Pack(
		big.NewInt(500),
		path,
		common.HexToAddress("0x4444"),
		big.NewInt(9_999_999_999),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	input := packSelector("swapExactETHForTokens(uint256,address[],address,uint256)", args)

	pending := samplePending(input)
	pending.Value = uint256.NewInt(123456)
	out := Tag(pending, nil)
	if !out.HasTag(types.TagSwapV2) {
		t.Fatalf("expected SwapV2 tag, got %v", out.Tags)
	}
	if out.AmountIn.Uint64() != 123456 {
		t.Fatalf("expected amountIn from tx value, got %s", out.AmountIn)
	}
	if out.AmountOutMin.Uint64() != 500 {
		t.Fatalf("unexpected amountOutMin: %s", out.AmountOutMin)
	}
}

func TestTagV3ExactInputSingle(t *testing.T) {
	args, err := v3SingleArgs.Pack(
		common.HexToAddress("0x1111"),
		common.HexToAddress("0x2222"),
		big.NewInt(3000),
		common.HexToAddress("0x4444"),
		big.NewInt(9_999_999_999),
		big.NewInt(1_000_000),
		big.NewInt(950_000),
		big.NewInt(0),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	input := packSelector("exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))", args)

	out := Tag(samplePending(input), nil)
	if !out.HasTag(types.TagSwapV3) {
		t.Fatalf("expected SwapV3 tag, got %v", out.Tags)
	}
	if len(out.TokenPath) != 2 {
		t.Fatalf("unexpected token path: %v", out.TokenPath)
	}
	if out.AmountIn.Uint64() != 1_000_000 || out.AmountOutMin.Uint64() != 950_000 {
		t.Fatalf("unexpected amounts: in=%s outMin=%s", out.AmountIn, out.AmountOutMin)
	}
}

func TestTagV3ExactInputMultiHop(t *testing.T) {
	path := append(append(
		common.HexToAddress("0x1111").Bytes(),
		append([]byte{0x00, 0x0b, 0xb8}, common.HexToAddress("0x2222").Bytes()...)...,
	), append([]byte{0x00, 0x0b, 0xb8}, common.HexToAddress("0x3333").Bytes()...)...)

	body, err := v3PathArgs.Pack(
		path,
		common.HexToAddress("0x4444"),
		big.NewInt(9_999_999_999),
		big.NewInt(2_000_000),
		big.NewInt(1_800_000),
	)
	if err != nil {
		t.Fatalf("pack body: %v", err)
	}
	args := append(make([]byte, v3HeadWordLen), body...)
	// The outer offset word's exact value does not matter to the decoder
	// (it always skips exactly one head word), only its presence.
	input := packSelector("exactInput((bytes,address,uint256,uint256,uint256))", args)

	out := Tag(samplePending(input), nil)
	if !out.HasTag(types.TagSwapV3) {
		t.Fatalf("expected SwapV3 tag, got %v", out.Tags)
	}
	if len(out.TokenPath) != 3 {
		t.Fatalf("expected 3-hop path, got %v", out.TokenPath)
	}
	if out.AmountIn.Uint64() != 2_000_000 || out.AmountOutMin.Uint64() != 1_800_000 {
		t.Fatalf("unexpected amounts: in=%s outMin=%s", out.AmountIn, out.AmountOutMin)
	}
}

func TestTagMulticallRecursesIntoSwap(t *testing.T) {
	path := []common.Address{
		common.HexToAddress("0x1111"),
		common.HexToAddress("0x2222"),
	}
	swapArgs, err := v2ArgsExactIn.Pack(
		big.NewInt(1000),
		big.NewInt(900),
		path,
		common.HexToAddress("0x4444"),
		big.NewInt(9_999_999_999),
	)
	if err != nil {
		t.Fatalf("pack swap: %v", err)
	}
	swapCalldata := packSelector("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)", swapArgs)

	outer, err := multicallArgs.Pack([][]byte{swapCalldata})
	if err != nil {
		t.Fatalf("pack multicall: %v", err)
	}
	input := packSelector("multicall(bytes[])", outer)

	out := Tag(samplePending(input), nil)
	if !out.HasTag(types.TagMulticall) {
		t.Fatalf("expected Multicall tag, got %v", out.Tags)
	}
	if !out.HasTag(types.TagSwapV2) {
		t.Fatalf("expected merged SwapV2 tag from inner call, got %v", out.Tags)
	}
	if len(out.TokenPath) != 2 {
		t.Fatalf("unexpected merged token path: %v", out.TokenPath)
	}
}

func TestTagUnknownShortCalldataDoesNotPanic(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3} {
		input := make([]byte, n)
		out := Tag(samplePending(input), nil)
		if !out.HasTag(types.TagUnknown) {
			t.Fatalf("len=%d: expected Unknown tag, got %v", n, out.Tags)
		}
		if out.AmountIn == nil || out.AmountOutMin == nil {
			t.Fatalf("len=%d: expected zero-valued amounts, got nil", n)
		}
	}
}

func TestTagUnrecognizedSelectorFallsBackToProxyHeuristic(t *testing.T) {
	input := packSelector("someRandomFunction(uint256)", make([]byte, 32))
	code := append(append([]byte{}, eip1167Prefix...), append(make([]byte, 20), eip1167Suffix...)...)

	out := Tag(samplePending(input), code)
	if !out.HasTag(types.TagProxyCall) {
		t.Fatalf("expected ProxyCall tag for minimal-proxy bytecode, got %v", out.Tags)
	}
}

func TestTagUnrecognizedSelectorNoCodeIsUnknown(t *testing.T) {
	input := packSelector("someRandomFunction(uint256)", make([]byte, 32))
	before := UnknownCount()
	out := Tag(samplePending(input), nil)
	if !out.HasTag(types.TagUnknown) {
		t.Fatalf("expected Unknown tag, got %v", out.Tags)
	}
	if UnknownCount() != before+1 {
		t.Fatalf("expected UnknownCount to advance")
	}
}
