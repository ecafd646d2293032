package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

func defaultConfig() Config {
	return Config{
		ScoreWeights:           ScoreWeights{A: 1.0, B: 0.5, C: 0.3},
		SlippageBaselineSeed:   0.3,
		BaselineDecayAlpha:     0.05,
		AssumedBackrunGasUnits: 150_000,
		BucketDeadline:         200 * time.Millisecond,
	}
}

func u256(v uint64) *uint256.Int { return uint256.NewInt(v) }

func v2Snapshot(pool, token0, token1 common.Address, res0, res1 uint64) *types.Snapshot {
	return &types.Snapshot{
		Pool:     pool,
		Kind:     types.PoolV2,
		Token0:   token0,
		Token1:   token1,
		Reserve0: u256(res0),
		Reserve1: u256(res1),
		FeeBps:   30,
	}
}

func victimTx(hash common.Hash, groupKey string, tokenIn, tokenOut common.Address, amountIn, amountOutMin uint64) *types.TaggedTx {
	tx := &types.TaggedTx{GroupKey: groupKey}
	tx.Hash = hash
	tx.TokenPath = []common.Address{tokenIn, tokenOut}
	tx.AmountIn = u256(amountIn)
	tx.AmountOutMin = u256(amountOutMin)
	tx.PriorityFee = u256(2_000_000_000)
	return tx
}

func sampleBucket(members ...*types.TaggedTx) *types.Bucket {
	return &types.Bucket{
		GroupKey:  "g1",
		Tokens:    []common.Address{common.HexToAddress("0xa0"), common.HexToAddress("0xb0")},
		Targets:   []common.Address{common.HexToAddress("0xpool1")},
		Members:   members,
		CreatedAt: time.Now(),
		TTL:       time.Minute,
	}
}

func TestEvaluateSingleV2VictimProducesOpportunityScore(t *testing.T) {
	tokenA := common.HexToAddress("0xa0")
	tokenB := common.HexToAddress("0xb0")
	pool := common.HexToAddress("0xc0")
	snap := v2Snapshot(pool, tokenA, tokenB, 1_000_000_000, 1_000_000_000)

	tx := victimTx(common.HexToHash("0x1"), "g1", tokenA, tokenB, 10_000_000, 1)
	bucket := sampleBucket(tx)

	e := New(defaultConfig())
	out := e.Evaluate(context.Background(), bucket, snap, types.BlockContext{Number: 100})

	if len(out.Victims) != 1 {
		t.Fatalf("expected 1 victim, got %d", len(out.Victims))
	}
	if out.Victims[0].Side != types.SideSell {
		t.Fatalf("expected sell side (tokenIn == token0), got %v", out.Victims[0].Side)
	}
	if out.Flags.DeadlineMissed || out.Flags.Contaminated || out.Flags.StateUnavailable {
		t.Fatalf("unexpected flags: %+v", out.Flags)
	}
	if out.OpportunityScore <= 0 || out.OpportunityScore >= 1 {
		t.Fatalf("expected score in (0,1), got %f", out.OpportunityScore)
	}
}

// TestEvaluateSingleV2VictimMatchesCanonicalNumbers reproduces scenario S1
// verbatim: a single SwapV2 victim against reserves (1000e18, 2_000_000e6)
// at 30 bps must price to expected_amount_out = 1,993,993,993 exactly.
func TestEvaluateSingleV2VictimMatchesCanonicalNumbers(t *testing.T) {
	tokenA := common.HexToAddress("0xa0")
	tokenB := common.HexToAddress("0xb0")
	pool := common.HexToAddress("0xc0")

	snap := &types.Snapshot{
		Pool:     pool,
		Kind:     types.PoolV2,
		Token0:   tokenA,
		Token1:   tokenB,
		Reserve0: uint256.MustFromDecimal("1000000000000000000000"), // 1000e18
		Reserve1: uint256.MustFromDecimal("2000000000000"),          // 2_000_000e6
		FeeBps:   30,
	}

	tx := &types.TaggedTx{GroupKey: "g1"}
	tx.Hash = common.HexToHash("0x1")
	tx.TokenPath = []common.Address{tokenA, tokenB}
	tx.AmountIn = uint256.MustFromDecimal("1000000000000000000") // 1e18
	tx.AmountOutMin = uint256.MustFromDecimal("1900000000")       // 1900e6
	tx.PriorityFee = u256(2_000_000_000)

	bucket := sampleBucket(tx)

	e := New(defaultConfig())
	out := e.Evaluate(context.Background(), bucket, snap, types.BlockContext{Number: 100})

	if len(out.Victims) != 1 {
		t.Fatalf("expected 1 victim, got %d", len(out.Victims))
	}
	v := out.Victims[0]
	if v.ExpectedAmountOut.Dec() != "1993993993" {
		t.Fatalf("expected expected_amount_out=1993993993, got %s", v.ExpectedAmountOut.Dec())
	}
	if v.SlippageTolerated < 4.6 || v.SlippageTolerated > 4.8 {
		t.Fatalf("expected slippage_tolerated ~= 4.71%%, got %f", v.SlippageTolerated)
	}
	if out.OpportunityScore <= 0.4 {
		t.Fatalf("expected opportunity_score > 0.4, got %f", out.OpportunityScore)
	}
	if out.ExpectedProfitBackrun.IsZero() {
		t.Fatalf("expected expected_profit_backrun > 0")
	}
}

func TestEvaluateEmptyPoolDropsVictimWithReason(t *testing.T) {
	tokenA := common.HexToAddress("0xa0")
	tokenB := common.HexToAddress("0xb0")
	pool := common.HexToAddress("0xc0")
	snap := v2Snapshot(pool, tokenA, tokenB, 0, 0)

	tx := victimTx(common.HexToHash("0x1"), "g1", tokenA, tokenB, 10_000_000, 1)
	bucket := sampleBucket(tx)

	e := New(defaultConfig())
	out := e.Evaluate(context.Background(), bucket, snap, types.BlockContext{Number: 100})

	if len(out.Victims) != 0 {
		t.Fatalf("expected empty_pool drop, got %d victims", len(out.Victims))
	}
	if out.OpportunityScore != 0 {
		t.Fatalf("expected zero score for a bucket with no priced victims")
	}
}

func TestEvaluateContaminatedBucketSkipsPricing(t *testing.T) {
	bucket := sampleBucket()
	bucket.ContaminationFlag = true

	e := New(defaultConfig())
	out := e.Evaluate(context.Background(), bucket, nil, types.BlockContext{Number: 1})

	if !out.Flags.Contaminated {
		t.Fatalf("expected contaminated flag to propagate")
	}
	if out.Victims != nil {
		t.Fatalf("expected no victim computation for a contaminated bucket")
	}
}

func TestEvaluateNilSnapshotReportsStateUnavailable(t *testing.T) {
	bucket := sampleBucket(victimTx(common.HexToHash("0x1"), "g1", common.HexToAddress("0xa0"), common.HexToAddress("0xb0"), 1, 1))

	e := New(defaultConfig())
	out := e.Evaluate(context.Background(), bucket, nil, types.BlockContext{Number: 1})

	if !out.Flags.StateUnavailable {
		t.Fatalf("expected state_unavailable flag when snapshot is nil")
	}
}

func TestEvaluateDeadlineMissedZeroesScore(t *testing.T) {
	tokenA := common.HexToAddress("0xa0")
	tokenB := common.HexToAddress("0xb0")
	pool := common.HexToAddress("0xc0")
	snap := v2Snapshot(pool, tokenA, tokenB, 1_000_000_000, 1_000_000_000)

	members := make([]*types.TaggedTx, 0, 32)
	for i := 0; i < 32; i++ {
		members = append(members, victimTx(common.HexToHash("0x1"), "g1", tokenA, tokenB, 10_000_000, 1))
	}
	bucket := sampleBucket(members...)

	cfg := defaultConfig()
	cfg.BucketDeadline = 0
	e := New(cfg)
	out := e.Evaluate(context.Background(), bucket, snap, types.BlockContext{Number: 1})

	if !out.Flags.DeadlineMissed {
		t.Fatalf("expected deadline_missed with a zero-duration deadline")
	}
	if out.OpportunityScore != 0 {
		t.Fatalf("expected zero score on deadline miss, got %f", out.OpportunityScore)
	}
}

func TestSlippageToleratedClampsToHundred(t *testing.T) {
	got := slippageTolerated(u256(100), u256(0))
	if got != 100 {
		t.Fatalf("expected 100, got %f", got)
	}
}

func TestMedianPriorityFeeOddAndEven(t *testing.T) {
	odd := medianPriorityFee([]*uint256.Int{u256(1), u256(5), u256(3)})
	if odd.Uint64() != 3 {
		t.Fatalf("expected median 3, got %d", odd.Uint64())
	}
	even := medianPriorityFee([]*uint256.Int{u256(1), u256(2), u256(3), u256(4)})
	if even.Uint64() != 2 {
		t.Fatalf("expected median 2, got %d", even.Uint64())
	}
}
