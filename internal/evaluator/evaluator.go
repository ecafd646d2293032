package evaluator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// Config carries the evaluator's tunable knobs (spec §4.5, §6).
type Config struct {
	ScoreWeights           ScoreWeights
	SlippageBaselineSeed   float64 // percent, default 0.3
	BaselineDecayAlpha     float64 // default 0.05
	AssumedBackrunGasUnits uint64  // default 150000
	BucketDeadline         time.Duration
}

// Evaluator computes per-bucket opportunity metrics against a consistent
// snapshot (spec §4.5).
type Evaluator struct {
	cfg      Config
	baseline *Baseline
}

// New constructs an Evaluator with its own baseline tracker.
func New(cfg Config) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		baseline: NewBaseline(cfg.BaselineDecayAlpha, cfg.SlippageBaselineSeed),
	}
}

// tokenInOf returns the leading token of a tagged tx's path — the token
// it spends — defaulting to the zero address if the path is empty, as it
// is for Unknown and ProxyCall tags (Transfer and Approve carry the token
// contract as a one-element path).
func tokenInOf(tx *types.TaggedTx) common.Address {
	if len(tx.TokenPath) == 0 {
		return common.Address{}
	}
	return tx.TokenPath[0]
}

// Evaluate computes a GroupReady for a ripe bucket against snap, the
// snapshot for the bucket's single target pool (spec §4.5 "Tie-breaks"
// covers the multi-pool case at the Supervisor layer, which calls
// Evaluate once per pool and sums/maxes the results itself).
func (e *Evaluator) Evaluate(ctx context.Context, bucket *types.Bucket, snap *types.Snapshot, block types.BlockContext) *types.GroupReady {
	deadline := time.Now().Add(e.cfg.BucketDeadline)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	out := &types.GroupReady{
		GroupID: types.NewGroupID(bucket.GroupKey, block.Number),
		Tokens:  bucket.Tokens,
		Targets: bucket.Targets,
		Block:   block,
	}
	out.Flags.Contaminated = bucket.ContaminationFlag
	if bucket.ContaminationFlag {
		return out
	}
	if snap == nil {
		out.Flags.StateUnavailable = true
		return out
	}

	var victims []types.VictimMetrics
	var aggregateIn *uint256.Int = uint256.NewInt(0)
	var priorityFees []*uint256.Int
	var sumSlippage float64
	pairKey := snap.Pool.Hex()

	for _, member := range bucket.Members {
		select {
		case <-ctx.Done():
			out.Flags.DeadlineMissed = true
			out.Victims = nil
			out.OpportunityScore = 0
			return out
		default:
		}

		vm, ok := e.evaluateVictim(member, snap)
		if !ok {
			continue
		}
		victims = append(victims, vm)
		aggregateIn = new(uint256.Int).Add(aggregateIn, vm.AmountIn)
		priorityFees = append(priorityFees, zeroIfNil(member.PriorityFee))
		sumSlippage += vm.SlippageTolerated
		e.baseline.Observe(pairKey, vm.SlippageTolerated)
	}

	out.Victims = victims
	if len(victims) == 0 {
		return out
	}

	isV3 := snap.Kind == types.PoolV3
	reserveDeep := snap.Reserve0
	if snap.Reserve1 != nil && (reserveDeep == nil || snap.Reserve1.Cmp(reserveDeep) > 0) {
		reserveDeep = snap.Reserve1
	}
	depth := poolDepth(poolKindLike{isV3: isV3}, reserveDeep, snap.SqrtPriceX96, snap.Liquidity)
	s := toFloat(aggregateIn)
	sOverD := 0.0
	if depth > 0 {
		sOverD = s / depth
	}

	priceBefore, priceAfter, convexityHigh := priceBeforeAfter(snap, aggregateIn)
	k := kappa(priceBefore, priceAfter, sOverD)

	avgSlippage := sumSlippage / float64(len(victims))
	baseline := e.baseline.Value(pairKey)

	gasFloor := gasCostFloor(e.cfg.AssumedBackrunGasUnits, medianPriorityFee(priorityFees))
	profit := expectedProfitBackrun(snap, aggregateIn, gasFloor)
	viable := profit.Sign() > 0

	out.ExpectedProfitBackrun = profit
	out.OpportunityScore = opportunityScore(e.cfg.ScoreWeights, sOverD, avgSlippage, baseline, k, viable)
	out.Flags.ConvexityHigh = convexityHigh
	out.BelowThreshold = !viable
	return out
}

func (e *Evaluator) evaluateVictim(tx *types.TaggedTx, snap *types.Snapshot) (types.VictimMetrics, bool) {
	tokenIn := tokenInOf(tx)
	side := types.SideUnknown
	switch {
	case tokenIn == snap.Token0:
		side = types.SideSell
	case tokenIn == snap.Token1:
		side = types.SideBuy
	}

	expectedOut, _, ok := priceForKind(snap, tokenIn, zeroIfNil(tx.AmountIn))
	if !ok || expectedOut.IsZero() || side == types.SideUnknown {
		return types.VictimMetrics{
			TxHash:     tx.Hash,
			DropReason: dropReason(ok, expectedOut, side),
		}, false
	}

	slip := slippageTolerated(expectedOut, zeroIfNil(tx.AmountOutMin))
	return types.VictimMetrics{
		TxHash:            tx.Hash,
		Side:              side,
		AmountIn:          zeroIfNil(tx.AmountIn),
		ExpectedAmountOut: expectedOut,
		AmountOutMin:      zeroIfNil(tx.AmountOutMin),
		SlippageTolerated: slip,
	}, true
}

func dropReason(priced bool, expectedOut *uint256.Int, side types.Side) string {
	if !priced || expectedOut == nil || expectedOut.IsZero() {
		return "empty_pool"
	}
	if side == types.SideUnknown {
		return "side_undetermined"
	}
	return "unknown"
}

// slippageTolerated implements spec §4.5: (expected-min)/expected as a
// percent, clamped to [0,100].
func slippageTolerated(expectedOut, amountOutMin *uint256.Int) float64 {
	if expectedOut.IsZero() {
		return 0
	}
	e := toFloat(expectedOut)
	m := toFloat(amountOutMin)
	pct := (e - m) / e * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// priceBeforeAfter returns the pool's price (token1 per token0, or the
// V3 sqrt-price-derived equivalent) before and after the aggregate
// victim swap lands, by re-running the pricing formula against the
// pre-state reserves/liquidity (spec §4.5 "convexity kappa").
func priceBeforeAfter(snap *types.Snapshot, aggregateIn *uint256.Int) (before, after float64, convexityHigh bool) {
	switch snap.Kind {
	case types.PoolV2:
		if snap.Reserve0.IsZero() || snap.Reserve1.IsZero() {
			return 0, 0, false
		}
		before = toFloat(snap.Reserve1) / toFloat(snap.Reserve0)
		out := v2Output(snap.Reserve0, snap.Reserve1, snap.FeeBps, aggregateIn)
		newRes0 := new(uint256.Int).Add(snap.Reserve0, aggregateIn)
		newRes1 := new(uint256.Int).Sub(snap.Reserve1, out)
		if newRes0.IsZero() {
			return before, before, false
		}
		after = toFloat(newRes1) / toFloat(newRes0)
		return before, after, false
	case types.PoolV3:
		_, crosses := v3Output(snap.SqrtPriceX96, snap.Liquidity, aggregateIn)
		before = toFloat(snap.SqrtPriceX96)
		q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
		dSqrt, _ := new(uint256.Int).MulDivOverflow(aggregateIn, q96, snap.Liquidity)
		after = toFloat(new(uint256.Int).Add(snap.SqrtPriceX96, dSqrt))
		return before, after, crosses
	default:
		return 0, 0, false
	}
}

// expectedProfitBackrun prices a reverse swap of the aggregate output
// back through the post-swap pool state: the round-trip gap between what
// the victims paid in and what a back-runner could recover by trading
// back immediately after, net of gasFloor, clamped to zero (spec §3
// invariant "expected_profit_backrun >= 0").
func expectedProfitBackrun(snap *types.Snapshot, aggregateIn *uint256.Int, gasFloor *uint256.Int) *uint256.Int {
	var reclaimed *uint256.Int
	switch snap.Kind {
	case types.PoolV2:
		out := v2Output(snap.Reserve0, snap.Reserve1, snap.FeeBps, aggregateIn)
		newRes0 := new(uint256.Int).Add(snap.Reserve0, aggregateIn)
		newRes1 := new(uint256.Int).Sub(snap.Reserve1, out)
		reclaimed = v2Output(newRes1, newRes0, snap.FeeBps, out)
	case types.PoolV3:
		out, _ := v3Output(snap.SqrtPriceX96, snap.Liquidity, aggregateIn)
		q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
		dSqrt, _ := new(uint256.Int).MulDivOverflow(aggregateIn, q96, snap.Liquidity)
		newSqrt := new(uint256.Int).Add(snap.SqrtPriceX96, dSqrt)
		reclaimed, _ = v3Output(newSqrt, snap.Liquidity, out)
	default:
		return uint256.NewInt(0)
	}

	if reclaimed.Cmp(aggregateIn) <= 0 {
		return uint256.NewInt(0)
	}
	raw := new(uint256.Int).Sub(reclaimed, aggregateIn)
	if raw.Cmp(gasFloor) <= 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(raw, gasFloor)
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
