// Package supervisor runs the adaptive top-level controller that pulls
// PendingTx records off the mempool stream, drives tagging and
// aggregation, fetches snapshots, invokes the evaluator on ripe buckets
// and emits GroupReady events (spec §4.6).
package supervisor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/angu-team/ethernity-detector-mev/internal/aggregator"
	"github.com/angu-team/ethernity-detector-mev/internal/evaluator"
	"github.com/angu-team/ethernity-detector-mev/internal/snapshotstore"
	"github.com/angu-team/ethernity-detector-mev/internal/stateprovider"
	"github.com/angu-team/ethernity-detector-mev/internal/tagger"
	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// Config holds the FSM's tunable thresholds (spec §4.6, §6).
type Config struct {
	BlockTime        time.Duration
	BurstThreshold   float64 // tx/s, default 500
	SettleWindow     time.Duration
	RecoveryWindow   time.Duration
	BucketSoftCap    int
	RPCFailureWindow time.Duration
	RPCFailureRate   float64 // default 0.25
	EmitCapacity     int     // default 1024
}

// DefaultConfig returns the spec-documented defaults.
func DefaultConfig(blockTime time.Duration) Config {
	return Config{
		BlockTime:        blockTime,
		BurstThreshold:   500,
		SettleWindow:     5 * time.Second,
		RecoveryWindow:   15 * time.Second,
		BucketSoftCap:    4096,
		RPCFailureWindow: 10 * time.Second,
		RPCFailureRate:   0.25,
		EmitCapacity:     1024,
	}
}

// Supervisor is the top-level coordinator (spec §4.6).
type Supervisor struct {
	cfg Config

	agg   *aggregator.Aggregator
	store *snapshotstore.Store
	chain *stateprovider.Provider
	eval  *evaluator.Evaluator
	log   *logrus.Entry

	mu           sync.RWMutex
	state        State
	currentBlock types.BlockContext

	ingress        *rateWindow
	rpcFailures    *eventWindow
	belowBurstFrom time.Time
	recoverySince  time.Time
	contamination  *aggregator.ContaminationDetector

	// sem bounds the number of handleNewTx goroutines in flight to the
	// current state's EvaluatorConcurrency; resized on every FSM
	// transition so Burst/Recovery widen or narrow the fan-out without a
	// restart (spec §4.6 state-effects table).
	semMu sync.RWMutex
	sem   *semaphore.Weighted

	out chan *types.GroupReady

	// coalesce maps a GroupID (group_key + block_number) to its index in
	// outBacking, the record of GroupReady values sent on out during the
	// current block (spec §5 "Backpressure"). A later emission with the
	// same GroupID overwrites that record and is not sent on out; the
	// value already sent on out is not replaced.
	coalesceMu sync.Mutex
	coalesce   map[string]int
	outBacking []*types.GroupReady
}

// New constructs a Supervisor wiring the four core components together.
func New(cfg Config, agg *aggregator.Aggregator, store *snapshotstore.Store, chain *stateprovider.Provider, eval *evaluator.Evaluator, log *logrus.Entry) *Supervisor {
	if cfg.EmitCapacity <= 0 {
		cfg.EmitCapacity = 1024
	}
	initial := EffectsFor(Normal, cfg.BlockTime, runtime.NumCPU())
	s := &Supervisor{
		cfg:           cfg,
		agg:           agg,
		store:         store,
		chain:         chain,
		eval:          eval,
		log:           log,
		state:         Normal,
		ingress:       newRateWindow(time.Second),
		rpcFailures:   newEventWindow(cfg.RPCFailureWindow),
		contamination: aggregator.NewContaminationDetector(initial.BucketTTL),
		sem:           semaphore.NewWeighted(int64(initial.EvaluatorConcurrency)),
		out:           make(chan *types.GroupReady, cfg.EmitCapacity),
		coalesce:      make(map[string]int),
	}
	s.agg.SetTTL(initial.BucketTTL)
	s.chain.SetRetryCap(initial.RPCRetryCap)
	return s
}

// resizeSemaphore swaps in a fresh semaphore sized to n. In-flight holders
// of the old semaphore still release it normally; only new acquires see
// the updated capacity.
func (s *Supervisor) resizeSemaphore(n int) {
	if n < 1 {
		n = 1
	}
	s.semMu.Lock()
	s.sem = semaphore.NewWeighted(int64(n))
	s.semMu.Unlock()
}

func (s *Supervisor) semaphoreFor() *semaphore.Weighted {
	s.semMu.RLock()
	defer s.semMu.RUnlock()
	return s.sem
}

// State returns the Supervisor's current FSM state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Effects returns the tuning table for the current state.
func (s *Supervisor) Effects() Effects {
	return EffectsFor(s.State(), s.cfg.BlockTime, runtime.NumCPU())
}

// Output returns the bounded GroupReady emission channel.
func (s *Supervisor) Output() <-chan *types.GroupReady {
	return s.out
}

// Run drives the event loop until ctx is canceled (spec §4.6 "Event
// loop"). newTx and blockAdvanced are the external mempool and block-head
// sources; tick fires the periodic bucket-eviction pass.
func (s *Supervisor) Run(ctx context.Context, newTx <-chan types.PendingTx, blockAdvanced <-chan types.BlockContext) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-newTx:
			if !ok {
				newTx = nil
				continue
			}
			s.ingress.observe(time.Now())
			s.evaluateTransitions(time.Now())
			effects := s.Effects()
			sem := s.semaphoreFor()
			if err := sem.Acquire(ctx, 1); err != nil {
				continue
			}
			wg.Add(1)
			go func(tx types.PendingTx) {
				defer wg.Done()
				defer sem.Release(1)
				s.handleNewTx(ctx, tx, effects)
			}(tx)
		case block, ok := <-blockAdvanced:
			if !ok {
				blockAdvanced = nil
				continue
			}
			s.handleBlockAdvanced(ctx, block)
		case <-ticker.C:
			s.handleTick(ctx)
		}
	}
}

func (s *Supervisor) handleNewTx(ctx context.Context, tx types.PendingTx, effects Effects) {
	code, err := s.chain.Code(ctx, tx.To, 0)
	if err != nil {
		code = nil
	}
	tagged := tagger.Tag(tx, code)
	if effects.DropUnknownEarly && tagged.HasTag(types.TagUnknown) {
		return
	}
	res := s.agg.Ingest(tagged, time.Now())
	if repeat, reason := s.contamination.Observe(tx.From, res.GroupKey, time.Now()); repeat {
		s.agg.MarkContaminated(res.GroupKey, reason)
	}
	if res.Promoted {
		if bucket, ok := s.agg.Pop(res.GroupKey); ok {
			s.evaluateBucket(ctx, bucket)
		}
	}
}

func (s *Supervisor) handleBlockAdvanced(ctx context.Context, block types.BlockContext) {
	// A reorg is detected by comparing the new block's parent_hash
	// against whatever hash was previously recorded for its parent's
	// block_number (spec §4.3). Invalidation only fires on a genuine
	// mismatch; recording every block's hash without invalidating keeps
	// the store's multi-block retention window intact on the common,
	// no-reorg path.
	if block.Number > 0 {
		if prevHash, known, err := s.store.CanonicalHash(block.Number - 1); err != nil {
			s.rpcFailures.record(time.Now(), true)
			s.log.WithError(err).Warn("canonical hash lookup failed")
		} else if known && prevHash != block.ParentHash {
			s.log.WithField("block", block.Number).Warn("reorg detected, invalidating from parent")
			s.store.InvalidateFrom(block.Number - 1)
			s.chain.InvalidateFrom(block.Number - 1)
		}
	}

	if err := s.store.RecordBlock(block.Number, block.Hash, time.Now()); err != nil {
		s.rpcFailures.record(time.Now(), true)
		s.log.WithError(err).Warn("record block failed")
	}
	s.mu.Lock()
	s.currentBlock = block
	s.mu.Unlock()

	// GroupIDs are anchored to a block number; once the chain advances,
	// entries from prior blocks can never be coalesced against again.
	s.coalesceMu.Lock()
	s.coalesce = make(map[string]int)
	s.outBacking = nil
	s.coalesceMu.Unlock()

	s.evaluateTransitions(time.Now())
}

func (s *Supervisor) blockContext() types.BlockContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentBlock
}

func (s *Supervisor) handleTick(ctx context.Context) {
	now := time.Now()
	outcomes := s.agg.Tick(now)
	for _, oc := range outcomes {
		if oc.Bucket != nil && !oc.Expired {
			s.evaluateBucket(ctx, oc.Bucket)
		}
	}
	s.contamination.Sweep(now)
	s.evaluateTransitions(now)
}

// snapshotFor fetches a fresh or cached snapshot for pool at blockNumber,
// preferring the durable store and falling back to a live RPC read.
func (s *Supervisor) snapshotFor(ctx context.Context, pool common.Address, blockNumber uint64) (*types.Snapshot, bool) {
	if snap, ok, err := s.store.Get(pool, blockNumber); err == nil && ok {
		return snap, true
	} else if err != nil {
		s.rpcFailures.record(time.Now(), true)
	}

	kind, err := s.chain.PoolKind(ctx, pool)
	if err != nil {
		s.rpcFailures.record(time.Now(), true)
		return nil, false
	}

	snap := &types.Snapshot{Pool: pool, BlockNumber: blockNumber, Kind: kind}
	switch kind {
	case types.PoolV2:
		r0, r1, fee, err := s.chain.Reserves(ctx, pool, blockNumber, 30)
		if err != nil {
			s.rpcFailures.record(time.Now(), true)
			return nil, false
		}
		snap.Reserve0, snap.Reserve1, snap.FeeBps = r0, r1, fee
	case types.PoolV3:
		sqrtP, tick, liq, err := s.chain.SlotZeroAndLiquidity(ctx, pool, blockNumber)
		if err != nil {
			s.rpcFailures.record(time.Now(), true)
			return nil, false
		}
		snap.SqrtPriceX96, snap.Tick, snap.Liquidity = sqrtP, tick, liq
	default:
		return nil, false
	}

	s.rpcFailures.record(time.Now(), false)
	if s.Effects().SnapshotWritesEnabled {
		if err := s.store.Put(snap); err != nil {
			s.log.WithError(err).Debug("snapshot write skipped")
		}
	}
	return snap, true
}

// evaluateBucket prices every target pool a ripe bucket touches
// independently and emits the result: expected_profit_backrun sums across
// pools on the same token path, opportunity_score is the max over pools
// (spec §4.5 "tie-break").
func (s *Supervisor) evaluateBucket(ctx context.Context, bucket *types.Bucket) {
	var best *types.GroupReady
	totalProfit := uint256.NewInt(0)
	block := s.blockContext()

	for _, pool := range bucket.Targets {
		snap, ok := s.snapshotFor(ctx, pool, block.Number)
		if !ok {
			continue
		}
		gr := s.eval.Evaluate(ctx, bucket, snap, block)
		if gr.ExpectedProfitBackrun != nil {
			totalProfit = new(uint256.Int).Add(totalProfit, gr.ExpectedProfitBackrun)
		}
		if best == nil || gr.OpportunityScore > best.OpportunityScore {
			best = gr
		}
	}
	if best == nil {
		return
	}
	best.ExpectedProfitBackrun = totalProfit
	s.emit(best)
}

func (s *Supervisor) emit(gr *types.GroupReady) {
	s.coalesceMu.Lock()
	key := gr.GroupID
	if idx, exists := s.coalesce[key]; exists {
		s.outBacking[idx] = gr
		s.coalesceMu.Unlock()
		return
	}
	s.coalesceMu.Unlock()

	select {
	case s.out <- gr:
		s.coalesceMu.Lock()
		s.coalesce[key] = len(s.outBacking)
		s.outBacking = append(s.outBacking, gr)
		s.coalesceMu.Unlock()
	default:
		// Output channel full: switch to Burst behaviour and drop this
		// emission rather than block the event loop (spec §5 "Backpressure").
		s.forceBurst()
	}
}

func (s *Supervisor) forceBurst() {
	s.mu.Lock()
	changed := false
	if s.state == Normal {
		s.state = Burst
		s.belowBurstFrom = time.Time{}
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.applyEffects(Burst)
	}
}

// applyEffects retunes every component the state-effects table governs
// (spec §4.6): evaluator concurrency, bucket TTL, and RPC retry cap.
// SnapshotWritesEnabled and DropUnknownEarly are read live off Effects()
// at the call site instead, since they gate single decisions rather than
// retuning a stateful component.
func (s *Supervisor) applyEffects(state State) {
	effects := EffectsFor(state, s.cfg.BlockTime, runtime.NumCPU())
	s.resizeSemaphore(effects.EvaluatorConcurrency)
	s.agg.SetTTL(effects.BucketTTL)
	s.chain.SetRetryCap(effects.RPCRetryCap)
}

// evaluateTransitions applies the FSM transition table (spec §4.6).
func (s *Supervisor) evaluateTransitions(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := s.ingress.ratePerSecond(now)
	buckets := s.agg.BucketCount()
	failureRate := s.rpcFailures.failureRate(now)

	before := s.state
	switch s.state {
	case Normal:
		if rate > s.cfg.BurstThreshold || buckets > s.cfg.BucketSoftCap {
			s.state = Burst
			s.belowBurstFrom = time.Time{}
		} else if failureRate > s.cfg.RPCFailureRate {
			s.state = Recovery
			s.recoverySince = time.Time{}
		}
	case Burst:
		if rate < 0.5*s.cfg.BurstThreshold {
			if s.belowBurstFrom.IsZero() {
				s.belowBurstFrom = now
			} else if now.Sub(s.belowBurstFrom) >= s.cfg.SettleWindow {
				s.state = Normal
			}
		} else {
			s.belowBurstFrom = time.Time{}
		}
	case Recovery:
		if failureRate > 0 {
			s.recoverySince = now
		} else if s.recoverySince.IsZero() {
			s.recoverySince = now
		} else if now.Sub(s.recoverySince) >= s.cfg.RecoveryWindow {
			s.state = Normal
		}
	}
	if s.state != before {
		s.applyEffects(s.state)
	}
}
