// Package aggregator maintains the concurrent group_key -> Bucket mapping
// that groups tagged transactions contending for the same liquidity
// surface into time-bounded buckets (spec §4.2).
package aggregator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// shardCount is the number of lock shards the group_key map is split
// across. Per-key operations serialize on one shard's mutex; shards with
// no contention stay lock-free in practice (spec §5).
const shardCount = 64

type shard struct {
	mu      sync.Mutex
	buckets map[string]*types.Bucket
}

// Thresholds are the emission/eviction knobs spec §4.2 names, sourced
// from config.
type Thresholds struct {
	MinVictims          int
	MinAge              time.Duration
	TTL                 time.Duration
	MaxMembersPerBucket int
}

// Aggregator is the sharded concurrent map described in spec §4.2/§5.
// Its shards are the only globally shared mutable structure in the
// pipeline.
type Aggregator struct {
	shards     [shardCount]*shard
	thresholds Thresholds

	// bucketTTL is the live TTL new buckets are stamped with, retuned on
	// every Supervisor FSM transition (spec §4.6 state-effects table:
	// Normal 1.5x block_time, Burst 0.75x, Recovery 3x). Stored separately
	// from thresholds.TTL, which remains the static config-sourced
	// fallback used only to seed it.
	bucketTTL atomic.Int64

	contaminatedGroups counterU64
}

// New constructs an Aggregator with the given thresholds.
func New(th Thresholds) *Aggregator {
	a := &Aggregator{thresholds: th}
	a.bucketTTL.Store(int64(th.TTL))
	for i := range a.shards {
		a.shards[i] = &shard{buckets: make(map[string]*types.Bucket)}
	}
	return a
}

// SetTTL retunes the TTL stamped onto buckets created from this point on.
// Existing buckets keep whatever TTL they were created with (spec §4.2
// buckets are immutable once ripe/expired is computed against their own
// CreatedAt+TTL); only new buckets pick up the new value.
func (a *Aggregator) SetTTL(ttl time.Duration) {
	a.bucketTTL.Store(int64(ttl))
}

func (a *Aggregator) shardFor(groupKey string) *shard {
	var h uint32
	for i := 0; i < len(groupKey); i++ {
		h = h*31 + uint32(groupKey[i])
	}
	return a.shards[h%shardCount]
}

// IngestResult reports what Ingest did with a tagged transaction.
type IngestResult struct {
	GroupKey       string
	Promoted       bool
	BucketCreated  bool
	MemberOverflow bool
}

// Ingest appends tx to the bucket at its group key, creating the bucket if
// absent. It reports whether the bucket is now ripe for snapshot/emission
// (spec §4.2 "ingest").
func (a *Aggregator) Ingest(tx *types.TaggedTx, now time.Time) IngestResult {
	if tx.GroupKey == "" {
		tx.GroupKey = types.GroupKeyFor(tx.TokenPath, tx.Targets)
	}
	sh := a.shardFor(tx.GroupKey)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, created := sh.buckets[tx.GroupKey]
	if !created {
		b = &types.Bucket{
			GroupKey:  tx.GroupKey,
			Tokens:    append([]common.Address(nil), tx.TokenPath...),
			Targets:   targetsSlice(tx.Targets),
			CreatedAt: now,
			TTL:       time.Duration(a.bucketTTL.Load()),
		}
		sh.buckets[tx.GroupKey] = b
	}

	overflow := len(b.Members) >= a.thresholds.MaxMembersPerBucket
	if overflow {
		b.Overflow = append(b.Overflow, tx)
	} else {
		b.Members = append(b.Members, tx)
	}

	if !b.ContaminationFlag && !overflow {
		if reason, hit := detectSandwichTriple(b.Members); hit {
			b.ContaminationFlag = true
			b.ContaminationNote = reason
			a.contaminatedGroups.add(1)
		}
	}

	promoted := !b.ContaminationFlag && b.Ripe(now, a.thresholds.MinVictims, a.thresholds.MinAge)

	return IngestResult{
		GroupKey:       tx.GroupKey,
		Promoted:       promoted,
		BucketCreated:  !created,
		MemberOverflow: overflow,
	}
}

// MarkContaminated flags a bucket as containing evidence of an attacker
// already present, per spec §4.2/§8 S3. Contaminated buckets are never
// emitted by Tick.
func (a *Aggregator) MarkContaminated(groupKey, reason string) {
	sh := a.shardFor(groupKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if b, ok := sh.buckets[groupKey]; ok {
		b.ContaminationFlag = true
		b.ContaminationNote = reason
		a.contaminatedGroups.add(1)
	}
}

// ContaminatedGroups returns the running count of buckets marked
// contaminated since process start.
func (a *Aggregator) ContaminatedGroups() uint64 { return a.contaminatedGroups.load() }

// TickOutcome is what Tick found for a single bucket.
type TickOutcome struct {
	Bucket  *types.Bucket
	Expired bool
}

// Tick walks an epoch-based snapshot of shard keys (spec §4.2 "tick"),
// evicting buckets past their TTL without emission and returning every
// ripe, non-contaminated bucket plus every expired one for bookkeeping.
// It never holds a global lock: each shard is locked only long enough to
// copy out its bucket pointers.
func (a *Aggregator) Tick(now time.Time) []TickOutcome {
	var out []TickOutcome
	for _, sh := range a.shards {
		sh.mu.Lock()
		for key, b := range sh.buckets {
			switch {
			case b.Expired(now):
				delete(sh.buckets, key)
				out = append(out, TickOutcome{Bucket: b, Expired: true})
			case !b.ContaminationFlag && b.Ripe(now, a.thresholds.MinVictims, a.thresholds.MinAge):
				delete(sh.buckets, key)
				out = append(out, TickOutcome{Bucket: b})
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// Pop removes and returns the bucket at groupKey, if present. The
// Supervisor calls this once Ingest reports a bucket promoted to ripe, so
// the bucket is evaluated exactly once and no longer accumulates members
// concurrently with evaluation.
func (a *Aggregator) Pop(groupKey string) (*types.Bucket, bool) {
	sh := a.shardFor(groupKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	b, ok := sh.buckets[groupKey]
	if ok {
		delete(sh.buckets, groupKey)
	}
	return b, ok
}

// BucketCount returns the total number of live buckets across all shards,
// used by the Supervisor's Normal->Burst transition (spec §4.6).
func (a *Aggregator) BucketCount() int {
	n := 0
	for _, sh := range a.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n
}

func targetsSlice(targets map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(targets))
	for t := range targets {
		out = append(out, t)
	}
	return out
}
