// Package types holds the data model shared across the detector pipeline:
// pending/tagged transactions, pool snapshots, buckets and the events the
// supervisor emits once a bucket is ripe.
package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Tag is a closed variant describing what a transaction appears to do.
// Dispatch on Tag is always a switch, never dynamic subclassing.
type Tag uint8

const (
	TagUnknown Tag = iota
	TagSwapV2
	TagSwapV3
	TagMulticall
	TagProxyCall
	TagTransfer
	TagApprove
)

func (t Tag) String() string {
	switch t {
	case TagSwapV2:
		return "SwapV2"
	case TagSwapV3:
		return "SwapV3"
	case TagMulticall:
		return "Multicall"
	case TagProxyCall:
		return "ProxyCall"
	case TagTransfer:
		return "Transfer"
	case TagApprove:
		return "Approve"
	default:
		return "Unknown"
	}
}

// PendingTx is a single mempool transaction as observed by the external
// mempool collaborator (see spec §6). It is immutable once created.
type PendingTx struct {
	Hash        common.Hash
	From        common.Address
	To          common.Address
	Input       []byte
	Value       *uint256.Int
	Gas         uint64
	GasPrice    *uint256.Int
	PriorityFee *uint256.Int
	ObservedAt  time.Time
}

// TaggedTx embeds PendingTx with the NatureTagger's classification output.
type TaggedTx struct {
	PendingTx

	Tags      map[Tag]struct{}
	TokenPath []common.Address
	Targets   map[common.Address]struct{}
	GroupKey  string

	// AmountIn/AmountOutMin are decoded from calldata when the tag is a
	// swap; for Transfer/Approve, AmountIn holds the transferred or approved
	// amount; zero-value otherwise. ImpactEvaluator re-derives ExpectedOut.
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
}

// HasTag reports whether t carries the given tag.
func (t *TaggedTx) HasTag(tag Tag) bool {
	_, ok := t.Tags[tag]
	return ok
}

// GroupKeyFor computes the total function of (sorted token path, sorted
// targets) mandated by spec invariant I-1. Two transactions with identical
// inputs always collide; any difference collides only within the bounds of
// SHA-256 (cryptographic hash collision bounds, per the testable property).
func GroupKeyFor(tokenPath []common.Address, targets map[common.Address]struct{}) string {
	toks := make([]string, 0, len(tokenPath))
	seen := make(map[string]struct{}, len(tokenPath))
	for _, tok := range tokenPath {
		s := normalizeAddr(tok)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		toks = append(toks, s)
	}
	sort.Strings(toks)

	tgts := make([]string, 0, len(targets))
	for a := range targets {
		tgts = append(tgts, normalizeAddr(a))
	}
	sort.Strings(tgts)

	h := sha256.New()
	for _, s := range toks {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	h.Write([]byte{0xff})
	for _, s := range tgts {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeAddr(a common.Address) string {
	return hex.EncodeToString(a.Bytes())
}

// Bucket groups TaggedTx records that contend for the same liquidity
// surface. A TaggedTx belongs to at most one Bucket at any moment
// (invariant I-1); membership is enforced by the Aggregator, not here.
type Bucket struct {
	GroupKey          string
	Tokens            []common.Address
	Targets           []common.Address
	Members           []*TaggedTx
	Overflow          []*TaggedTx
	CreatedAt         time.Time
	TTL               time.Duration
	ContaminationFlag bool
	ContaminationNote string
}

// Ripe reports whether the bucket satisfies the emission thresholds.
func (b *Bucket) Ripe(now time.Time, minVictims int, minAge time.Duration) bool {
	return len(b.Members) >= minVictims || now.Sub(b.CreatedAt) >= minAge
}

// Expired reports whether the bucket's TTL has elapsed relative to now.
func (b *Bucket) Expired(now time.Time) bool {
	return now.After(b.CreatedAt.Add(b.TTL))
}

// PoolKind is a closed variant over the two pricing models the evaluator
// understands.
type PoolKind uint8

const (
	PoolUnknown PoolKind = iota
	PoolV2
	PoolV3
)

// Snapshot is an immutable record of a pool's pricing-relevant state at a
// specific (block_number, block_hash).
type Snapshot struct {
	Pool        common.Address
	BlockNumber uint64
	BlockHash   common.Hash
	Kind        PoolKind

	// V2 fields.
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
	Token0   common.Address
	Token1   common.Address
	FeeBps   uint16

	// V3 fields.
	SqrtPriceX96 *uint256.Int
	Tick         int32
	Liquidity    *uint256.Int
}

// Side is the inferred direction of a victim's swap.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	if s == SideSell {
		return "sell"
	}
	return "unknown"
}

// VictimMetrics is the ImpactEvaluator's per-victim computation result.
type VictimMetrics struct {
	TxHash            common.Hash
	Side              Side
	AmountIn          *uint256.Int
	ExpectedAmountOut *uint256.Int
	AmountOutMin      *uint256.Int
	SlippageTolerated float64 // percent, clamped to [0, 100]
	DropReason        string  // non-empty iff the victim was dropped
}

// GroupReadyFlags carries the non-error outcome flags spec §6/§7 require.
type GroupReadyFlags struct {
	DeadlineMissed   bool
	Contaminated     bool
	ConvexityHigh    bool
	StateUnavailable bool
}

// BlockContext identifies the canonical block a GroupReady was priced
// against. ParentHash and Timestamp round out the (block_number,
// block_hash, parent_hash, timestamp) tuple the mempool/block-head
// collaborator is required to carry (spec §6); ParentHash is what the
// Supervisor compares against the previously recorded hash to detect a
// reorg (spec §4.3).
type BlockContext struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// GroupReady is the externally emitted opportunity group (spec §6).
type GroupReady struct {
	GroupID               string
	Tokens                []common.Address
	Targets               []common.Address
	Block                 BlockContext
	Victims               []VictimMetrics
	OpportunityScore      float64
	ExpectedProfitBackrun *uint256.Int
	Flags                 GroupReadyFlags
	BelowThreshold        bool
}

// blockRef packs a block number into a stable hex-ish group_id suffix.
func blockRef(n uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return hex.EncodeToString(buf[:])
}

// NewGroupID builds the "<hash>_<block>" identifier spec §6 requires.
func NewGroupID(groupKey string, block uint64) string {
	return groupKey + "_" + blockRef(block)
}
