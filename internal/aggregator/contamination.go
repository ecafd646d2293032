package aggregator

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// sightingKey identifies a (sender, group_key) pair for the contamination
// window.
type sightingKey struct {
	sender   common.Address
	groupKey string
}

// ContaminationDetector implements the minimum-viable contract spec §9
// open question 2 settles on: a bucket is contaminated if a transaction
// sender repeats a matched pre/post swap signature on the same group
// within the TTL window. It does not inspect bytecode or simulate
// anything — only sender + group_key repetition, observed within window.
type ContaminationDetector struct {
	mu       sync.Mutex
	window   time.Duration
	sighting map[sightingKey]time.Time
}

// NewContaminationDetector builds a detector with the given repeat window
// (normally the Aggregator's configured bucket TTL).
func NewContaminationDetector(window time.Duration) *ContaminationDetector {
	return &ContaminationDetector{
		window:   window,
		sighting: make(map[sightingKey]time.Time),
	}
}

// Observe records a sender's appearance in a group and reports whether
// this appearance is a repeat within the window — the caller should mark
// the bucket contaminated when it is.
func (d *ContaminationDetector) Observe(sender common.Address, groupKey string, now time.Time) (repeat bool, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := sightingKey{sender: sender, groupKey: groupKey}
	last, seen := d.sighting[key]
	d.sighting[key] = now
	if seen && now.Sub(last) <= d.window {
		return true, "sender repeated matched pre/post swap within ttl window"
	}
	return false, ""
}

// detectSandwichTriple widens contamination detection beyond sender
// repetition: it flags the classic pre/victim/post pattern
// `DanDo385-eth-tx-lifecycle`'s DetectSandwiches finds by scanning a
// mined block's per-pool swap sequence for an attacker address that
// opens and closes a triple around a different victim. A Bucket is
// already scoped to one liquidity surface, so no per-pool grouping is
// needed here; the check runs over the bucket's own pending arrival
// order (the only ordering the detector can see pre-inclusion) instead
// of mined tx_index, and only ever needs to look at the three most
// recently ingested members since any earlier triple was already
// checked on its own last append.
func detectSandwichTriple(members []*types.TaggedTx) (reason string, hit bool) {
	n := len(members)
	if n < 3 {
		return "", false
	}
	pre, victim, post := members[n-3], members[n-2], members[n-1]
	if pre.From == post.From && pre.From != victim.From {
		return "sender opened and closed a pre/victim/post swap triple within the bucket's pending ordering", true
	}
	return "", false
}

// Sweep removes sighting entries older than the window, bounding the
// detector's memory to the live TTL horizon.
func (d *ContaminationDetector) Sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, t := range d.sighting {
		if now.Sub(t) > d.window {
			delete(d.sighting, k)
		}
	}
}
