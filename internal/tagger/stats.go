package tagger

import "sync/atomic"

// counter is a monotonically increasing, concurrency-safe counter. There is
// no ecosystem library in play here worth pulling in for a single uint64 —
// sync/atomic is the idiomatic stdlib primitive for this and every example
// in the pack that needs one reaches for the same thing.
type counter struct {
	v uint64
}

func (c *counter) add(n uint64) { atomic.AddUint64(&c.v, n) }
func (c *counter) load() uint64 { return atomic.LoadUint64(&c.v) }
