package snapshotstore

import "sync/atomic"

// counterU64 is a monotonically increasing, concurrency-safe counter.
type counterU64 struct {
	v uint64
}

func (c *counterU64) add(n uint64) { atomic.AddUint64(&c.v, n) }
func (c *counterU64) load() uint64 { return atomic.LoadUint64(&c.v) }
