package stateprovider

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheKey is (method, arguments, block_number) per spec §4.4. args is
// pre-flattened into a string by the caller (an address, or an
// address+block composite); this keeps the LRU generic over every method
// this provider serves instead of needing one LRU per method.
type cacheKey struct {
	method string
	args   string
	block  uint64
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.method, k.args, k.block)
}

// blockCache is a bounded LRU of (method,args,block) -> decoded result,
// with TTL effectively "one block" because block_number is part of the
// key; reorg invalidation is handled by evictFrom scanning live keys.
type blockCache struct {
	lru *lru.Cache[cacheKey, any]
}

func newBlockCache(size int) (*blockCache, error) {
	c, err := lru.New[cacheKey, any](size)
	if err != nil {
		return nil, err
	}
	return &blockCache{lru: c}, nil
}

func (c *blockCache) get(k cacheKey) (any, bool) {
	return c.lru.Get(k)
}

func (c *blockCache) put(k cacheKey, v any) {
	c.lru.Add(k, v)
}

// evictFrom removes every cached entry at or after blockNumber, per spec
// §4.4 "on reorg-invalidated blocks, matching entries are evicted."
func (c *blockCache) evictFrom(blockNumber uint64) int {
	removed := 0
	for _, k := range c.lru.Keys() {
		if k.block >= blockNumber {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}
