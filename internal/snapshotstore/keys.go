package snapshotstore

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes distinguish the two logical tables spec §4.3 describes
// inside a single embedded key/value store.
const (
	snapshotPrefix   = 's'
	blockIndexPrefix = 'b'
)

func snapshotKey(contract common.Address, blockNumber uint64) []byte {
	key := make([]byte, 1+20+8)
	key[0] = snapshotPrefix
	copy(key[1:21], contract.Bytes())
	binary.BigEndian.PutUint64(key[21:], blockNumber)
	return key
}

func blockIndexKey(blockNumber uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = blockIndexPrefix
	binary.BigEndian.PutUint64(key[1:], blockNumber)
	return key
}

func blockNumberFromSnapshotKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[21:])
}

func contractFromSnapshotKey(key []byte) common.Address {
	return common.BytesToAddress(key[1:21])
}
