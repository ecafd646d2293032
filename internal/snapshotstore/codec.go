package snapshotstore

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// schemaVersion is the first byte of every persisted snapshot payload
// (spec §6 "Persisted state"). Bumping it is a breaking change; readers
// must reject any other value rather than guess a layout.
const schemaVersion byte = 0x01

var errBadSchema = errors.New("snapshotstore: unsupported schema version")
var errShortPayload = errors.New("snapshotstore: payload too short")

// encodeSnapshot serializes a Snapshot's pricing-relevant fields (the
// block_hash that guards it is stored alongside, not inside, this blob —
// see store.go's row layout) into a fixed-layout wire format: schema
// byte, pool kind, token0, token1, fee, then the kind-specific fields.
// The payload carries no length prefix; its length follows from the kind.
func encodeSnapshot(s *types.Snapshot) []byte {
	buf := make([]byte, 0, 1+1+20+20+2+32*3+4)
	buf = append(buf, schemaVersion)
	buf = append(buf, byte(s.Kind))
	buf = append(buf, s.Token0.Bytes()...)
	buf = append(buf, s.Token1.Bytes()...)

	var feeBytes [2]byte
	binary.BigEndian.PutUint16(feeBytes[:], s.FeeBps)
	buf = append(buf, feeBytes[:]...)

	switch s.Kind {
	case types.PoolV2:
		buf = append(buf, u256Bytes(s.Reserve0)...)
		buf = append(buf, u256Bytes(s.Reserve1)...)
	case types.PoolV3:
		buf = append(buf, u256Bytes(s.SqrtPriceX96)...)
		var tickBytes [4]byte
		binary.BigEndian.PutUint32(tickBytes[:], uint32(s.Tick))
		buf = append(buf, tickBytes[:]...)
		buf = append(buf, u256Bytes(s.Liquidity)...)
	}
	return buf
}

// decodeSnapshot parses the payload written by encodeSnapshot. pool,
// blockNumber and blockHash come from the row key/prefix, not the payload.
func decodeSnapshot(pool common.Address, blockNumber uint64, blockHash common.Hash, payload []byte) (*types.Snapshot, error) {
	if len(payload) < 1+1+20+20+2 {
		return nil, errShortPayload
	}
	if payload[0] != schemaVersion {
		return nil, errBadSchema
	}
	kind := types.PoolKind(payload[1])
	off := 2

	var token0, token1 common.Address
	copy(token0[:], payload[off:off+20])
	off += 20
	copy(token1[:], payload[off:off+20])
	off += 20

	feeBps := binary.BigEndian.Uint16(payload[off : off+2])
	off += 2

	out := &types.Snapshot{
		Pool:        pool,
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		Kind:        kind,
		Token0:      token0,
		Token1:      token1,
		FeeBps:      feeBps,
	}

	switch kind {
	case types.PoolV2:
		if len(payload) < off+64 {
			return nil, errShortPayload
		}
		out.Reserve0 = uint256FromBytes(payload[off : off+32])
		off += 32
		out.Reserve1 = uint256FromBytes(payload[off : off+32])
	case types.PoolV3:
		if len(payload) < off+68 {
			return nil, errShortPayload
		}
		out.SqrtPriceX96 = uint256FromBytes(payload[off : off+32])
		off += 32
		out.Tick = int32(binary.BigEndian.Uint32(payload[off : off+4]))
		off += 4
		out.Liquidity = uint256FromBytes(payload[off : off+32])
	}
	return out, nil
}

func u256Bytes(v *uint256.Int) []byte {
	if v == nil {
		v = uint256.NewInt(0)
	}
	b := v.Bytes32()
	return b[:]
}

func uint256FromBytes(b []byte) *uint256.Int {
	var v uint256.Int
	v.SetBytes(b)
	return &v
}

// encodeBlockIndexEntry packs the canonical hash + observation time for a
// block_index row (spec §4.3 storage layout).
func encodeBlockIndexEntry(canonicalHash common.Hash, seenAtUnixNano int64) []byte {
	buf := make([]byte, 32+8)
	copy(buf[:32], canonicalHash.Bytes())
	binary.BigEndian.PutUint64(buf[32:], uint64(seenAtUnixNano))
	return buf
}

func decodeBlockIndexEntry(payload []byte) (common.Hash, int64, error) {
	if len(payload) < 40 {
		return common.Hash{}, 0, errShortPayload
	}
	var h common.Hash
	copy(h[:], payload[:32])
	seenAt := int64(binary.BigEndian.Uint64(payload[32:40]))
	return h, seenAt, nil
}
