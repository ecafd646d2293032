// Package snapshotstore persists pool snapshots durably, keyed by
// (contract, block_number), with reorg resilience via block_hash
// verification and bounded growth via compaction (spec §4.3).
package snapshotstore

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

// ErrStale is returned by Put when the snapshot's block_hash does not
// match the currently known canonical hash for that block.
var ErrStale = errStale{}

type errStale struct{}

func (errStale) Error() string { return "snapshotstore: stale block_hash, write rejected" }

// verifiedKey identifies a (contract, block) pair re-verified after an
// invalidation epoch.
type verifiedKey struct {
	contract common.Address
	block    uint64
}

type writeJob struct {
	kind     string // "put", "blockindex", "compact"
	key      []byte
	value    []byte
	retain   uint64
	currentN uint64
	done     chan error
}

// Store is the durable snapshot repository. Reads (Get) hit the
// goroutine-safe goleveldb handle directly; writes are serialized through
// a single background writer fed by a bounded channel (spec §5 "Shared
// resources").
type Store struct {
	db *leveldb.DB
	log *logrus.Entry

	writeCh chan writeJob
	done    chan struct{}
	wg      sync.WaitGroup

	invalidFloor uint64 // atomic: blocks >= this require re-verification
	epoch        uint64 // atomic: bumped on every InvalidateFrom call

	verifiedMu sync.Mutex
	verified   map[verifiedKey]uint64 // epoch at which this pair was last confirmed fresh

	storageErrors counterU64
}

// Open creates or reopens a Store backed by an on-disk goleveldb database
// at path.
func Open(path string, log *logrus.Entry) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{
		db:       db,
		log:      log,
		writeCh:  make(chan writeJob, 256),
		done:     make(chan struct{}),
		verified: make(map[verifiedKey]uint64),
	}
	s.wg.Add(1)
	go s.writerLoop()
	return s, nil
}

// Close stops the background writer and releases the database handle.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) writerLoop() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.writeCh:
			job.done <- s.applyWrite(job)
		case <-s.done:
			// Drain any queued jobs so callers blocked on done<- don't leak.
			for {
				select {
				case job := <-s.writeCh:
					job.done <- s.applyWrite(job)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) applyWrite(job writeJob) error {
	switch job.kind {
	case "put", "blockindex":
		if err := s.db.Put(job.key, job.value, nil); err != nil {
			s.storageErrors.add(1)
			return err
		}
		return nil
	case "compact":
		return s.runCompaction(job.currentN, job.retain)
	}
	return nil
}

func (s *Store) submit(job writeJob) error {
	job.done = make(chan error, 1)
	select {
	case s.writeCh <- job:
	case <-s.done:
		return errStoreClosed
	}
	return <-job.done
}

var errStoreClosed = errors.New("snapshotstore: store is closed")

// RecordBlock records the canonical (hash, seen_at) for a newly observed
// block, populating the block_index table Put() consults (spec §4.3).
func (s *Store) RecordBlock(blockNumber uint64, canonicalHash common.Hash, seenAt time.Time) error {
	return s.submit(writeJob{
		kind:  "blockindex",
		key:   blockIndexKey(blockNumber),
		value: encodeBlockIndexEntry(canonicalHash, seenAt.UnixNano()),
	})
}

// CanonicalHash reads the known canonical hash for a block from the
// block_index table. ok is false if no block has been recorded yet. The
// Supervisor uses this to compare a newly observed block's parent_hash
// against what was previously recorded for the parent's block_number,
// the reorg-detection check spec §4.3 defines.
func (s *Store) CanonicalHash(blockNumber uint64) (hash common.Hash, ok bool, err error) {
	return s.canonicalHashFor(blockNumber)
}

// canonicalHashFor reads the known canonical hash for a block from the
// block_index table. ok is false if no block has been recorded yet.
func (s *Store) canonicalHashFor(blockNumber uint64) (hash common.Hash, ok bool, err error) {
	raw, err := s.db.Get(blockIndexKey(blockNumber), nil)
	if err == leveldb.ErrNotFound {
		return common.Hash{}, false, nil
	}
	if err != nil {
		s.storageErrors.add(1)
		return common.Hash{}, false, err
	}
	h, _, derr := decodeBlockIndexEntry(raw)
	if derr != nil {
		return common.Hash{}, false, derr
	}
	return h, true, nil
}

// Put writes a snapshot only if its block_hash matches the currently
// known canonical hash for that block (spec §4.3 "put"). If no canonical
// hash is on record yet, the write proceeds optimistically — the block
// stream is expected to record it shortly via RecordBlock.
func (s *Store) Put(snap *types.Snapshot) error {
	canonical, known, err := s.canonicalHashFor(snap.BlockNumber)
	if err != nil {
		return err
	}
	if known && canonical != snap.BlockHash {
		return ErrStale
	}

	row := append(snap.BlockHash.Bytes(), encodeSnapshot(snap)...)
	if err := s.submit(writeJob{kind: "put", key: snapshotKey(snap.Pool, snap.BlockNumber), value: row}); err != nil {
		return err
	}

	key := verifiedKey{contract: snap.Pool, block: snap.BlockNumber}
	s.verifiedMu.Lock()
	s.verified[key] = atomic.LoadUint64(&s.epoch)
	s.verifiedMu.Unlock()
	return nil
}

// Get reads a snapshot. It returns (nil, false, nil) on a clean miss, and
// (nil, false, nil) when the entry falls inside an invalidated,
// not-yet-re-verified range (spec §4.3 "get ... Miss"; §8 property 7).
func (s *Store) Get(contract common.Address, blockNumber uint64) (*types.Snapshot, bool, error) {
	floor := atomic.LoadUint64(&s.invalidFloor)
	curEpoch := atomic.LoadUint64(&s.epoch)
	if curEpoch > 0 && blockNumber >= floor {
		key := verifiedKey{contract: contract, block: blockNumber}
		s.verifiedMu.Lock()
		verifiedEpoch, ok := s.verified[key]
		s.verifiedMu.Unlock()
		if !ok || verifiedEpoch < curEpoch {
			return nil, false, nil
		}
	}

	raw, err := s.db.Get(snapshotKey(contract, blockNumber), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		s.storageErrors.add(1)
		return nil, false, err
	}
	if len(raw) < 32 {
		return nil, false, errShortPayload
	}
	blockHash := common.BytesToHash(raw[:32])
	snap, derr := decodeSnapshot(contract, blockNumber, blockHash, raw[32:])
	if derr != nil {
		return nil, false, derr
	}
	return snap, true, nil
}

// InvalidateFrom marks every snapshot at or after blockNumber as requiring
// re-verification (spec §4.3 "invalidate_from"), triggered by the
// Supervisor on an observed reorg. It is O(1): no rows are touched; the
// re-verification requirement is enforced lazily by Get.
func (s *Store) InvalidateFrom(blockNumber uint64) {
	for {
		cur := atomic.LoadUint64(&s.invalidFloor)
		if cur != 0 && cur <= blockNumber {
			break
		}
		if atomic.CompareAndSwapUint64(&s.invalidFloor, cur, blockNumber) {
			break
		}
	}
	atomic.AddUint64(&s.epoch, 1)
	s.log.WithField("from_block", blockNumber).Warn("snapshot store invalidated from block")
}

// Compact removes snapshots older than current_block - retain_blocks
// (spec §4.3 "compact"). The deletion runs on the background writer and
// Compact waits for it to finish; concurrent Gets are not blocked by it.
func (s *Store) Compact(currentBlock, retainBlocks uint64) error {
	return s.submit(writeJob{kind: "compact", currentN: currentBlock, retain: retainBlocks})
}

func (s *Store) runCompaction(currentBlock, retainBlocks uint64) error {
	if currentBlock <= retainBlocks {
		return nil
	}
	horizon := currentBlock - retainBlocks

	iter := s.db.NewIterator(util.BytesPrefix([]byte{snapshotPrefix}), nil)
	defer iter.Release()

	batchKeys := make([][]byte, 0, 64)
	for iter.Next() {
		key := iter.Key()
		if len(key) != 1+20+8 {
			continue
		}
		if blockNumberFromSnapshotKey(key) < horizon {
			k := make([]byte, len(key))
			copy(k, key)
			batchKeys = append(batchKeys, k)
		}
	}
	if err := iter.Error(); err != nil {
		s.storageErrors.add(1)
		return err
	}

	for _, k := range batchKeys {
		if err := s.db.Delete(k, nil); err != nil {
			s.storageErrors.add(1)
			return err
		}
	}
	s.log.WithField("removed", len(batchKeys)).WithField("horizon", horizon).Debug("snapshot compaction complete")
	return nil
}

// StorageErrors returns the running count of I/O errors recovered since
// process start (spec §7 "Storage").
func (s *Store) StorageErrors() uint64 { return s.storageErrors.load() }
