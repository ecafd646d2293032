package snapshotstore

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/angu-team/ethernity-detector-mev/internal/testutil"
	"github.com/angu-team/ethernity-detector-mev/internal/types"
)

func openTestStore(t *testing.T) (*Store, *testutil.Sandbox) {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	st, err := Open(sb.Path("db"), nil)
	if err != nil {
		sb.Cleanup()
		t.Fatalf("open: %v", err)
	}
	return st, sb
}

func sampleSnapshot(pool common.Address, block uint64, hash common.Hash) *types.Snapshot {
	return &types.Snapshot{
		Pool:        pool,
		BlockNumber: block,
		BlockHash:   hash,
		Kind:        types.PoolV2,
		Reserve0:    uint256.NewInt(1000),
		Reserve1:    uint256.NewInt(2000),
		Token0:      common.HexToAddress("0x1111"),
		Token1:      common.HexToAddress("0x2222"),
		FeeBps:      30,
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	st, sb := openTestStore(t)
	defer sb.Cleanup()
	defer st.Close()

	pool := common.HexToAddress("0xaaaa")
	hash := common.HexToHash("0xbeef")
	if err := st.RecordBlock(100, hash, time.Now()); err != nil {
		t.Fatalf("record block: %v", err)
	}
	snap := sampleSnapshot(pool, 100, hash)
	if err := st.Put(snap); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := st.Get(pool, 100)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Reserve0.Uint64() != 1000 || got.Reserve1.Uint64() != 2000 {
		t.Fatalf("unexpected reserves: %s %s", got.Reserve0, got.Reserve1)
	}
	if got.BlockHash != hash {
		t.Fatalf("unexpected block hash: %s", got.BlockHash)
	}
}

func TestPutRejectsStaleHash(t *testing.T) {
	st, sb := openTestStore(t)
	defer sb.Cleanup()
	defer st.Close()

	pool := common.HexToAddress("0xaaaa")
	canonical := common.HexToHash("0xbeef")
	st.RecordBlock(100, canonical, time.Now())

	stale := sampleSnapshot(pool, 100, common.HexToHash("0xdead"))
	if err := st.Put(stale); err != ErrStale {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestGetMissesUnknownEntry(t *testing.T) {
	st, sb := openTestStore(t)
	defer sb.Cleanup()
	defer st.Close()

	_, ok, err := st.Get(common.HexToAddress("0xaaaa"), 5)
	if err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestInvalidateFromForcesMissUntilReVerified(t *testing.T) {
	st, sb := openTestStore(t)
	defer sb.Cleanup()
	defer st.Close()

	pool := common.HexToAddress("0xaaaa")
	hash := common.HexToHash("0xbeef")
	st.RecordBlock(100, hash, time.Now())
	st.Put(sampleSnapshot(pool, 100, hash))

	st.InvalidateFrom(100)

	_, ok, err := st.Get(pool, 100)
	if err != nil || ok {
		t.Fatalf("expected miss right after invalidation, got ok=%v err=%v", ok, err)
	}

	newHash := common.HexToHash("0xfeed")
	st.RecordBlock(100, newHash, time.Now())
	if err := st.Put(sampleSnapshot(pool, 100, newHash)); err != nil {
		t.Fatalf("re-put after invalidation: %v", err)
	}

	got, ok, err := st.Get(pool, 100)
	if err != nil || !ok {
		t.Fatalf("expected hit after re-verification, ok=%v err=%v", ok, err)
	}
	if got.BlockHash != newHash {
		t.Fatalf("expected fresh hash, got %s", got.BlockHash)
	}
}

func TestCompactRemovesOldSnapshots(t *testing.T) {
	st, sb := openTestStore(t)
	defer sb.Cleanup()
	defer st.Close()

	pool := common.HexToAddress("0xaaaa")
	oldHash := common.HexToHash("0x01")
	newHash := common.HexToHash("0x02")
	st.RecordBlock(10, oldHash, time.Now())
	st.RecordBlock(1000, newHash, time.Now())
	st.Put(sampleSnapshot(pool, 10, oldHash))
	st.Put(sampleSnapshot(pool, 1000, newHash))

	if err := st.Compact(1000, 64); err != nil {
		t.Fatalf("compact: %v", err)
	}

	if _, ok, _ := st.Get(pool, 10); ok {
		t.Fatalf("expected old snapshot to be compacted away")
	}
	if _, ok, _ := st.Get(pool, 1000); !ok {
		t.Fatalf("expected recent snapshot to survive compaction")
	}
}
