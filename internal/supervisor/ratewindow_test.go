package supervisor

import (
	"testing"
	"time"
)

func TestRateWindowTracksTrailingRate(t *testing.T) {
	rw := newRateWindow(2 * time.Second)
	base := time.Now()

	for i := 0; i < 10; i++ {
		rw.observe(base)
	}
	for i := 0; i < 4; i++ {
		rw.observe(base.Add(time.Second))
	}

	rate := rw.ratePerSecond(base.Add(time.Second))
	if rate != 7 {
		t.Fatalf("expected rate 7 (14 events / 2s), got %f", rate)
	}

	// Advance past the window: the first bucket should be evicted.
	rate = rw.ratePerSecond(base.Add(3 * time.Second))
	if rate != 2 {
		t.Fatalf("expected rate 2 after eviction, got %f", rate)
	}
}

func TestEventWindowFailureRate(t *testing.T) {
	ew := newEventWindow(time.Second)
	base := time.Now()

	ew.record(base, false)
	ew.record(base, false)
	ew.record(base, true)

	rate := ew.failureRate(base)
	if rate < 0.33 || rate > 0.34 {
		t.Fatalf("expected ~1/3 failure rate, got %f", rate)
	}

	rate = ew.failureRate(base.Add(2 * time.Second))
	if rate != 0 {
		t.Fatalf("expected zero failure rate once entries age out, got %f", rate)
	}
}
