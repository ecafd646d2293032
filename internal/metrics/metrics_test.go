package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	l, err := New(Sources{
		ActiveBuckets: func() int { return 3 },
	}, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, path
}

func TestMetricsSnapshotReadsWiredSources(t *testing.T) {
	l, _ := newTestLogger(t)
	defer l.Close()

	snap := l.MetricsSnapshot()
	if snap.ActiveBuckets != 3 {
		t.Fatalf("expected active_buckets 3, got %d", snap.ActiveBuckets)
	}
	if snap.Timestamp == 0 {
		t.Fatalf("expected non-zero timestamp")
	}
}

func TestRecordMetricsWritesJSONLog(t *testing.T) {
	l, path := newTestLogger(t)
	defer l.Close()

	l.RecordMetrics()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log output, got empty file")
	}
}

func TestRunCollectorStopsOnContextCancel(t *testing.T) {
	l, _ := newTestLogger(t)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunCollector(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunCollector did not stop after context cancel")
	}
}

func TestLogEventIncrementsErrorCounterAboveErrorLevel(t *testing.T) {
	l, _ := newTestLogger(t)
	defer l.Close()

	l.LogEvent(logrus.WarnLevel, "warn event", nil)
	l.LogEvent(logrus.ErrorLevel, "error event", nil)

	mfs, err := l.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var got float64
	for _, mf := range mfs {
		if mf.GetName() == "ethernity_mev_log_errors_total" {
			got = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if got != 1 {
		t.Fatalf("expected error counter 1 after one warn and one error event, got %v", got)
	}
}
