package supervisor

import (
	"testing"
	"time"

	"github.com/angu-team/ethernity-detector-mev/internal/aggregator"
	"github.com/angu-team/ethernity-detector-mev/internal/stateprovider"
)

func TestTransitionNormalToBurstOnRate(t *testing.T) {
	cfg := DefaultConfig(12 * time.Second)
	s := &Supervisor{
		cfg:         cfg,
		agg:         newTestAggregator(),
		chain:       &stateprovider.Provider{},
		state:       Normal,
		ingress:     newRateWindow(time.Second),
		rpcFailures: newEventWindow(cfg.RPCFailureWindow),
		coalesce:    make(map[string]int),
	}

	now := time.Now()
	for i := 0; i < 600; i++ {
		s.ingress.observe(now)
	}
	s.evaluateTransitions(now)

	if s.State() != Burst {
		t.Fatalf("expected Burst after rate spike, got %v", s.State())
	}
}

func TestTransitionBurstToNormalAfterSettleWindow(t *testing.T) {
	cfg := DefaultConfig(12 * time.Second)
	cfg.SettleWindow = 100 * time.Millisecond
	s := &Supervisor{
		cfg:         cfg,
		agg:         newTestAggregator(),
		chain:       &stateprovider.Provider{},
		state:       Burst,
		ingress:     newRateWindow(time.Second),
		rpcFailures: newEventWindow(cfg.RPCFailureWindow),
		coalesce:    make(map[string]int),
	}

	now := time.Now()
	s.evaluateTransitions(now)
	if s.State() != Burst {
		t.Fatalf("expected to remain Burst before settle window elapses")
	}
	s.evaluateTransitions(now.Add(200 * time.Millisecond))
	if s.State() != Normal {
		t.Fatalf("expected Normal after settle window, got %v", s.State())
	}
}

func TestTransitionNormalToRecoveryOnFailureRate(t *testing.T) {
	cfg := DefaultConfig(12 * time.Second)
	s := &Supervisor{
		cfg:         cfg,
		agg:         newTestAggregator(),
		chain:       &stateprovider.Provider{},
		state:       Normal,
		ingress:     newRateWindow(time.Second),
		rpcFailures: newEventWindow(cfg.RPCFailureWindow),
		coalesce:    make(map[string]int),
	}

	now := time.Now()
	for i := 0; i < 10; i++ {
		s.rpcFailures.record(now, true)
	}
	s.evaluateTransitions(now)

	if s.State() != Recovery {
		t.Fatalf("expected Recovery after sustained RPC failures, got %v", s.State())
	}
}

func TestTransitionRecoveryToNormalAfterRecoveryWindow(t *testing.T) {
	cfg := DefaultConfig(12 * time.Second)
	cfg.RecoveryWindow = 100 * time.Millisecond
	s := &Supervisor{
		cfg:         cfg,
		agg:         newTestAggregator(),
		chain:       &stateprovider.Provider{},
		state:       Recovery,
		ingress:     newRateWindow(time.Second),
		rpcFailures: newEventWindow(cfg.RPCFailureWindow),
		coalesce:    make(map[string]int),
	}

	now := time.Now()
	s.evaluateTransitions(now)
	s.evaluateTransitions(now.Add(200 * time.Millisecond))

	if s.State() != Normal {
		t.Fatalf("expected Normal after recovery window with no failures, got %v", s.State())
	}
}

func newTestAggregator() *aggregator.Aggregator {
	return aggregator.New(aggregator.Thresholds{MinVictims: 2, TTL: time.Minute, MaxMembersPerBucket: 64})
}
