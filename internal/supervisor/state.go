package supervisor

import "time"

// State is the Supervisor's adaptive FSM state.
type State uint8

const (
	Normal State = iota
	Burst
	Recovery
)

func (s State) String() string {
	switch s {
	case Burst:
		return "burst"
	case Recovery:
		return "recovery"
	default:
		return "normal"
	}
}

// Effects is the state-dependent tuning table the Supervisor applies on
// every transition.
type Effects struct {
	BucketTTL             time.Duration
	EvaluatorConcurrency  int
	SnapshotWritesEnabled bool
	RPCRetryCap           int
	DropUnknownEarly      bool
}

// EffectsFor returns the tuning table for a state given the chain's
// observed block time and the number of CPU cores available to the
// process.
func EffectsFor(s State, blockTime time.Duration, cores int) Effects {
	if cores < 1 {
		cores = 1
	}
	switch s {
	case Burst:
		return Effects{
			BucketTTL:             time.Duration(float64(blockTime) * 0.75),
			EvaluatorConcurrency:  4 * cores,
			SnapshotWritesEnabled: true,
			RPCRetryCap:           2,
			DropUnknownEarly:      true,
		}
	case Recovery:
		return Effects{
			BucketTTL:             3 * blockTime,
			EvaluatorConcurrency:  cores,
			SnapshotWritesEnabled: false,
			RPCRetryCap:           5,
			DropUnknownEarly:      false,
		}
	default:
		return Effects{
			BucketTTL:             time.Duration(float64(blockTime) * 1.5),
			EvaluatorConcurrency:  2 * cores,
			SnapshotWritesEnabled: true,
			RPCRetryCap:           3,
			DropUnknownEarly:      false,
		}
	}
}
