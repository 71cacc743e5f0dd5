package engine

import "time"

// State is the lifecycle of one candidate patient during evaluation.
// Transitions only move forward; Excluded is terminal from any state
// after CodeMatched.
type State int

const (
	StateUnseen State = iota
	StateCodeMatched
	StateTemporallyQualified
	StateSupportConfirmed
	StateAccepted
	StateExcluded
)

func (s State) String() string {
	switch s {
	case StateCodeMatched:
		return "code_matched"
	case StateTemporallyQualified:
		return "temporally_qualified"
	case StateSupportConfirmed:
		return "support_confirmed"
	case StateAccepted:
		return "accepted"
	case StateExcluded:
		return "excluded"
	default:
		return "unseen"
	}
}

// candidate tracks one patient through the evaluation stages.
type candidate struct {
	memberID string
	dates    []time.Time // qualifying claim dates inside the window
	index    time.Time   // set at temporal qualification
	accepted []time.Time // spacing-accepted dates, first is onset
	state    State
}
