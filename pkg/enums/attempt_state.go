package enums

import "slices"

// AttemptState is the per-attempt checkout state machine:
// received -> priced -> submitted -> {settled | declined | failed}.
type AttemptState string

const (
	AttemptStateReceived  AttemptState = "received"
	AttemptStatePriced    AttemptState = "priced"
	AttemptStateSubmitted AttemptState = "submitted"
	AttemptStateSettled   AttemptState = "settled"
	AttemptStatePending   AttemptState = "pending"
	AttemptStateDeclined  AttemptState = "declined"
	AttemptStateFailed    AttemptState = "failed"
)

var attemptTransitions = map[AttemptState][]AttemptState{
	AttemptStateReceived:  {AttemptStatePriced, AttemptStateFailed},
	AttemptStatePriced:    {AttemptStateSubmitted, AttemptStateFailed},
	AttemptStateSubmitted: {AttemptStateSettled, AttemptStatePending, AttemptStateDeclined, AttemptStateFailed},
}

// String implements fmt.Stringer.
func (s AttemptState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed.
func (s AttemptState) IsTerminal() bool {
	_, ok := attemptTransitions[s]
	return !ok
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s AttemptState) CanTransitionTo(next AttemptState) bool {
	return slices.Contains(attemptTransitions[s], next)
}
