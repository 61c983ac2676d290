package negotiation

import "fmt"

// State is a Negotiation Engine state.
//
//	Idle → Offering → AnswerPending → Connected → Closed
//
// Closed is left only by starting a fresh offer (local Start) or by answering
// a fresh inbound offer.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswerPending
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswerPending:
		return "answer-pending"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// negotiating reports whether s waits on the remote side to finish a round.
func (s State) negotiating() bool {
	return s == StateOffering || s == StateAnswerPending
}
