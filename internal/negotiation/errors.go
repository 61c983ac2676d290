package negotiation

import "errors"

var (
	// ErrOperationAborted is returned to callers whose request was dropped or
	// cancelled because the session closed.
	ErrOperationAborted = errors.New("operation aborted by session close")
	// ErrNegotiationTimeout is reported when an offer or answer round does not
	// complete within the configured timeout.
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	// ErrInvalidState is returned by Start when a negotiation is already
	// running or established.
	ErrInvalidState = errors.New("operation not valid in current state")
)
