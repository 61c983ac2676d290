package peer

import "errors"

var (
	// ErrCapabilityUnavailable is returned by New when the platform cannot
	// provide a peer connection.
	ErrCapabilityUnavailable = errors.New("peer connection capability unavailable")
	// ErrNoSuchTrack means a replacement was requested for a track kind that
	// is not attached. Tracks are only ever replaced, never added.
	ErrNoSuchTrack = errors.New("no local track of that kind is attached")
	// ErrRenegotiationRequired means the new track cannot be swapped in place;
	// the session has to be recreated.
	ErrRenegotiationRequired = errors.New("in-place track replacement unsupported, renegotiation required")
	// ErrNegotiation means creating or applying a session description failed.
	ErrNegotiation = errors.New("negotiation failed")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("peer session is closed")
)
