// Package signaling carries negotiation envelopes between two peers through a
// WebSocket relay. It knows the envelope shape but nothing about what the
// envelopes mean.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// CloseType is the value of the "type" field on an explicit-close envelope.
const CloseType = "CLOSEWEBRTC"

// Kind identifies which of the three envelope shapes is present.
type Kind int

const (
	KindUnknown Kind = iota
	KindDescription
	KindCandidate
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindDescription:
		return "sdp"
	case KindCandidate:
		return "ice"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// ErrMalformed is returned by Decode for frames matching none of the
// envelope shapes.
var ErrMalformed = errors.New("malformed signaling envelope")

// Envelope is the JSON structure exchanged over the relay. Exactly one of
// SDP, ICE or Type == CloseType is set; SessionID is always set.
type Envelope struct {
	SessionID string                     `json:"sessionId"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	ICE       *webrtc.ICECandidateInit   `json:"ice,omitempty"`
	Type      string                     `json:"type,omitempty"`
}

// NewDescription builds a session description envelope.
func NewDescription(sessionID string, desc webrtc.SessionDescription) Envelope {
	return Envelope{SessionID: sessionID, SDP: &desc}
}

// NewCandidate builds a connectivity candidate envelope.
func NewCandidate(sessionID string, candidate webrtc.ICECandidateInit) Envelope {
	return Envelope{SessionID: sessionID, ICE: &candidate}
}

// NewClose builds an explicit-close envelope.
func NewClose(sessionID string) Envelope {
	return Envelope{SessionID: sessionID, Type: CloseType}
}

// Kind returns the envelope shape, or KindUnknown if zero or several
// shapes are present.
func (e Envelope) Kind() Kind {
	kind, n := KindUnknown, 0
	if e.SDP != nil {
		kind, n = KindDescription, n+1
	}
	if e.ICE != nil {
		kind, n = KindCandidate, n+1
	}
	if e.Type != "" {
		if e.Type != CloseType {
			return KindUnknown
		}
		kind, n = KindClose, n+1
	}
	if n != 1 {
		return KindUnknown
	}
	return kind
}

// Validate checks the envelope against the wire rules.
func (e Envelope) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: missing sessionId", ErrMalformed)
	}
	switch e.Kind() {
	case KindDescription:
		if e.SDP.Type != webrtc.SDPTypeOffer && e.SDP.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("%w: sdp type %q is neither offer nor answer", ErrMalformed, e.SDP.Type.String())
		}
	case KindCandidate, KindClose:
	default:
		return fmt.Errorf("%w: expected exactly one of sdp, ice or type=%s", ErrMalformed, CloseType)
	}
	return nil
}

// Encode validates and serializes an envelope to JSON text.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode deserializes and validates a JSON text frame. Unknown fields are
// ignored.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
