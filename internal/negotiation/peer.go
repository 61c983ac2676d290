package negotiation

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/signaling"
)

// Peer is the part of a peer session the engine drives. *peer.Session
// implements it.
type Peer interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	ApplyRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error
	AddRemoteCandidate(c webrtc.ICECandidateInit) error
	ReplaceLocalTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	State() peer.State
	Close() error
}

var _ Peer = (*peer.Session)(nil)

// PeerFactory creates a peer session for the bundle, wired to h.
type PeerFactory func(bundle media.Bundle, h peer.Handler) (Peer, error)

// PionPeers returns a PeerFactory backed by pion with the given ICE
// configuration.
func PionPeers(cfg webrtc.Configuration) PeerFactory {
	return func(bundle media.Bundle, h peer.Handler) (Peer, error) {
		s, err := peer.New(cfg, bundle, h)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Relay is where outbound envelopes go. *signaling.Client implements it.
type Relay interface {
	Send(ctx context.Context, env signaling.Envelope) error
}

var _ Relay = (*signaling.Client)(nil)
