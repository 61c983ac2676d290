// Package peer owns the lifecycle of a single pion PeerConnection and the
// local tracks attached to it.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/util"
)

// State is the lifecycle state of a peer session.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler receives one-way notifications from a session. Callbacks run on
// pion's goroutines and must not block. Nil fields are skipped.
type Handler struct {
	// OnICECandidate is called for each locally gathered candidate.
	OnICECandidate func(webrtc.ICECandidateInit)
	// OnRemoteStream is called once, when the first remote track arrives.
	OnRemoteStream func(*media.RemoteStream)
	// OnTransportState is called with StateConnected when the transport
	// comes up and StateClosed when it fails or closes.
	OnTransportState func(State)
}

// Session wraps one PeerConnection. Its operations are meant to be driven
// from a single goroutine; only pion callbacks run concurrently with them.
type Session struct {
	pc      *webrtc.PeerConnection
	handler Handler
	log     util.Logger

	mu      sync.Mutex
	state   State
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
	early   candidateBuffer // remote candidates waiting for a remote description
	remote  *media.RemoteStream
}

// New creates a PeerConnection with the given ICE configuration, attaches the
// bundle's tracks and registers the handler callbacks.
func New(cfg webrtc.Configuration, bundle media.Bundle, h Handler) (*Session, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}

	s := &Session{
		pc:      pc,
		handler: h,
		log:     util.NewLogger("peer"),
		state:   StateNew,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}

	for _, track := range bundle.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("%w: add %s track: %v", ErrCapabilityUnavailable, track.Kind(), err)
		}
		s.senders[track.Kind()] = sender
		go drainRTCP(sender)
	}

	pc.OnICECandidate(s.onICECandidate)
	pc.OnTrack(s.onTrack)
	pc.OnConnectionStateChange(s.onConnectionStateChange)

	return s, nil
}

// newPeerConnection builds a PeerConnection with pion's default codecs and
// interceptors and with pion logs routed into ours.
func newPeerConnection(cfg webrtc.Configuration) (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return api.NewPeerConnection(cfg)
}

// drainRTCP reads incoming RTCP for a sender so interceptors keep working.
// It returns once the sender is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// pion callbacks
// ---------------------------------------------------------------------------

func (s *Session) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil || s.handler.OnICECandidate == nil {
		return
	}
	s.handler.OnICECandidate(c.ToJSON())
}

func (s *Session) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	first := s.remote == nil
	if first {
		s.remote = media.NewRemoteStream(track.StreamID())
	}
	stream := s.remote
	s.mu.Unlock()

	if !stream.AddTrack(track) {
		s.log.Warn("remote %s track %s not announced: stream backlog full", track.Kind(), track.ID())
	}
	if first && s.handler.OnRemoteStream != nil {
		s.handler.OnRemoteStream(stream)
	}
}

func (s *Session) onConnectionStateChange(state webrtc.PeerConnectionState) {
	s.log.Debug("PeerConnection state: %s", state.String())

	var report State
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.state = StateConnected
		s.mu.Unlock()
		report = StateConnected
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		report = StateClosed
	default:
		return
	}

	if s.handler.OnTransportState != nil {
		s.handler.OnTransportState(report)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears down the PeerConnection and releases the remote stream.
// Closing an already-closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.early.reset()
	remote := s.remote
	s.mu.Unlock()

	if remote != nil {
		remote.Close()
	}
	return s.pc.Close()
}

// markNegotiating moves a new session to Negotiating. It reports ErrClosed
// for a closed session.
func (s *Session) markNegotiating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateNew:
		s.state = StateNegotiating
	}
	return nil
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer produces an offer, sets it as the local description and
// returns it for transmission.
func (s *Session) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return s.createLocal(ctx, webrtc.SDPTypeOffer)
}

// CreateAnswer produces an answer to the applied remote offer, sets it as the
// local description and returns it for transmission.
func (s *Session) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return s.createLocal(ctx, webrtc.SDPTypeAnswer)
}

func (s *Session) createLocal(ctx context.Context, typ webrtc.SDPType) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.markNegotiating(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	var (
		desc webrtc.SessionDescription
		err  error
	)
	if typ == webrtc.SDPTypeOffer {
		desc, err = s.pc.CreateOffer(nil)
	} else {
		desc, err = s.pc.CreateAnswer(nil)
	}
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create %s: %v", ErrNegotiation, typ, err)
	}

	if err := s.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local %s: %v", ErrNegotiation, typ, err)
	}
	return desc, nil
}

// ApplyRemoteDescription applies an inbound offer or answer, then flushes any
// candidates that arrived before it, in arrival order.
func (s *Session) ApplyRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.markNegotiating(); err != nil {
		return err
	}

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", ErrNegotiation, desc.Type, err)
	}

	s.mu.Lock()
	pending := s.early.release()
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Warn("buffered candidate rejected: %v", err)
		}
	}
	if len(pending) > 0 {
		s.log.Debug("flushed %d buffered candidate(s)", len(pending))
	}
	return nil
}

// AddRemoteCandidate applies a remote candidate, or buffers it when no remote
// description has been applied yet.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.early.add(c) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// BufferedCandidates returns how many remote candidates are waiting for a
// remote description.
func (s *Session) BufferedCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.early.len()
}

// ---------------------------------------------------------------------------
// Tracks
// ---------------------------------------------------------------------------

// ReplaceLocalTrack swaps the attached track of the given kind in place.
func (s *Session) ReplaceLocalTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	sender, ok := s.senders[kind]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTrack, kind)
	}
	if track != nil && track.Kind() != kind {
		return fmt.Errorf("cannot replace %s track with a %s track", kind, track.Kind())
	}

	if err := sender.ReplaceTrack(track); err != nil {
		if errors.Is(err, webrtc.ErrUnsupportedCodec) {
			return fmt.Errorf("%w: %v", ErrRenegotiationRequired, err)
		}
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	return nil
}
