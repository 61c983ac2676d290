// Package session ties one identity, one relay connection and one
// negotiation engine together into an independent peer-to-peer session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/identity"
	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/negotiation"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

// ErrNotConnected is returned by operations that need the relay while no
// relay connection is open.
var ErrNotConnected = errors.New("session: relay not connected")

// Hooks extend the engine hooks with relay notifications.
type Hooks struct {
	negotiation.Hooks
	// OnRelayLost is called when the relay connection drops without Close or
	// Reconnect having been called. Nothing reconnects automatically.
	OnRelayLost func(err error)
}

// Config configures a Session.
type Config struct {
	RelayURL string
	// ICE is used by the default pion peer factory.
	ICE    webrtc.Configuration
	Bundle media.Bundle
	Sink   media.Sink
	// Timeout bounds a negotiation round; zero disables it.
	Timeout time.Duration
	Hooks   Hooks
	// NewPeer overrides the pion peer factory.
	NewPeer negotiation.PeerFactory
}

// Session is one peer-to-peer media session. Several sessions can run side by
// side; they share nothing.
type Session struct {
	id       identity.ID
	relayURL string
	hooks    Hooks
	engine   *negotiation.Engine
	log      util.Logger

	mu     sync.Mutex
	client *signaling.Client
}

// New creates a session with a fresh identity. Call Run to start processing
// and Connect to reach the relay.
func New(cfg Config) (*Session, error) {
	id := identity.New()

	factory := cfg.NewPeer
	if factory == nil {
		factory = negotiation.PionPeers(cfg.ICE)
	}

	engine, err := negotiation.New(negotiation.Config{
		ID:      id,
		Bundle:  cfg.Bundle,
		NewPeer: factory,
		Sink:    cfg.Sink,
		Timeout: cfg.Timeout,
		Hooks:   cfg.Hooks.Hooks,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		id:       id,
		relayURL: cfg.RelayURL,
		hooks:    cfg.Hooks,
		engine:   engine,
		log:      util.NewLogger("session").WithSession(id.String()),
	}, nil
}

// ID returns the session identity.
func (s *Session) ID() identity.ID { return s.id }

// State returns the negotiation state.
func (s *Session) State() negotiation.State { return s.engine.State() }

// Run drives the negotiation engine until ctx is cancelled, then closes the
// relay connection.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()
	return s.engine.Run(ctx)
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

// Connect opens the relay connection. It is a no-op if one is already open.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	return s.connectLocked(ctx)
}

// Reconnect drops the current relay connection, if any, and opens a new one.
// The negotiation state is left as it is.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
	return s.connectLocked(ctx)
}

// Connected reports whether a relay connection is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Close closes the relay connection. The negotiation engine keeps running
// until Run's context is cancelled.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
	return nil
}

func (s *Session) connectLocked(ctx context.Context) error {
	client, err := signaling.Connect(ctx, s.relayURL)
	if err != nil {
		return err
	}
	s.client = client
	s.engine.AttachRelay(client)
	client.OnMessage(s.engine.HandleEnvelope)
	go s.watch(client)

	s.log.Info("relay connected: %s", s.relayURL)
	return nil
}

// dropLocked detaches and closes the current client. The watcher sees it is
// no longer current and stays quiet.
func (s *Session) dropLocked() {
	if s.client == nil {
		return
	}
	client := s.client
	s.client = nil
	s.engine.AttachRelay(nil)
	client.Close()
}

// watch reports an unexpected loss of client.
func (s *Session) watch(client *signaling.Client) {
	<-client.Done()

	s.mu.Lock()
	current := s.client == client
	if current {
		s.client = nil
		s.engine.AttachRelay(nil)
	}
	s.mu.Unlock()
	if !current {
		return
	}

	err := client.Err()
	if err == nil {
		err = errors.New("relay closed the connection")
	}
	err = fmt.Errorf("%w: %w", ErrNotConnected, err)
	s.log.Warn("relay lost: %v", err)
	if s.hooks.OnRelayLost != nil {
		s.hooks.OnRelayLost(err)
	}
}

// ---------------------------------------------------------------------------
// Intents
// ---------------------------------------------------------------------------

// Start originates an offer. The relay must be connected.
func (s *Session) Start(ctx context.Context) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	return s.engine.Start(ctx)
}

// Stop closes the peer session and tells the other side. It works without a
// relay too; the close envelope is then lost and the error says so.
func (s *Session) Stop(ctx context.Context) error {
	return s.engine.Stop(ctx)
}

// ReplaceTrack swaps the local track of the given kind.
func (s *Session) ReplaceTrack(ctx context.Context, kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	return s.engine.ReplaceTrack(ctx, kind, track)
}
