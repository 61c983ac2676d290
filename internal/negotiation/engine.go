// Package negotiation implements the signaling state machine that drives one
// peer session: it decides when to offer and when to answer, routes
// candidates, and recovers from teardown.
//
// Every trigger (relay envelopes, local intents, peer callbacks, timeouts)
// is an event in one FIFO mailbox drained by a single goroutine, Run. No two
// transitions ever race, and a trigger that arrives while an offer, answer or
// relay write is outstanding waits for it to resolve.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/identity"
	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

// Hooks receive notifications from the engine goroutine. They must not call
// back into the engine synchronously. Nil fields are skipped.
type Hooks struct {
	// OnStateChange is called after every transition.
	OnStateChange func(from, to State)
	// OnClosed is called when the session reaches Closed. remote is true when
	// the other side or the transport ended it.
	OnClosed func(remote bool)
	// OnError is called for failures that are not returned to a caller, such
	// as a failed answer to an inbound offer.
	OnError func(err error)
}

// Config configures an Engine.
type Config struct {
	// ID tags every outbound envelope. Inbound envelopes carrying it are
	// ignored.
	ID identity.ID
	// Bundle is the local media attached to every peer session created.
	Bundle media.Bundle
	// NewPeer creates peer sessions. Required.
	NewPeer PeerFactory
	// Sink receives the remote stream of each peer session. Optional.
	Sink media.Sink
	// Timeout bounds an offer or answer round; zero disables it.
	Timeout time.Duration
	Hooks   Hooks
}

// Engine is the Negotiation Engine for one session.
type Engine struct {
	id      identity.ID
	newPeer PeerFactory
	sink    media.Sink
	hooks   Hooks
	timeout time.Duration
	kinds   map[webrtc.RTPCodecType]bool
	log     util.Logger

	mu       sync.Mutex
	queue    deque.Deque[event]
	wake     chan struct{}
	relay    Relay
	state    State
	running  bool
	stopped  bool
	cancelOp context.CancelFunc
	inFlight eventKind

	// Owned by the Run goroutine.
	bundle  media.Bundle
	peer    Peer
	gen     uint64
	remote  *media.RemoteStream
	pending map[webrtc.RTPCodecType]webrtc.TrackLocal
	round   uint64
	timer   *time.Timer
}

// New returns an Idle engine. Nothing happens until Run is called.
func New(cfg Config) (*Engine, error) {
	if cfg.NewPeer == nil {
		return nil, errors.New("negotiation: a peer factory is required")
	}
	if err := cfg.Bundle.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = identity.New()
	}

	kinds := make(map[webrtc.RTPCodecType]bool)
	for _, track := range cfg.Bundle.Tracks() {
		kinds[track.Kind()] = true
	}

	return &Engine{
		id:      cfg.ID,
		newPeer: cfg.NewPeer,
		sink:    cfg.Sink,
		hooks:   cfg.Hooks,
		timeout: cfg.Timeout,
		kinds:   kinds,
		log:     util.NewLogger("negotiation").WithSession(cfg.ID.String()),
		wake:    make(chan struct{}, 1),
		state:   StateIdle,
		bundle:  cfg.Bundle,
		pending: make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}, nil
}

// ID returns the identity the engine tags envelopes with.
func (e *Engine) ID() identity.ID { return e.id }

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AttachRelay sets the relay outbound envelopes are sent on. It may be called
// again after a reconnect; nil detaches.
func (e *Engine) AttachRelay(r Relay) {
	e.mu.Lock()
	e.relay = r
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

// Start originates an offer. It is valid from Idle and Closed.
func (e *Engine) Start(ctx context.Context) error {
	return e.request(ctx, event{kind: evStart})
}

// Stop sends an explicit close to the peer and closes the session. Requests
// still waiting are dropped and an operation in flight is cancelled; their
// callers get ErrOperationAborted. Stopping a closed session is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	ev := event{kind: evStop, reply: make(chan error, 1)}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrOperationAborted
	}
	dropped := e.dropLocked()
	// A Stop already running is left to deliver its close envelope; this one
	// then finds the session Closed.
	if e.cancelOp != nil && e.inFlight != evStop {
		e.cancelOp()
	}
	e.queue.PushBack(ev)
	e.mu.Unlock()

	abort(dropped)
	e.signal()
	return e.wait(ctx, ev)
}

// ReplaceTrack swaps the local track of the given kind. It fails with
// peer.ErrNoSuchTrack if the session was created without a track of that
// kind. While Connected the swap happens in place, or by recreating the
// session when in-place replacement is unsupported; otherwise the request is
// held and applied once Connected is reached.
func (e *Engine) ReplaceTrack(ctx context.Context, kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	if !e.kinds[kind] {
		return fmt.Errorf("%w: %s", peer.ErrNoSuchTrack, kind)
	}
	if track == nil {
		return errors.New("negotiation: replacement track is nil")
	}
	if track.Kind() != kind {
		return fmt.Errorf("negotiation: cannot replace %s track with a %s track", kind, track.Kind())
	}
	return e.request(ctx, event{kind: evReplace, media: kind, track: track})
}

// HandleEnvelope queues an inbound relay envelope. Self-echoes are discarded
// here and never reach the state machine.
func (e *Engine) HandleEnvelope(env signaling.Envelope) {
	if e.id.Is(env.SessionID) {
		util.Stats.AddEcho()
		return
	}
	if env.Kind() == signaling.KindUnknown {
		e.log.Warn("discarding envelope from %s: unrecognized shape", env.SessionID)
		return
	}
	e.post(event{kind: evEnvelope, env: env})
}

// request posts ev and waits for the engine to handle it.
func (e *Engine) request(ctx context.Context, ev event) error {
	ev.reply = make(chan error, 1)
	e.post(ev)
	return e.wait(ctx, ev)
}

func (e *Engine) wait(ctx context.Context, ev event) error {
	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sync returns once every event posted before it has been handled.
func (e *Engine) sync(ctx context.Context) error {
	return e.request(ctx, event{kind: evBarrier})
}

// ---------------------------------------------------------------------------
// Actor loop
// ---------------------------------------------------------------------------

// Run processes events until ctx is cancelled. The peer session is closed
// silently on return and later requests fail with ErrOperationAborted.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running || e.stopped {
		e.mu.Unlock()
		return errors.New("negotiation: engine is already running or has stopped")
	}
	e.running = true
	e.mu.Unlock()
	defer e.shutdown()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, opCtx, ok := e.next(ctx)
		if !ok {
			select {
			case <-e.wake:
			case <-ctx.Done():
			}
			continue
		}
		err := e.handle(opCtx, ev)
		e.finish()
		ev.answer(err)
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stopped = true
	var rest []event
	for e.queue.Len() > 0 {
		rest = append(rest, e.queue.PopFront())
	}
	e.mu.Unlock()

	abort(rest)
	e.stopTimer()
	e.closePeer()
}

func (e *Engine) handle(ctx context.Context, ev event) error {
	e.log.Debug("event %s in %s", ev.kind, e.State())

	switch ev.kind {
	case evStart:
		return e.onStart(ctx)
	case evStop:
		return e.onStop(ctx)
	case evReplace:
		return e.onReplace(ctx, ev.media, ev.track)
	case evEnvelope:
		e.onEnvelope(ctx, ev.env)
	case evLocalCandidate:
		e.onLocalCandidate(ctx, ev)
	case evRemoteStream:
		e.onRemoteStream(ev)
	case evTransport:
		e.onTransport(ctx, ev)
	case evTimeout:
		e.onTimeout(ev)
	case evBarrier:
	}
	return nil
}
