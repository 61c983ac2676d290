package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

// Everything in this file runs on the Run goroutine.

// ---------------------------------------------------------------------------
// Local intents
// ---------------------------------------------------------------------------

func (e *Engine) onStart(ctx context.Context) error {
	switch e.State() {
	case StateIdle:
		if err := e.ensurePeer(); err != nil {
			return err
		}
	case StateClosed:
		if err := e.recreatePeer(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: start while %s", ErrInvalidState, e.State())
	}
	return e.offer(ctx)
}

func (e *Engine) onStop(ctx context.Context) error {
	if e.State() == StateClosed {
		return nil
	}
	err := e.send(ctx, signaling.NewClose(e.id.String()))
	if err != nil {
		e.log.Warn("close envelope not sent: %v", err)
	}
	e.enterClosed(false)
	return err
}

func (e *Engine) onReplace(ctx context.Context, kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	if e.State() != StateConnected || e.peer == nil {
		e.pending[kind] = track
		e.log.Debug("%s track replacement held until connected", kind)
		return nil
	}

	err := e.peer.ReplaceLocalTrack(kind, track)
	switch {
	case err == nil:
		e.bundle = e.bundle.With(kind, track)
		e.log.Info("%s track replaced in place", kind)
		return nil
	case errors.Is(err, peer.ErrRenegotiationRequired):
		e.pending[kind] = track
		return e.renegotiate(ctx)
	default:
		return err
	}
}

// flushPending applies replacements held while not Connected.
func (e *Engine) flushPending(ctx context.Context) {
	if len(e.pending) == 0 {
		return
	}
	recreate := false
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		track, ok := e.pending[kind]
		if !ok {
			continue
		}
		err := e.peer.ReplaceLocalTrack(kind, track)
		switch {
		case err == nil:
			delete(e.pending, kind)
			e.bundle = e.bundle.With(kind, track)
			e.log.Info("held %s track replacement applied", kind)
		case errors.Is(err, peer.ErrRenegotiationRequired):
			recreate = true
		default:
			delete(e.pending, kind)
			e.report(fmt.Errorf("held %s track replacement: %w", kind, err))
		}
	}
	if recreate {
		if err := e.renegotiate(ctx); err != nil {
			e.report(err)
		}
	}
}

// renegotiate tells the peer to close, then recreates the peer session with
// the held replacements merged in and offers again.
func (e *Engine) renegotiate(ctx context.Context) error {
	e.log.Info("track replacement needs a new session, renegotiating")
	if err := e.send(ctx, signaling.NewClose(e.id.String())); err != nil {
		return e.fail(ctx, err)
	}
	e.closePeer()
	e.transition(StateClosed)
	if err := e.recreatePeer(); err != nil {
		return err
	}
	return e.offer(ctx)
}

// ---------------------------------------------------------------------------
// Inbound envelopes
// ---------------------------------------------------------------------------

func (e *Engine) onEnvelope(ctx context.Context, env signaling.Envelope) {
	switch env.Kind() {
	case signaling.KindDescription:
		switch env.SDP.Type {
		case webrtc.SDPTypeOffer:
			e.onOffer(ctx, env.SessionID, *env.SDP)
		case webrtc.SDPTypeAnswer:
			e.onAnswer(ctx, *env.SDP)
		}
	case signaling.KindCandidate:
		e.onRemoteCandidate(*env.ICE)
	case signaling.KindClose:
		e.onRemoteClose()
	}
}

func (e *Engine) onOffer(ctx context.Context, from string, desc webrtc.SessionDescription) {
	switch e.State() {
	case StateOffering:
		// Both sides offered. The side whose identity sorts higher keeps its
		// offer; the lower one abandons its own and answers.
		if !e.id.Less(from) {
			e.log.Info("simultaneous offer from %s ignored, keeping ours", from)
			return
		}
		e.log.Info("simultaneous offer from %s wins, answering", from)
		if err := e.recreatePeer(); err != nil {
			e.report(err)
			return
		}
	case StateClosed:
		if err := e.recreatePeer(); err != nil {
			e.report(err)
			return
		}
	case StateIdle:
		if err := e.ensurePeer(); err != nil {
			e.report(err)
			return
		}
	}

	if err := e.answer(ctx, desc); err != nil {
		e.report(err)
	}
}

func (e *Engine) answer(ctx context.Context, offer webrtc.SessionDescription) error {
	if err := e.peer.ApplyRemoteDescription(ctx, offer); err != nil {
		return e.fail(ctx, err)
	}
	desc, err := e.peer.CreateAnswer(ctx)
	if err != nil {
		return e.fail(ctx, err)
	}
	e.transition(StateAnswerPending)
	if err := e.send(ctx, signaling.NewDescription(e.id.String(), desc)); err != nil {
		return e.fail(ctx, err)
	}

	// A renegotiation over a transport that is already up settles at once.
	if e.peer.State() == peer.StateConnected {
		e.connected(ctx)
	}
	return nil
}

func (e *Engine) onAnswer(ctx context.Context, desc webrtc.SessionDescription) {
	if e.State() != StateOffering {
		e.log.Debug("answer ignored while %s", e.State())
		return
	}
	if err := e.peer.ApplyRemoteDescription(ctx, desc); err != nil {
		e.report(e.fail(ctx, err))
		return
	}
	e.connected(ctx)
}

func (e *Engine) onRemoteCandidate(c webrtc.ICECandidateInit) {
	if e.State() == StateClosed {
		e.log.Debug("candidate dropped while closed")
		return
	}
	if err := e.ensurePeer(); err != nil {
		e.report(err)
		return
	}
	if err := e.peer.AddRemoteCandidate(c); err != nil {
		e.log.Warn("remote candidate rejected: %v", err)
	}
}

func (e *Engine) onRemoteClose() {
	if e.State() == StateClosed {
		return
	}
	e.log.Info("peer closed the session")
	e.enterClosed(true)
}

// ---------------------------------------------------------------------------
// Peer session events
// ---------------------------------------------------------------------------

func (e *Engine) current(ev event) bool {
	return e.peer != nil && ev.gen == e.gen
}

func (e *Engine) onLocalCandidate(ctx context.Context, ev event) {
	if !e.current(ev) {
		return
	}
	if err := e.send(ctx, signaling.NewCandidate(e.id.String(), ev.candidate)); err != nil {
		e.log.Warn("local candidate not sent: %v", err)
	}
}

func (e *Engine) onRemoteStream(ev event) {
	if !e.current(ev) {
		return
	}
	e.remote = ev.stream
	e.log.Info("remote stream %s arrived", ev.stream.ID())
	if e.sink != nil {
		e.sink.Attach(ev.stream)
	}
}

func (e *Engine) onTransport(ctx context.Context, ev event) {
	if !e.current(ev) {
		return
	}
	switch ev.transport {
	case peer.StateConnected:
		if e.State() == StateAnswerPending {
			e.connected(ctx)
		}
	case peer.StateClosed:
		if e.State() == StateClosed {
			return
		}
		e.log.Warn("transport closed")
		e.enterClosed(true)
	}
}

func (e *Engine) onTimeout(ev event) {
	if ev.round != e.round || !e.State().negotiating() {
		return
	}
	e.log.Warn("%s timed out after %s", e.State(), e.timeout)
	e.enterClosed(false)
	e.report(ErrNegotiationTimeout)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Engine) offer(ctx context.Context) error {
	desc, err := e.peer.CreateOffer(ctx)
	if err != nil {
		return e.fail(ctx, err)
	}
	e.transition(StateOffering)
	if err := e.send(ctx, signaling.NewDescription(e.id.String(), desc)); err != nil {
		return e.fail(ctx, err)
	}
	return nil
}

func (e *Engine) connected(ctx context.Context) {
	e.transition(StateConnected)
	e.flushPending(ctx)
}

func (e *Engine) send(ctx context.Context, env signaling.Envelope) error {
	e.mu.Lock()
	relay := e.relay
	e.mu.Unlock()
	if relay == nil {
		return fmt.Errorf("%w: no relay attached", signaling.ErrSend)
	}
	return relay.Send(ctx, env)
}

// fail handles an error from a negotiation step. If the step was cancelled by
// a close the caller gets ErrOperationAborted and the close that follows does
// the cleanup; otherwise the session is closed.
func (e *Engine) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrOperationAborted, err)
	}
	e.log.Error("negotiation failed in %s: %v", e.State(), err)
	e.enterClosed(false)
	return err
}

// report passes an error no caller is waiting for to the hooks.
func (e *Engine) report(err error) {
	if err == nil || errors.Is(err, ErrOperationAborted) {
		return
	}
	if e.hooks.OnError != nil {
		e.hooks.OnError(err)
	}
}

// ensurePeer creates a peer session if there is none.
func (e *Engine) ensurePeer() error {
	if e.peer != nil {
		return nil
	}
	for kind, track := range e.pending {
		e.bundle = e.bundle.With(kind, track)
		delete(e.pending, kind)
	}

	gen := e.gen + 1
	p, err := e.newPeer(e.bundle, peer.Handler{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			e.post(event{kind: evLocalCandidate, gen: gen, candidate: c})
		},
		OnRemoteStream: func(s *media.RemoteStream) {
			e.post(event{kind: evRemoteStream, gen: gen, stream: s})
		},
		OnTransportState: func(s peer.State) {
			e.post(event{kind: evTransport, gen: gen, transport: s})
		},
	})
	if err != nil {
		return err
	}
	e.gen = gen
	e.peer = p
	return nil
}

// recreatePeer replaces the current peer session, if any, with a new one.
func (e *Engine) recreatePeer() error {
	e.closePeer()
	return e.ensurePeer()
}

// closePeer closes the current peer session and releases its remote stream.
func (e *Engine) closePeer() {
	if e.peer == nil {
		return
	}
	if e.remote != nil && e.sink != nil {
		e.sink.Release(e.remote)
	}
	e.remote = nil
	if err := e.peer.Close(); err != nil {
		e.log.Warn("closing peer session: %v", err)
	}
	e.peer = nil
	e.gen++
}

// enterClosed closes the session and cancels every trigger still waiting.
func (e *Engine) enterClosed(remote bool) {
	e.closePeer()
	e.transition(StateClosed)
	e.dropQueued()
	if e.hooks.OnClosed != nil {
		e.hooks.OnClosed(remote)
	}
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()

	// Each offer or answer starts a new timeout round, including a
	// renegotiation that stays in AnswerPending.
	if to.negotiating() {
		e.armTimer()
	} else {
		e.stopTimer()
	}
	if from == to {
		return
	}

	util.Stats.AddTransition()
	e.log.Info("%s → %s", from, to)

	if e.hooks.OnStateChange != nil {
		e.hooks.OnStateChange(from, to)
	}
}

func (e *Engine) armTimer() {
	e.stopTimer()
	e.round++
	if e.timeout <= 0 {
		return
	}
	round := e.round
	e.timer = time.AfterFunc(e.timeout, func() {
		e.post(event{kind: evTimeout, round: round})
	})
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
