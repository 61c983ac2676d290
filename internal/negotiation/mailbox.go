package negotiation

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/signaling"
)

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evReplace
	evEnvelope
	evLocalCandidate
	evRemoteStream
	evTransport
	evTimeout
	evBarrier
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evStop:
		return "stop"
	case evReplace:
		return "replace-track"
	case evEnvelope:
		return "envelope"
	case evLocalCandidate:
		return "local-candidate"
	case evRemoteStream:
		return "remote-stream"
	case evTransport:
		return "transport-state"
	case evTimeout:
		return "timeout"
	default:
		return "barrier"
	}
}

// event is one trigger for the actor. Only the fields relevant to kind are
// set.
type event struct {
	kind eventKind

	env signaling.Envelope

	media webrtc.RTPCodecType
	track webrtc.TrackLocal

	// gen tags events raised by a peer session; round tags timeouts.
	gen       uint64
	round     uint64
	candidate webrtc.ICECandidateInit
	stream    *media.RemoteStream
	transport peer.State

	reply chan error
}

// answer delivers err to whoever waits on the event, if anyone.
func (ev event) answer(err error) {
	if ev.reply != nil {
		ev.reply <- err
	}
}

// droppable reports whether a close cancels the event while it waits in the
// mailbox. Relay envelopes keep their wire order across a close, since an
// offer is valid against a closed session.
func (ev event) droppable() bool {
	switch ev.kind {
	case evEnvelope, evBarrier, evStop:
		return false
	default:
		return true
	}
}

// post appends ev to the mailbox. Replacement requests for a kind already
// waiting are merged into the waiting one.
func (e *Engine) post(ev event) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		ev.answer(ErrOperationAborted)
		return
	}
	if ev.kind == evReplace {
		i := e.queue.Index(func(q event) bool {
			return q.kind == evReplace && q.media == ev.media
		})
		if i >= 0 {
			superseded := e.queue.At(i)
			e.queue.Set(i, ev)
			e.mu.Unlock()
			superseded.answer(nil)
			return
		}
	}
	e.queue.PushBack(ev)
	e.mu.Unlock()
	e.signal()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest event and registers the cancel func of the context
// it will run under. ok is false when the mailbox is empty.
func (e *Engine) next(parent context.Context) (ev event, ctx context.Context, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue.Len() == 0 {
		return event{}, nil, false
	}
	ev = e.queue.PopFront()
	e.inFlight = ev.kind
	ctx, e.cancelOp = context.WithCancel(parent)
	return ev, ctx, true
}

// finish clears the in-flight cancel func after an event is handled.
func (e *Engine) finish() {
	e.mu.Lock()
	cancel := e.cancelOp
	e.cancelOp = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// dropLocked removes every droppable event from the mailbox and returns them
// so the caller can answer them outside the lock.
func (e *Engine) dropLocked() []event {
	var dropped []event
	n := e.queue.Len()
	for range n {
		ev := e.queue.PopFront()
		if ev.droppable() {
			dropped = append(dropped, ev)
			continue
		}
		e.queue.PushBack(ev)
	}
	return dropped
}

// dropQueued cancels every droppable event still waiting.
func (e *Engine) dropQueued() {
	e.mu.Lock()
	dropped := e.dropLocked()
	e.mu.Unlock()
	abort(dropped)
}

func abort(events []event) {
	for _, ev := range events {
		ev.answer(ErrOperationAborted)
	}
}
