package peer

import "github.com/pion/webrtc/v4"

// candidateBuffer holds remote candidates that arrive before the remote
// description. pion rejects such candidates, so they wait here and are
// replayed in arrival order once the description is applied.
type candidateBuffer struct {
	ready   bool
	pending []webrtc.ICECandidateInit
}

// add buffers c and reports true, or reports false if the remote description
// is already applied and c should go straight to the connection.
func (b *candidateBuffer) add(c webrtc.ICECandidateInit) bool {
	if b.ready {
		return false
	}
	b.pending = append(b.pending, c)
	return true
}

// release marks the remote description applied and hands back everything
// buffered so far, oldest first.
func (b *candidateBuffer) release() []webrtc.ICECandidateInit {
	b.ready = true
	out := b.pending
	b.pending = nil
	return out
}

// reset drops everything buffered.
func (b *candidateBuffer) reset() {
	b.pending = nil
}

func (b *candidateBuffer) len() int {
	return len(b.pending)
}
