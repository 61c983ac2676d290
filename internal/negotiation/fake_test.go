package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peerlink/internal/identity"
	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/signaling"
)

// ---------------------------------------------------------------------------
// fakePeer
// ---------------------------------------------------------------------------

// fakePeer records every call the engine makes. Close reports a closed
// transport through the handler, as pion does.
type fakePeer struct {
	h      peer.Handler
	bundle media.Bundle

	mu         sync.Mutex
	state      peer.State
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	replaced   map[webrtc.RTPCodecType]webrtc.TrackLocal
	replaceErr error
	offerErr   error
	closes     int
}

func (p *fakePeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	p.state = peer.StateNegotiating
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 || p.remote[len(p.remote)-1].Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, peer.ErrNegotiation
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (p *fakePeer) ApplyRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == peer.StateClosed {
		return peer.ErrClosed
	}
	if p.state == peer.StateNew {
		p.state = peer.StateNegotiating
	}
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeer) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) ReplaceLocalTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replaceErr != nil {
		return p.replaceErr
	}
	p.replaced[kind] = track
	return nil
}

func (p *fakePeer) State() peer.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	first := p.state != peer.StateClosed
	p.state = peer.StateClosed
	p.mu.Unlock()
	if first {
		p.h.OnTransportState(peer.StateClosed)
	}
	return nil
}

// connect simulates the transport coming up.
func (p *fakePeer) connect() {
	p.mu.Lock()
	p.state = peer.StateConnected
	p.mu.Unlock()
	p.h.OnTransportState(peer.StateConnected)
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *fakePeer) remoteDescriptions() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.remote...)
}

func (p *fakePeer) remoteCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) replacedTrack(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replaced[kind]
}

// fakePeers is a PeerFactory that keeps every peer it creates.
type fakePeers struct {
	mu    sync.Mutex
	peers []*fakePeer
	setup func(*fakePeer)
}

func (f *fakePeers) New(bundle media.Bundle, h peer.Handler) (Peer, error) {
	p := &fakePeer{h: h, bundle: bundle, replaced: make(map[webrtc.RTPCodecType]webrtc.TrackLocal)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setup != nil {
		f.setup(p)
	}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakePeers) last(t *testing.T) *fakePeer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.peers, "no peer session created")
	return f.peers[len(f.peers)-1]
}

func (f *fakePeers) at(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[i]
}

// ---------------------------------------------------------------------------
// fakeRelay
// ---------------------------------------------------------------------------

type fakeRelay struct {
	mu   sync.Mutex
	sent []signaling.Envelope
	err  error

	// When hold is set the next Send blocks until its context is cancelled
	// or release is called, and reports on entered once it starts waiting.
	hold     bool
	entered  chan struct{}
	released chan struct{}
}

func (r *fakeRelay) Send(ctx context.Context, env signaling.Envelope) error {
	r.mu.Lock()
	if r.hold {
		r.hold = false
		released := r.released
		r.mu.Unlock()
		close(r.entered)
		select {
		case <-ctx.Done():
			return errors.Join(signaling.ErrSend, ctx.Err())
		case <-released:
		}
		r.mu.Lock()
	}
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, env)
	return nil
}

func (r *fakeRelay) holdNext() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold = true
	r.entered = make(chan struct{})
	r.released = make(chan struct{})
	return r.entered
}

// release lets a held Send complete normally.
func (r *fakeRelay) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	close(r.released)
}

func (r *fakeRelay) envelopes() []signaling.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signaling.Envelope(nil), r.sent...)
}

// ---------------------------------------------------------------------------
// recorder
// ---------------------------------------------------------------------------

type transitionRecord struct{ from, to State }

type recorder struct {
	mu          sync.Mutex
	transitions []transitionRecord
	closed      []bool
	errs        []error
	attached    []*media.RemoteStream
	released    []*media.RemoteStream
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnStateChange: func(from, to State) {
			r.mu.Lock()
			r.transitions = append(r.transitions, transitionRecord{from, to})
			r.mu.Unlock()
		},
		OnClosed: func(remote bool) {
			r.mu.Lock()
			r.closed = append(r.closed, remote)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) sink() media.Sink {
	return media.SinkFuncs{
		OnAttach: func(s *media.RemoteStream) {
			r.mu.Lock()
			r.attached = append(r.attached, s)
			r.mu.Unlock()
		},
		OnRelease: func(s *media.RemoteStream) {
			r.mu.Lock()
			r.released = append(r.released, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) transitionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions)
}

func (r *recorder) closedWith() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.closed...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

type harness struct {
	*Engine
	peers *fakePeers
	relay *fakeRelay
	rec   *recorder
}

type option func(*Config)

func withBundle(b media.Bundle) option { return func(c *Config) { c.Bundle = b } }
func withTimeout(d time.Duration) option { return func(c *Config) { c.Timeout = d } }
func withPeerFactory(f PeerFactory) option { return func(c *Config) { c.NewPeer = f } }
func withID(id identity.ID) option { return func(c *Config) { c.ID = id } }

// newHarness builds an engine tagged "A" wired to fakes. The engine is not
// running yet; call run.
func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{peers: &fakePeers{}, relay: &fakeRelay{}, rec: &recorder{}}
	cfg := Config{
		ID:      "A",
		NewPeer: h.peers.New,
		Sink:    h.rec.sink(),
		Hooks:   h.rec.hooks(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	e.AttachRelay(h.relay)
	h.Engine = e
	return h
}

// run starts the actor and stops it when the test ends.
func (h *harness) run(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func startHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	return newHarness(t, opts...).run(t)
}

// settle waits until every event posted so far has been handled.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.sync(ctx))
}

func (h *harness) deliver(t *testing.T, envs ...signaling.Envelope) {
	t.Helper()
	for _, env := range envs {
		h.HandleEnvelope(env)
	}
	h.settle(t)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ---------------------------------------------------------------------------
// envelopes and tracks
// ---------------------------------------------------------------------------

func offerFrom(id string) signaling.Envelope {
	return signaling.NewDescription(id, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})
}

func answerFrom(id string) signaling.Envelope {
	return signaling.NewDescription(id, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"})
}

func candidateFrom(id, candidate string) signaling.Envelope {
	return signaling.NewCandidate(id, webrtc.ICECandidateInit{Candidate: candidate})
}

func closeFrom(id string) signaling.Envelope {
	return signaling.NewClose(id)
}

func track(t *testing.T, kind webrtc.RTPCodecType, id string) webrtc.TrackLocal {
	t.Helper()
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "test")
	require.NoError(t, err)
	return tr
}
