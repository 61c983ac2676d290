// Package media defines the media boundary of a session: the local tracks
// handed to the peer connection and the remote stream handed to a sink.
// Capture and rendering live outside this module.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Bundle is the local media bound to a peer session: at most one audio and
// at most one video track.
type Bundle struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

// Track returns the track of the given kind, or nil.
func (b Bundle) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return b.Audio
	case webrtc.RTPCodecTypeVideo:
		return b.Video
	default:
		return nil
	}
}

// Has reports whether a track of the given kind is present.
func (b Bundle) Has(kind webrtc.RTPCodecType) bool {
	return b.Track(kind) != nil
}

// With returns a copy of b with the track of the given kind replaced.
func (b Bundle) With(kind webrtc.RTPCodecType, track webrtc.TrackLocal) Bundle {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		b.Audio = track
	case webrtc.RTPCodecTypeVideo:
		b.Video = track
	}
	return b
}

// Tracks returns the present tracks, audio first.
func (b Bundle) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if b.Audio != nil {
		out = append(out, b.Audio)
	}
	if b.Video != nil {
		out = append(out, b.Video)
	}
	return out
}

// Validate checks that each track sits in the slot matching its kind.
func (b Bundle) Validate() error {
	if b.Audio != nil && b.Audio.Kind() != webrtc.RTPCodecTypeAudio {
		return fmt.Errorf("audio slot holds a %s track", b.Audio.Kind())
	}
	if b.Video != nil && b.Video.Kind() != webrtc.RTPCodecTypeVideo {
		return fmt.Errorf("video slot holds a %s track", b.Video.Kind())
	}
	return nil
}

// trackBacklog is how many remote tracks may be announced before the sink
// starts reading them.
const trackBacklog = 16

// RemoteStream is the handle given to a Sink when the first remote track of a
// peer session arrives. Later tracks of the same session are announced on
// Tracks. Done is closed when the owning peer session closes, after which the
// sink must stop consuming.
type RemoteStream struct {
	id     string
	tracks chan *webrtc.TrackRemote

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewRemoteStream creates an open stream handle.
func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{
		id:     id,
		tracks: make(chan *webrtc.TrackRemote, trackBacklog),
		done:   make(chan struct{}),
	}
}

// ID returns the remote stream id.
func (s *RemoteStream) ID() string { return s.id }

// Tracks announces remote tracks in arrival order.
func (s *RemoteStream) Tracks() <-chan *webrtc.TrackRemote { return s.tracks }

// Done is closed once the stream is released by its peer session.
func (s *RemoteStream) Done() <-chan struct{} { return s.done }

// AddTrack announces a remote track. It reports false if the stream is
// already closed or the backlog is full.
func (s *RemoteStream) AddTrack(track *webrtc.TrackRemote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.tracks <- track:
		return true
	default:
		return false
	}
}

// Close marks the stream released. Idempotent.
func (s *RemoteStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Sink consumes remote media. Attach is called once per peer session, when
// its first remote track arrives. Release is called when that session closes.
type Sink interface {
	Attach(stream *RemoteStream)
	Release(stream *RemoteStream)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are no-ops.
type SinkFuncs struct {
	OnAttach  func(*RemoteStream)
	OnRelease func(*RemoteStream)
}

func (f SinkFuncs) Attach(s *RemoteStream) {
	if f.OnAttach != nil {
		f.OnAttach(s)
	}
}

func (f SinkFuncs) Release(s *RemoteStream) {
	if f.OnRelease != nil {
		f.OnRelease(s)
	}
}
