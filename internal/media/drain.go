package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerlink/internal/util"
)

// DrainSink is a Sink for headless peers: it reads and discards every remote
// RTP packet so receive buffers never fill, and counts what it saw.
type DrainSink struct {
	log util.Logger

	Packets atomic.Int64
	Bytes   atomic.Int64

	wg sync.WaitGroup
}

var _ Sink = (*DrainSink)(nil)

// NewDrainSink returns a ready DrainSink.
func NewDrainSink() *DrainSink {
	return &DrainSink{log: util.NewLogger("media")}
}

// Attach starts draining every track announced on the stream.
func (d *DrainSink) Attach(s *RemoteStream) {
	d.log.Info("remote stream %s attached", s.ID())
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case track := <-s.Tracks():
				d.log.Info("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
				d.wg.Add(1)
				go d.drain(s, track)
			case <-s.Done():
				return
			}
		}
	}()
}

// Release logs the release; the drain goroutines stop once the peer
// connection is closed and their reads fail.
func (d *DrainSink) Release(s *RemoteStream) {
	d.log.Info("remote stream %s released (%d packets so far)", s.ID(), d.Packets.Load())
}

// Wait blocks until every drain goroutine has exited.
func (d *DrainSink) Wait() {
	d.wg.Wait()
}

func (d *DrainSink) drain(s *RemoteStream, track *webrtc.TrackRemote) {
	defer d.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			select {
			case <-s.Done():
			default:
				d.log.Debug("track %s read ended: %v", track.ID(), err)
			}
			return
		}
		d.Packets.Add(1)
		d.Bytes.Add(int64(n))
	}
}
