package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/negotiation"
	"github.com/1ureka/peerlink/internal/signaling"
)

func startRelay(t *testing.T) (*signaling.Server, string) {
	t.Helper()
	srv := signaling.NewServer()
	port, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
}

// runSession creates, runs and connects a session against url.
func runSession(t *testing.T, url string, hooks Hooks) *Session {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "peerlink")
	require.NoError(t, err)
	s, err := New(Config{
		RelayURL: url,
		ICE:      webrtc.Configuration{},
		Bundle:   media.Bundle{Audio: audio},
		Hooks:    hooks,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer connectCancel()
	require.NoError(t, s.Connect(connectCtx))
	return s
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionsHaveDistinctIdentities(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)
	b, err := New(Config{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestConnectUnreachable(t *testing.T) {
	s, err := New(Config{RelayURL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)

	err = s.Connect(testCtx(t))
	assert.ErrorIs(t, err, signaling.ErrConnection)
	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Start(testCtx(t)), ErrNotConnected)
}

func TestTwoSessionsNegotiateOverRelay(t *testing.T) {
	srv, url := startRelay(t)
	a := runSession(t, url, Hooks{})
	b := runSession(t, url, Hooks{})
	require.Eventually(t, func() bool { return srv.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Start(testCtx(t)))

	require.Eventually(t, func() bool {
		return a.State() == negotiation.StateConnected
	}, 10*time.Second, 10*time.Millisecond)
	assert.Contains(t, []negotiation.State{negotiation.StateAnswerPending, negotiation.StateConnected}, b.State())

	require.NoError(t, a.Stop(testCtx(t)))
	assert.Equal(t, negotiation.StateClosed, a.State())
	require.Eventually(t, func() bool {
		return b.State() == negotiation.StateClosed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRelayLossIsReported(t *testing.T) {
	srv, url := startRelay(t)
	lost := make(chan error, 1)
	s := runSession(t, url, Hooks{OnRelayLost: func(err error) { lost <- err }})
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(5 * time.Second):
		t.Fatal("relay loss not reported")
	}
	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Start(testCtx(t)), ErrNotConnected)
}

func TestReconnectIsQuiet(t *testing.T) {
	srv, url := startRelay(t)
	lost := make(chan error, 1)
	s := runSession(t, url, Hooks{OnRelayLost: func(err error) { lost <- err }})

	require.NoError(t, s.Reconnect(testCtx(t)))
	assert.True(t, s.Connected())
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	assert.False(t, s.Connected())

	select {
	case err := <-lost:
		t.Fatalf("deliberate disconnect reported as loss: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
