// Peerlink — CLI entry point.
//
// This tool joins a two-party WebRTC media session through a broadcast
// signaling relay. Offers, answers, candidates and explicit closes go over the
// relay; media flows peer to peer once negotiated.
//
// It runs an interactive menu by default, or headless with --offer (send an
// offer right away) or --headless (wait for the other side to offer).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/media"
	"github.com/1ureka/peerlink/internal/negotiation"
	"github.com/1ureka/peerlink/internal/session"
	"github.com/1ureka/peerlink/internal/util"
)

var version = "dev"

var logger = util.NewLogger("cli")

const (
	menuStart     = "Start    — Send an offer"
	menuStop      = "Stop     — Close the session"
	menuReconnect = "Reconnect relay"
	menuAudio     = "Replace audio track"
	menuVideo     = "Replace video track"
	menuQuit      = "Quit"
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fs := config.Flags("peerlink")
	offer := fs.Bool("offer", false, "send an offer once connected and run without the menu")
	headless := fs.Bool("headless", false, "run without the menu and wait for an offer")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	util.Setup(cfg.Debug)

	pterm.Info.Println(fmt.Sprintf("Peerlink — v%s", version))
	pterm.Println()

	if err := run(ctx, cfg, *offer, *offer || *headless); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("%v", err)
		os.Exit(1)
	}
	logger.Info("session closed")
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func run(ctx context.Context, cfg config.Config, offer, headless bool) error {
	audio, err := newTrack(webrtc.RTPCodecTypeAudio, 0)
	if err != nil {
		return err
	}
	video, err := newTrack(webrtc.RTPCodecTypeVideo, 0)
	if err != nil {
		return err
	}

	sink := media.NewDrainSink()
	sess, err := session.New(session.Config{
		RelayURL: cfg.RelayURL,
		ICE:      cfg.WebRTC(),
		Bundle:   media.Bundle{Audio: audio, Video: video},
		Sink:     sink,
		Timeout:  cfg.NegotiationTimeout,
		Hooks: session.Hooks{
			Hooks: negotiation.Hooks{
				OnStateChange: func(from, to negotiation.State) {
					if to == negotiation.StateConnected {
						logger.Info("session connected")
					}
				},
				OnClosed: func(remote bool) {
					if remote {
						logger.Warn("the other side closed the session")
					}
				},
				OnError: func(err error) {
					logger.Error("%v", err)
				},
			},
			OnRelayLost: func(err error) {
				logger.Error("%v", err)
				if !headless {
					logger.Warn("choose \"%s\" to connect again", menuReconnect)
				}
			},
		},
	})
	if err != nil {
		return err
	}
	logger.Info("session identity: %s", sess.ID())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sess.Run(ctx) })
	util.StartStatsReporter(ctx, 5*time.Second)

	if err := connect(ctx, sess); err != nil && headless {
		return err
	}

	g.Go(func() error {
		defer cancel()
		switch {
		case offer:
			if err := sess.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			<-ctx.Done()
		case headless:
			<-ctx.Done()
		default:
			menu(ctx, sess)
		}
		return nil
	})

	err = g.Wait()
	sink.Wait()
	return err
}

func connect(ctx context.Context, sess *session.Session) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sess.Reconnect(dialCtx); err != nil {
		logger.Error("relay unreachable: %v", err)
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Interactive menu
// ---------------------------------------------------------------------------

// menu shows the action prompt until the user quits or ctx is cancelled.
func menu(ctx context.Context, sess *session.Session) {
	generation := map[webrtc.RTPCodecType]int{}

	for ctx.Err() == nil {
		relay := "disconnected"
		if sess.Connected() {
			relay = "connected"
		}

		choice, err := pterm.DefaultInteractiveSelect.
			WithOptions([]string{menuStart, menuStop, menuReconnect, menuAudio, menuVideo, menuQuit}).
			WithDefaultText(fmt.Sprintf("Session %s, relay %s", sess.State(), relay)).
			Show()
		pterm.Println()
		if err != nil {
			return
		}

		actx, cancel := context.WithTimeout(ctx, 30*time.Second)
		switch choice {
		case menuStart:
			report("start", sess.Start(actx))
		case menuStop:
			report("stop", sess.Stop(actx))
		case menuReconnect:
			if connect(actx, sess) == nil {
				logger.Info("relay connected")
			}
		case menuAudio, menuVideo:
			kind := webrtc.RTPCodecTypeAudio
			if choice == menuVideo {
				kind = webrtc.RTPCodecTypeVideo
			}
			generation[kind]++
			track, err := newTrack(kind, generation[kind])
			if err == nil {
				err = sess.ReplaceTrack(actx, kind, track)
			}
			report("replace "+kind.String()+" track", err)
		case menuQuit:
			cancel()
			return
		}
		cancel()
	}
}

func report(action string, err error) {
	if err != nil {
		logger.Warn("%s: %v", action, err)
		return
	}
	logger.Info("%s: ok", action)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// newTrack creates a local track of the given kind. Nothing writes samples
// into it; it stands in for a captured device.
func newTrack(kind webrtc.RTPCodecType, n int) (*webrtc.TrackLocalStaticSample, error) {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	id := kind.String()
	if n > 0 {
		id = fmt.Sprintf("%s-%d", id, n)
	}
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "peerlink")
}
