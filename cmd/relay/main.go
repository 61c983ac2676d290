// Relay — signaling relay entry point.
//
// Every text frame a client sends is broadcast to every connected client,
// the sender included. Peers discard their own echoes by session identity.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

var logger = util.NewLogger("relay")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	listen := pflag.StringP("listen", "l", "127.0.0.1:8443", "address to listen on")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	util.Setup(*debug)

	srv := signaling.NewServer()
	port, err := srv.Start(*listen)
	if err != nil {
		logger.Error("failed to start relay: %v", err)
		os.Exit(1)
	}

	pterm.Info.Printfln("Relay listening on %s (port %d), path /ws", *listen, port)

	<-ctx.Done()
	if err := srv.Close(); err != nil {
		logger.Warn("relay shutdown: %v", err)
	}
	logger.Info("relay stopped")
}
