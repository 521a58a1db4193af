// Pktpeer: CLI entry point.
//
// This tool exposes a datagram packet peer: it binds a socket, queues every
// received datagram with its source, and sends datagrams to a configured
// destination. Sockets come from kernel UDP or from a WebRTC DataChannel
// negotiated over a WebSocket.
//
// It can be launched interactively (no subcommand) or non-interactively via
// subcommands and flags.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/1ureka/pktpeer/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		stop()
		os.Exit(1)
	}
}
