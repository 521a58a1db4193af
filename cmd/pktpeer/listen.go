package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/1ureka/pktpeer/internal/peer"
	"github.com/1ureka/pktpeer/internal/util"
)

var (
	listenPort   int
	listenBuffer int
	listenEcho   bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Bind a port and print every packet that arrives",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Port = listenPort
		}
		if cmd.Flags().Changed("buffer") {
			cfg.RecvBufferSize = listenBuffer
		}
		return runListen(cmd, listenEcho)
	},
}

func init() {
	listenCmd.Flags().IntVarP(&listenPort, "port", "p", 0, "port to bind (0 picks one)")
	listenCmd.Flags().IntVar(&listenBuffer, "buffer", 0, "receive queue size in bytes")
	listenCmd.Flags().BoolVar(&listenEcho, "echo", false, "send every packet back to its source")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, echo bool) error {
	ctx := cmd.Context()

	p, err := newPeer(ctx)
	if err != nil {
		return err
	}
	if err := p.Listen(cfg.Port, cfg.RecvBufferSize); err != nil {
		return err
	}
	defer p.Close()

	util.StartStatsReporter(ctx, p.Stats(), cfg.StatsInterval)
	util.LogSuccess("listening on port %d (%s)", p.LocalPort(), cfg.Transport)

	err = serve(ctx, p, listenHandler(cmd.OutOrStdout(), p, echo))
	if err != nil {
		return err
	}

	util.LogInfo("stopped listening")
	return nil
}

// listenHandler prints each packet and, with echo set, sends it back to its
// source. A packet that cannot be echoed is skipped; only a socket failure
// stops the listener.
func listenHandler(out io.Writer, p *peer.Peer, echo bool) func(received) error {
	return func(r received) error {
		printPacket(out, r)
		if !echo || !r.From.Addr().IsValid() {
			return nil
		}
		if len(r.Payload) > p.MaxPacketSize() {
			util.LogWarning("not echoing %d bytes to %s: over the %d byte packet limit", len(r.Payload), r.From, p.MaxPacketSize())
			return nil
		}

		p.SetSendAddress(r.From.Addr(), int(r.From.Port()))
		err := p.PutPacket(r.Payload)
		if errors.Is(err, peer.ErrInvalidPacket) {
			util.LogWarning("not echoing to %s: %v", r.From, err)
			return nil
		}
		return err
	}
}
