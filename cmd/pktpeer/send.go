package main

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/1ureka/pktpeer/internal/peer"
	"github.com/1ureka/pktpeer/internal/util"
)

var (
	sendTo    string
	sendCount int
	sendRate  float64
	sendWait  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to a destination, optionally waiting for replies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := resolveAddrPort(sendTo)
		if err != nil {
			return err
		}
		return runSend(cmd, dest, []byte(strings.Join(args, " ")), sendCount, sendRate, sendWait)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "destination host:port")
	sendCmd.Flags().IntVarP(&sendCount, "count", "n", 1, "number of copies to send")
	sendCmd.Flags().Float64Var(&sendRate, "rate", 0, "packets per second (0 is unlimited)")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 0, "how long to wait for each reply after sending")
	_ = sendCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(sendCmd)
}

// resolveAddrPort accepts a literal ip:port or resolves host:port.
func resolveAddrPort(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	ua, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid destination %q: %w", s, err)
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// newLimiter returns a token bucket allowing perSecond packets, or an
// unlimited one when perSecond is not positive.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func runSend(cmd *cobra.Command, dest netip.AddrPort, msg []byte, count int, perSecond float64, wait time.Duration) error {
	ctx := cmd.Context()

	p, err := newPeer(ctx)
	if err != nil {
		return err
	}
	if err := p.Listen(cfg.Port, cfg.RecvBufferSize); err != nil {
		return err
	}
	defer p.Close()

	p.SetSendAddress(dest.Addr(), int(dest.Port()))

	limiter := newLimiter(perSecond)
	for i := 0; i < count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := p.PutPacket(msg); err != nil {
			return err
		}
	}
	util.LogSuccess("sent %d packet(s) of %d bytes to %s from port %d", count, len(msg), dest, p.LocalPort())

	if wait <= 0 {
		return nil
	}

	out := cmd.OutOrStdout()
	replies := 0
	for {
		r, err := awaitPacket(ctx, p, wait)
		switch {
		case err == nil:
			replies++
			printPacket(out, r)
		case errors.Is(err, peer.ErrFailed):
			return err
		default:
			// Deadline or Ctrl+C.
			util.LogInfo("received %d replies", replies)
			return nil
		}
	}
}
