package main

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/pktpeer/internal/peer"
	"github.com/1ureka/pktpeer/internal/transport"
	"github.com/1ureka/pktpeer/internal/util"
)

const selftestTimeout = 2 * time.Second

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run a ping/pong exchange on an in-process network and on loopback UDP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSelftest(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

// pingCase is one self-contained ping/pong exchange. Each case owns its peers
// so cases can run concurrently.
type pingCase struct {
	name      string
	listener  transport.Factory
	sender    transport.Factory
	family    transport.Family
	listenAt  netip.Addr // address the sender targets
	listenOn  int
	senderOn  int
	wantSrc   netip.Addr // expected source of the ping
	checkPort bool       // whether the sender's port is known up front
}

func selftestCases() []pingCase {
	mem := transport.NewMemoryNetwork()
	loopback := netip.MustParseAddr("127.0.0.1")

	return []pingCase{
		{
			name:      "memory",
			listener:  mem.Host(netip.MustParseAddr("10.0.0.1")),
			sender:    mem.Host(netip.MustParseAddr("10.0.0.5")),
			listenAt:  netip.MustParseAddr("10.0.0.1"),
			listenOn:  9000,
			senderOn:  5000,
			wantSrc:   netip.MustParseAddr("10.0.0.5"),
			checkPort: true,
		},
		{
			name:     "udp loopback",
			listener: transport.NewUDP(),
			sender:   transport.NewUDP(),
			family:   transport.FamilyIPv4,
			listenAt: loopback,
			wantSrc:  loopback,
		},
	}
}

func runSelftest(ctx context.Context) error {
	cases := selftestCases()
	results := make([]error, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range cases {
		i, c := i, c
		g.Go(func() error {
			results[i] = c.run(gctx)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for i, c := range cases {
		if results[i] != nil {
			failed++
			pterm.Error.Println(fmt.Sprintf("%-14s %v", c.name, results[i]))
			continue
		}
		pterm.Success.Println(fmt.Sprintf("%-14s ping/pong ok", c.name))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d self tests failed", failed, len(cases))
	}
	return nil
}

func (c pingCase) run(ctx context.Context) error {
	a := peer.New(c.listener, peer.WithFamily(c.family))
	b := peer.New(c.sender, peer.WithFamily(c.family))
	defer a.Close()
	defer b.Close()

	if err := a.Listen(c.listenOn, 1024); err != nil {
		return err
	}
	if err := b.Listen(c.senderOn, 1024); err != nil {
		return err
	}
	util.LogDebug("selftest %s: listener on %d, sender on %d", c.name, a.LocalPort(), b.LocalPort())

	b.SetSendAddress(c.listenAt, a.LocalPort())
	if err := b.PutPacket([]byte("ping")); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}

	r, err := awaitPacket(ctx, a, selftestTimeout)
	if err != nil {
		return fmt.Errorf("await ping: %w", err)
	}
	switch {
	case !bytes.Equal(r.Payload, []byte("ping")):
		return fmt.Errorf("got payload %q, want \"ping\"", r.Payload)
	case r.From.Addr() != c.wantSrc:
		return fmt.Errorf("got source %s, want %s", r.From.Addr(), c.wantSrc)
	case int(r.From.Port()) != b.LocalPort():
		return fmt.Errorf("got source port %d, want %d", r.From.Port(), b.LocalPort())
	case c.checkPort && int(r.From.Port()) != c.senderOn:
		return fmt.Errorf("got source port %d, want %d", r.From.Port(), c.senderOn)
	}
	if n := a.AvailablePacketCount(); n != 0 {
		return fmt.Errorf("%d packets left after ping", n)
	}

	a.SetSendAddress(r.From.Addr(), int(r.From.Port()))
	if err := a.PutPacket([]byte("pong")); err != nil {
		return fmt.Errorf("send pong: %w", err)
	}

	r, err = awaitPacket(ctx, b, selftestTimeout)
	if err != nil {
		return fmt.Errorf("await pong: %w", err)
	}
	if !bytes.Equal(r.Payload, []byte("pong")) {
		return fmt.Errorf("got reply %q, want \"pong\"", r.Payload)
	}
	return nil
}
