package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/pktpeer/internal/config"
	"github.com/1ureka/pktpeer/internal/peer"
	"github.com/1ureka/pktpeer/internal/signaling"
	"github.com/1ureka/pktpeer/internal/transport"
	"github.com/1ureka/pktpeer/internal/util"
)

var (
	// Global flags
	cfgFile       string
	debugFlag     bool
	transportFlag string
	familyFlag    string
	roleFlag      string
	wsURLFlag     string
	wsListenFlag  string

	// Effective configuration, set during PersistentPreRun.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pktpeer",
	Short: "Datagram packet peer over UDP or WebRTC",
	Long: `Pktpeer binds a connectionless socket and turns it into a queue of
source-addressed packets. It can listen and print what arrives, send
messages to a destination, or run a self test on an in-process network.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		flags := cmd.Flags()
		if flags.Changed("debug") {
			cfg.Debug = debugFlag
		}
		if flags.Changed("transport") {
			cfg.Transport = transportFlag
		}
		if flags.Changed("family") {
			cfg.Family = familyFlag
		}
		if flags.Changed("role") {
			cfg.Signaling.Role = config.Role(roleFlag)
		}
		if flags.Changed("ws-url") {
			cfg.Signaling.URL = wsURLFlag
		}
		if flags.Changed("ws-listen") {
			cfg.Signaling.Listen = wsListenFlag
		}

		if cfg.Debug {
			util.EnableDebug()
		}

		pterm.Info.Println(fmt.Sprintf("Pktpeer — v%s", version))
		pterm.Println()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ~/.pktpeer/config.yaml)")
	pf.BoolVar(&debugFlag, "debug", false, "enable debug logging")
	pf.StringVar(&transportFlag, "transport", "", "socket transport: udp or webrtc")
	pf.StringVar(&familyFlag, "family", "", "address family: any, ipv4 or ipv6")
	pf.StringVar(&roleFlag, "role", "", "webrtc signaling role: host or client")
	pf.StringVar(&wsURLFlag, "ws-url", "", "webrtc client: signaling WebSocket URL")
	pf.StringVar(&wsListenFlag, "ws-listen", "", "webrtc host: signaling listen address (default \":0\")")
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// newPeer builds an unbound peer on the configured transport.
func newPeer(ctx context.Context) (*peer.Peer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	factory, err := newFactory(ctx)
	if err != nil {
		return nil, err
	}
	return peer.New(factory,
		peer.WithFamily(cfg.AddressFamily()),
		peer.WithMaxPacketSize(cfg.MaxPacketSize),
	), nil
}

func newFactory(ctx context.Context) (transport.Factory, error) {
	if cfg.Transport != config.TransportWebRTC {
		return transport.NewUDP(), nil
	}

	var sig transport.Signaler
	switch cfg.Signaling.Role {
	case config.RoleClient:
		wsURL, pin, err := normalizeWSURL(cfg.Signaling.URL)
		if err != nil {
			return nil, err
		}
		if pin == "" {
			pin = cfg.Signaling.PIN
		}
		sig = &signaling.Client{URL: wsURL, PIN: pin}
	default:
		sig = &signaling.Host{
			Addr:     cfg.Signaling.Listen,
			PIN:      cfg.Signaling.PIN,
			OnListen: printSignalingBanner,
		}
	}

	return transport.NewWebRTC(ctx, transport.WebRTCConfig{Signaler: sig}), nil
}

// printSignalingBanner shows how a client can reach the signaling server.
func printSignalingBanner(port int, pin string) {
	pterm.Println()
	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\n\nClients connect with --ws-url ws://<host>:%d/ws?pin=%s", port, pin, port, pin),
	)
	pterm.Println()
	util.LogInfo("waiting for client...")
}

// normalizeWSURL validates a raw WebSocket URL and returns it in canonical
// form together with any pin query parameter it carried.
func normalizeWSURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), u.Query().Get("pin"), nil
}
