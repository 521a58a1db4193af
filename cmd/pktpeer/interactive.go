package main

import (
	"context"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/pktpeer/internal/util"
)

// runInteractive prompts for a mode when no subcommand is given.
func runInteractive(ctx context.Context) error {
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Listen — Print packets arriving on a port", "Send   — Send a message to a host"}).
		WithDefaultText("Select a mode").
		Show()

	pterm.Println()

	if strings.HasPrefix(mode, "Listen") {
		cfg.Port = askPort("Port to listen on (0 picks one)", 0)
		listenCmd.SetContext(ctx)
		return runListen(listenCmd, askYesNo("Echo packets back to the sender?"))
	}

	dest := askAddr()
	msg, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Message").
		Show()
	pterm.Println()

	sendCmd.SetContext(ctx)
	return runSend(sendCmd, dest, []byte(msg), 1, 0, 3*time.Second)
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string, lowest int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= lowest && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be %d ~ 65535", lowest)
		pterm.Println()
	}
}

// askAddr prompts for a destination until it resolves.
func askAddr() netip.AddrPort {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Destination host:port").
			Show()

		dest, err := resolveAddrPort(strings.TrimSpace(raw))
		if err == nil {
			pterm.Println()
			return dest
		}

		pterm.Println()
		util.LogWarning("invalid input: %v", err)
	}
}

func askYesNo(prompt string) bool {
	ok, _ := pterm.DefaultInteractiveConfirm.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return ok
}
