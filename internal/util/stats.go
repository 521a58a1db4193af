package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-peer counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts datagram traffic for one peer. All fields are safe to read
// from another goroutine while the owner updates them.
type Stats struct {
	PacketsRecv    atomic.Int64 // datagrams queued
	PacketsDropped atomic.Int64 // datagrams discarded because the queue was full
	PacketsSent    atomic.Int64 // datagrams handed to the transport
	BytesRecv      atomic.Int64 // payload bytes queued
	BytesSent      atomic.Int64 // payload bytes sent
}

func (s *Stats) AddRecv(n int) {
	s.PacketsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *Stats) AddSent(n int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *Stats) AddDropped() { s.PacketsDropped.Add(1) }

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	PacketsRecv    int64
	PacketsDropped int64
	PacketsSent    int64
	BytesRecv      int64
	BytesSent      int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		PacketsRecv:    s.PacketsRecv.Load(),
		PacketsDropped: s.PacketsDropped.Load(),
		PacketsSent:    s.PacketsSent.Load(),
		BytesRecv:      s.BytesRecv.Load(),
		BytesSent:      s.BytesSent.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic rates for s
// every interval while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()

				inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
				outS := float64(cur.BytesSent-prev.BytesSent) / secs
				inP := cur.PacketsRecv - prev.PacketsRecv
				outP := cur.PacketsSent - prev.PacketsSent
				drop := cur.PacketsDropped - prev.PacketsDropped

				if inP > 0 || outP > 0 || drop > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inP, outP, drop))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current rates for display in the logger.
func formatStats(inS, outS float64, inP, outP, drop int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Pkts: %d↓ %d↑ | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		inP,
		outP,
		drop,
	)
}
