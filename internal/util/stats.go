package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling traffic/link counter.
var Stats = &stats{}

type stats struct {
	Opens     atomic.Int64 // cumulative count of links opened since process start
	Drops     atomic.Int64 // cumulative count of links closed or failed since process start
	MsgsSent  atomic.Int64
	MsgsRecv  atomic.Int64
	BytesSent atomic.Int64 // cumulative bytes written to the signaling link
	BytesRecv atomic.Int64 // cumulative bytes read from the signaling link
}

func (s *stats) AddOpen() { s.Opens.Add(1) }
func (s *stats) AddDrop() { s.Drops.Add(1) }

func (s *stats) AddSent(n int) {
	s.MsgsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MsgsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Opens, Drops, MsgsSent, MsgsRecv, BytesSent, BytesRecv int64
}

func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		Opens:     s.Opens.Load(),
		Drops:     s.Drops.Load(),
		MsgsSent:  s.MsgsSent.Load(),
		MsgsRecv:  s.MsgsRecv.Load(),
		BytesSent: s.BytesSent.Load(),
		BytesRecv: s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval, skipping quiet periods. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if line, ok := formatDelta(prev, cur, interval); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatDelta renders the change between two snapshots. ok is false when
// nothing happened in between.
func formatDelta(prev, cur Snapshot, interval time.Duration) (string, bool) {
	secs := interval.Seconds()
	inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
	outS := float64(cur.BytesSent-prev.BytesSent) / secs
	inM := cur.MsgsRecv - prev.MsgsRecv
	outM := cur.MsgsSent - prev.MsgsSent
	opens := cur.Opens - prev.Opens
	drops := cur.Drops - prev.Drops

	if inM == 0 && outM == 0 && opens == 0 && drops == 0 {
		return "", false
	}
	return formatStats(inS, outS, inM, outM, opens, drops), true
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

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inM, outM, opens, drops int64) string {
	return fmt.Sprintf("In: %s/s %3d msg | Out: %s/s %3d msg | Link: %2d↑ %2d↓",
		formatBytes(inS), inM,
		formatBytes(outS), outM,
		opens, drops,
	)
}
