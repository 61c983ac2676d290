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

// Stats is the process-wide signaling counter set.
var Stats = &stats{}

type stats struct {
	EnvelopesSent    atomic.Int64 // envelopes written to the relay
	EnvelopesRecv    atomic.Int64 // well-formed envelopes read from the relay
	EnvelopesDropped atomic.Int64 // frames discarded as malformed
	EchoesSuppressed atomic.Int64 // envelopes discarded because they carried our own identity
	Transitions      atomic.Int64 // negotiation state transitions
}

func (s *stats) AddSent()       { s.EnvelopesSent.Add(1) }
func (s *stats) AddRecv()       { s.EnvelopesRecv.Add(1) }
func (s *stats) AddDropped()    { s.EnvelopesDropped.Add(1) }
func (s *stats) AddEcho()       { s.EchoesSuppressed.Add(1) }
func (s *stats) AddTransition() { s.Transitions.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	sent, recv, dropped, echo, transitions int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:        s.EnvelopesSent.Load(),
		recv:        s.EnvelopesRecv.Load(),
		dropped:     s.EnvelopesDropped.Load(),
		echo:        s.EchoesSuppressed.Load(),
		transitions: s.Transitions.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval, but only when something changed since the last report.
// It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev)))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		sent:        s.sent - o.sent,
		recv:        s.recv - o.recv,
		dropped:     s.dropped - o.dropped,
		echo:        s.echo - o.echo,
		transitions: s.transitions - o.transitions,
	}
}

// formatStats returns a formatted string of a counter delta for display in the logger.
func formatStats(d snapshot) string {
	return fmt.Sprintf("Signal: %3d↑ %3d↓ | Dropped: %2d | Echo: %2d | Transitions: %2d",
		d.sent,
		d.recv,
		d.dropped,
		d.echo,
		d.transitions,
	)
}
