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

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	OpenedConns  atomic.Int64 // cumulative count of signaling channels opened
	ClosedConns  atomic.Int64 // cumulative count of signaling channels closed
	RoomsCreated atomic.Int64 // cumulative count of rooms created
	Routed       atomic.Int64 // cumulative count of messages forwarded
	Dropped      atomic.Int64 // cumulative count of messages dropped (no live recipient)
}

func (s *stats) AddConn()    { s.OpenedConns.Add(1) }
func (s *stats) RemoveConn() { s.ClosedConns.Add(1) }
func (s *stats) AddRoom()    { s.RoomsCreated.Add(1) }
func (s *stats) AddRouted()  { s.Routed.Add(1) }
func (s *stats) AddDropped() { s.Dropped.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every 30 seconds. Quiet intervals produce no output. It stops when ctx
// is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var prevOpened, prevClosed, prevRouted, prevDropped int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.OpenedConns.Load()
				closed := Stats.ClosedConns.Load()
				routed := Stats.Routed.Load()
				dropped := Stats.Dropped.Load()

				inC := opened - prevOpened
				outC := closed - prevClosed
				fwd := routed - prevRouted
				drp := dropped - prevDropped

				if inC > 0 || outC > 0 || fwd > 0 || drp > 0 {
					pterm.DefaultLogger.Info(formatStats(fwd, drp, inC, outC))
				}

				prevOpened = opened
				prevClosed = closed
				prevRouted = routed
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(fwd, drp, inC, outC int64) string {
	return fmt.Sprintf("Routed: %4d | Dropped: %2d | Conn: %2d↑ %2d↓", fwd, drp, inC, outC)
}
