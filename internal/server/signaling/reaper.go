package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Reaper periodically expires idle rooms, forcibly disconnecting any peers
// still attached.
type Reaper struct {
	registry *Registry
	interval time.Duration
	clock    clock.Clock
	done     chan struct{}
}

// NewReaper creates a room reaper sweeping at the given interval.
func NewReaper(registry *Registry, interval time.Duration, clk clock.Clock) *Reaper {
	return &Reaper{
		registry: registry,
		interval: interval,
		clock:    clk,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine. It runs until ctx
// is cancelled.
func (rp *Reaper) Start(ctx context.Context) {
	slog.Info("room reaper started", "interval", rp.interval)

	go func() {
		ticker := rp.clock.Ticker(rp.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := rp.registry.SweepExpired(); n > 0 {
					slog.Info("expired rooms reaped", "count", n)
				}
			case <-ctx.Done():
				slog.Info("room reaper stopping")
				close(rp.done)
				return
			}
		}
	}()
}

// Wait blocks until the reaper has fully stopped.
func (rp *Reaper) Wait() {
	<-rp.done
}
