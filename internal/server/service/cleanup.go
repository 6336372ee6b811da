package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// CleanupService periodically removes expired relayed files from both the
// in-memory index and blob storage.
type CleanupService struct {
	relay    *RelayService
	interval time.Duration
	clock    clock.Clock
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(relay *RelayService, interval time.Duration, clk clock.Clock) *CleanupService {
	return &CleanupService{
		relay:    relay,
		interval: interval,
		clock:    clk,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("file cleanup service started", "interval", cs.interval)

	go func() {
		ticker := cs.clock.Ticker(cs.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := cs.relay.SweepExpired(ctx); n > 0 {
					slog.Info("expired relay files removed", "count", n)
				}
			case <-ctx.Done():
				slog.Info("file cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}
