package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper is a periodic job run by Timer.
type Sweeper interface {
	Run(ctx context.Context) (*RepairReport, error)
}

// Timer periodically runs the ledger repair sweep.
type Timer struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewTimer creates a timer that runs sweeper every interval.
func NewTimer(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start runs the sweep loop until ctx is done or Stop is called. Call in a
// goroutine.
func (t *Timer) Start(ctx context.Context) {
	if t.interval <= 0 {
		return
	}
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in ledger repair sweep", "panic", fmt.Sprint(r))
		}
	}()

	if _, err := t.sweeper.Run(ctx); err != nil {
		t.logger.Warn("ledger repair sweep failed", "error", err)
	}
}
