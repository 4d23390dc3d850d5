package watchdog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dsgrid/ds-client/internal/config"
)

// Progress reports a monotonic count of protocol messages the session has
// handled.
type Progress interface {
	MessagesHandled() int
}

// Watchdog periodically samples session progress and force-closes the
// simulator connection once the session has made no progress for the
// configured number of consecutive intervals. Closing the connection turns
// a wedged blocking read into a fatal error, so a stalled session ends
// instead of waiting forever.
type Watchdog struct {
	cfg      *config.WatchdogConfig
	progress Progress
	conn     io.Closer
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a watchdog over the given connection.
func New(cfg *config.WatchdogConfig, progress Progress, conn io.Closer, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		cfg:      cfg,
		progress: progress,
		conn:     conn,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the stall check loop in a background goroutine.
func (w *Watchdog) Start(ctx context.Context) {
	if !w.cfg.Enabled {
		w.logger.Info("watchdog is disabled")
		return
	}

	w.logger.Info("starting watchdog",
		slog.Duration("interval", w.cfg.Interval),
		slog.Int("stall_threshold", w.cfg.StallThreshold),
	)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the watchdog.
func (w *Watchdog) Stop() {
	if !w.cfg.Enabled {
		return
	}

	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("watchdog stopped")
}

// run is the stall check loop.
func (w *Watchdog) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	lastCount := w.progress.MessagesHandled()
	stalled := 0

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := w.progress.MessagesHandled()
			if count != lastCount {
				lastCount = count
				stalled = 0
				continue
			}

			stalled++
			w.logger.Warn("session made no progress",
				slog.Int("consecutive_intervals", stalled),
				slog.Int("threshold", w.cfg.StallThreshold),
			)

			if stalled >= w.cfg.StallThreshold {
				w.logger.Error("stall threshold reached, closing connection")
				if err := w.conn.Close(); err != nil {
					w.logger.Error("failed to close connection",
						slog.String("error", err.Error()),
					)
				}
				return
			}
		}
	}
}
