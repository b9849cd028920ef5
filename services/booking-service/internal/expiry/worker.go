package expiry

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper releases holds whose TTL passed at now.
type Sweeper interface {
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
}

type Worker struct {
	sweeper  Sweeper
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

type WorkerConfig struct {
	Interval time.Duration
}

func NewWorker(sweeper Sweeper, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Worker{
		sweeper:  sweeper,
		logger:   logger,
		interval: cfg.Interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep. Failures are logged; the next tick retries.
func (w *Worker) Tick(ctx context.Context) {
	n, err := w.sweeper.ExpireHolds(ctx, w.now())
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("expiry sweep failed", "err", err)
		}
		return
	}
	if n > 0 {
		w.logger.Debug("expiry sweep", "expired", n)
	}
}
