package reputation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/repscore/internal/metrics"
)

// maxWorkerUsers bounds one sweep.
const maxWorkerUsers = 10_000

// Worker periodically assesses every registered user so history keeps a
// score trail even for users nobody queries.
type Worker struct {
	engine   *Engine
	caller   Caller
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewWorker creates a risk snapshot worker. caller is the identity the
// worker presents to the access gate.
// interval is typically 1 hour in production, 10 seconds in demo mode.
func NewWorker(engine *Engine, caller Caller, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		engine:   engine,
		caller:   caller,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the snapshot loop. Call in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) sweep(ctx context.Context) {
	users, err := w.engine.store.ListUsers(ctx, maxWorkerUsers)
	if err != nil {
		w.logger.Warn("risk sweep failed to list users", "error", err)
		metrics.WorkerSweepsTotal.WithLabelValues("error").Inc()
		return
	}
	if len(users) == 0 {
		return
	}

	now, err := w.engine.Now(ctx)
	if err != nil {
		w.logger.Warn("risk sweep failed to read clock", "error", err)
		metrics.WorkerSweepsTotal.WithLabelValues("error").Inc()
		return
	}

	assessed := 0
	for _, user := range users {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.engine.Assess(ctx, w.caller, user, now); err != nil {
			if errors.Is(err, ErrSystemPaused) {
				w.logger.Debug("risk sweep skipped, system paused")
				metrics.WorkerSweepsTotal.WithLabelValues("paused").Inc()
				return
			}
			w.logger.Warn("risk sweep assessment failed", "user", user.Hex(), "error", err)
			continue
		}
		assessed++
	}

	metrics.ClockHead.Set(float64(now))
	metrics.WorkerSweepsTotal.WithLabelValues("ok").Inc()
	w.logger.Info("risk sweep completed", "users", assessed, "block", now)
}
