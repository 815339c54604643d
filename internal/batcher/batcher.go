// Package batcher implements the micro-batching writer (C4): it drains
// the handoff channel into a buffer, flushes on a size or time trigger,
// retries transient storage failures with its own outer budget, and
// drops the batch on terminal failure rather than growing without
// bound.
package batcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/kayback/iot-ingestor/internal/handoff"
	"github.com/kayback/iot-ingestor/internal/health"
	"github.com/kayback/iot-ingestor/internal/metrics"
	"github.com/kayback/iot-ingestor/internal/telemetry"
)

const (
	outerMaxRetries = 3
	outerBaseMS     = 100

	// shutdownFlushTimeout bounds the final drain flush performed when
	// the handoff channel closes. It runs on a fresh context rather
	// than the caller's ctx, which is typically already canceled by
	// the time shutdown reaches this point — flushing against an
	// already-canceled context would fail every attempt immediately
	// and drop the last batch instead of persisting it.
	shutdownFlushTimeout = 10 * time.Second
)

// Inserter is the storage-side dependency the writer flushes into. The
// real implementation is storage.Store; tests substitute a fake so the
// trigger and retry logic can be exercised without a database.
type Inserter interface {
	InsertBatch(ctx context.Context, batch []telemetry.Telemetry) error
}

// Writer accumulates telemetry from a handoff.Channel and flushes it to
// an Inserter. Exactly one Writer runs per process; Run must not be
// called concurrently with itself.
type Writer struct {
	in       *handoff.Channel
	store    Inserter
	metrics  *metrics.Registry
	health   *health.Monitor
	logger   *slog.Logger
	maxBatch int
	maxWait  time.Duration

	buf []telemetry.Telemetry
}

// New builds a Writer. maxBatch is the size trigger; maxWait is the
// time trigger period.
func New(in *handoff.Channel, store Inserter, m *metrics.Registry, h *health.Monitor, logger *slog.Logger, maxBatch int, maxWait time.Duration) *Writer {
	return &Writer{
		in:       in,
		store:    store,
		metrics:  m,
		health:   h,
		logger:   logger,
		maxBatch: maxBatch,
		maxWait:  maxWait,
		buf:      make([]telemetry.Telemetry, 0, maxBatch),
	}
}

// Run suspends simultaneously on a channel receive and the periodic
// timer, flushing on whichever trigger fires first, until the channel
// closes — at which point it performs one final drain-then-flush and
// returns. Shutdown is driven solely by the handoff channel closing
// (the consumer stops first and closes it), not by ctx cancellation:
// ctx may already be canceled by the time the channel closes, and the
// final flush must still be able to reach the store, so it runs on its
// own bounded context instead of ctx.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.maxWait)
	defer ticker.Stop()

	for {
		select {
		case t, ok := <-w.in.Out():
			if !ok {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
				w.flush(shutdownCtx)
				cancel()
				w.logger.Info("batch writer stopped: channel closed")
				return
			}
			w.buf = append(w.buf, t)
			if len(w.buf) >= w.maxBatch {
				w.flush(ctx)
			}

		case <-ticker.C:
			if len(w.buf) > 0 {
				w.flush(ctx)
			}
		}
	}
}

// flush performs the full flush protocol: gauge + latency observation,
// up to outerMaxRetries attempts with a 100ms then 200ms backoff
// between them (100*2^(attempt-1) ms), and a
// critical log plus buffer drop on exhaustion. It always leaves buf
// empty and the gauge at 0 when it returns.
func (w *Writer) flush(ctx context.Context) {
	n := len(w.buf)
	if n == 0 {
		return
	}

	w.metrics.BatchSize.Set(float64(n))
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= outerMaxRetries; attempt++ {
		err := w.store.InsertBatch(ctx, w.buf)
		if err == nil {
			elapsed := time.Since(start)
			w.metrics.IngestLatencySeconds.Observe(elapsed.Seconds())
			w.health.RecordFlush()
			if attempt > 1 {
				w.logger.Info("batch inserted after retry",
					slog.Int("attempt", attempt), slog.Int("size", n), slog.Duration("elapsed", elapsed))
			} else {
				w.logger.Debug("batch inserted",
					slog.Int("size", n), slog.Duration("elapsed", elapsed))
			}
			w.buf = w.buf[:0]
			w.metrics.BatchSize.Set(0)
			return
		}

		lastErr = err
		if attempt == outerMaxRetries {
			break
		}

		wait := time.Duration(outerBaseMS<<uint(attempt-1)) * time.Millisecond
		w.logger.Warn("batch insert failed, retrying",
			slog.Int("attempt", attempt), slog.Int("max_attempts", outerMaxRetries),
			slog.Duration("wait", wait), slog.Any("err", err))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			lastErr = ctx.Err()
			goto terminal
		}
	}

terminal:
	w.logger.Error("CRITICAL: batch dropped after exhausting retries",
		slog.Int("size", n), slog.Any("err", lastErr))
	w.buf = w.buf[:0]
	w.metrics.BatchSize.Set(0)
}
