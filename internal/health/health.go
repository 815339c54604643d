// Package health tracks pipeline liveness with the same low-overhead
// design as the teacher's signing-service health monitor: atomic
// counters on the hot path, staleness and goroutine checks only from
// background callers (the /healthz handler and the watchdog pinger).
//
// Design principles (carried from the teacher):
// - Zero allocation on the consume/flush path (atomic ops only)
// - No locks on the hot path
// - No I/O on the hot path
package health

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Monitor tracks the two liveness signals the pipeline cares about:
// the last message the consumer received, and the last batch the
// writer successfully flushed. /healthz reports unhealthy once the
// flush goes stale beyond staleAfter — but only after a first flush
// has succeeded, so a freshly started process isn't flagged unhealthy
// before its first batch trigger has had a chance to fire. Until some
// flush succeeds, staleness is not checked at all.
type Monitor struct {
	lastMessageUnixMS atomic.Int64
	lastFlushUnixMS   atomic.Int64
	messagesTotal     atomic.Uint64
	flushesTotal      atomic.Uint64

	staleAfter     time.Duration
	goroutineLimit int
}

// New creates a Monitor. staleAfter is HEALTH_STALE_AFTER_MS from
// config; goroutineLimit is 0 to disable the goroutine ceiling check.
func New(staleAfter time.Duration, goroutineLimit int) *Monitor {
	return &Monitor{
		staleAfter:     staleAfter,
		goroutineLimit: goroutineLimit,
	}
}

// RecordMessage should be called once per message the consumer
// receives from the broker, valid or not.
func (m *Monitor) RecordMessage() {
	m.lastMessageUnixMS.Store(time.Now().UnixMilli())
	m.messagesTotal.Add(1)
}

// RecordFlush should be called once per successful batch flush.
func (m *Monitor) RecordFlush() {
	m.lastFlushUnixMS.Store(time.Now().UnixMilli())
	m.flushesTotal.Add(1)
}

// LastFlushMSAgo returns milliseconds since the last successful
// flush, or -1 if no flush has ever occurred.
func (m *Monitor) LastFlushMSAgo() int64 {
	last := m.lastFlushUnixMS.Load()
	if last == 0 {
		return -1
	}
	return time.Now().UnixMilli() - last
}

// MessagesTotal returns the total number of messages recorded.
func (m *Monitor) MessagesTotal() uint64 {
	return m.messagesTotal.Load()
}

// IsHealthy reports whether the pipeline is live: the goroutine count
// is within limit, and either no flush has been recorded yet or the
// most recent flush is within staleAfter.
func (m *Monitor) IsHealthy() bool {
	if m.goroutineLimit > 0 && runtime.NumGoroutine() > m.goroutineLimit {
		return false
	}
	if m.flushesTotal.Load() == 0 {
		return true
	}
	return m.LastFlushMSAgo() <= m.staleAfter.Milliseconds()
}

// GoroutineCount returns the current number of goroutines. Only call
// from the background health check, never from the hot path.
func (m *Monitor) GoroutineCount() int {
	return runtime.NumGoroutine()
}
