// Package handoff implements the bounded, single-producer/single-consumer
// FIFO that decouples the broker consumer from the batch writer. It is
// the pipeline's only backpressure primitive: a full channel forces the
// producer to slow down instead of growing memory without bound.
package handoff

import (
	"sync"

	"github.com/kayback/iot-ingestor/internal/ingesterr"
	"github.com/kayback/iot-ingestor/internal/telemetry"
)

// Channel wraps a buffered Go channel with the three-operation contract
// the consumer and writer need: a non-blocking try, a blocking fallback,
// and a drain-then-close receive.
//
// Send/TrySend run concurrently from paho's message-callback goroutines
// while Close runs from the consumer's Run goroutine on shutdown. mu
// guards that race: Send/TrySend hold it for reading for the duration of
// their (possibly blocking) channel operation, and Close takes it for
// writing before closing the underlying channel, so the data channel is
// never closed while a send on it could still be selected.
type Channel struct {
	ch   chan telemetry.Telemetry
	mu   sync.RWMutex
	done bool

	closeOnce sync.Once
}

// New creates a handoff channel with the given capacity.
func New(capacity int) *Channel {
	return &Channel{
		ch: make(chan telemetry.Telemetry, capacity),
	}
}

// TrySend attempts a non-blocking enqueue. It never blocks: it returns
// ErrChannelFull if the buffer has no spare capacity, or ErrChannelClosed
// if the channel has been closed or a Close is in progress.
func (c *Channel) TrySend(t telemetry.Telemetry) error {
	// Only Close takes the write lock, so a failed TryRLock means the
	// channel is closing; report that rather than waiting for Close.
	if !c.mu.TryRLock() {
		return ingesterr.ErrChannelClosed
	}
	defer c.mu.RUnlock()

	if c.done {
		return ingesterr.ErrChannelClosed
	}

	select {
	case c.ch <- t:
		return nil
	default:
		return ingesterr.ErrChannelFull
	}
}

// Send suspends the caller until space is available. It returns
// ErrChannelClosed if the channel is already closed when called; a Send
// that is already waiting for space is not woken by Close, which instead
// waits for that Send to complete.
func (c *Channel) Send(t telemetry.Telemetry) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.done {
		return ingesterr.ErrChannelClosed
	}

	c.ch <- t
	return nil
}

// Recv returns the next record in FIFO order. ok is false once the
// channel has been closed and fully drained.
func (c *Channel) Recv() (telemetry.Telemetry, bool) {
	t, ok := <-c.ch
	return t, ok
}

// Out exposes the underlying receive side for use in a select
// alongside a timer, as the batch writer's multiplexed wait requires.
func (c *Channel) Out() <-chan telemetry.Telemetry {
	return c.ch
}

// Close closes the channel. Safe to call more than once; only the
// first call has effect, and safe to call concurrently with in-flight
// Send/TrySend calls: it blocks until every one of them has returned
// before closing the underlying channel, so none can panic with a send
// on a closed channel. After Close, TrySend and Send both fail with
// ErrChannelClosed, and the receiver drains whatever was already
// buffered before observing closure via Out().
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.done = true
		close(c.ch)
	})
}
