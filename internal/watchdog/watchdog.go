// Package watchdog provides systemd sd_notify integration for the
// ingestion service.
//
// The ingestor signals READY=1 right after it starts the broker
// consumer, batch writer, and HTTP server goroutines (it does not wait
// for the broker connection or the HTTP listener), sends periodic
// WATCHDOG=1 pings while the
// health monitor reports healthy, and signals STOPPING=1 at the start
// of graceful shutdown. The watchdog is only active if NOTIFY_SOCKET is
// set by systemd (Type=notify); otherwise every operation is a no-op.
package watchdog

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/kayback/iot-ingestor/internal/health"
)

// Notifier handles systemd notifications and watchdog pings.
type Notifier struct {
	conn    net.Conn
	addr    string
	health  *health.Monitor
	running atomic.Bool
}

// New creates a Notifier wired to h for the periodic health check.
// Returns nil if NOTIFY_SOCKET is not set.
func New(h *health.Monitor) *Notifier {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	return &Notifier{addr: addr, health: h}
}

func (n *Notifier) connect() error {
	if n.conn != nil {
		return nil
	}
	conn, err := net.Dial("unixgram", n.addr)
	if err != nil {
		return err
	}
	n.conn = conn
	return nil
}

func (n *Notifier) send(msg string) error {
	if err := n.connect(); err != nil {
		return err
	}
	_, err := n.conn.Write([]byte(msg))
	return err
}

// Ready signals to systemd that the service is fully initialized.
func (n *Notifier) Ready() error {
	if n == nil {
		return nil
	}
	return n.send("READY=1")
}

// Stopping signals to systemd that the service is shutting down.
func (n *Notifier) Stopping() error {
	if n == nil {
		return nil
	}
	return n.send("STOPPING=1")
}

// Ping sends a single watchdog ping, only when the health monitor
// reports the pipeline healthy.
func (n *Notifier) Ping() error {
	if n == nil {
		return nil
	}
	if n.health != nil && !n.health.IsHealthy() {
		return nil
	}
	return n.send("WATCHDOG=1")
}

// WatchdogInterval returns the recommended ping interval derived from
// WATCHDOG_USEC (set by systemd), halved for safety margin. Returns 0
// if the watchdog is not configured.
func WatchdogInterval() time.Duration {
	usecStr := os.Getenv("WATCHDOG_USEC")
	if usecStr == "" {
		return 0
	}
	usec, err := strconv.ParseInt(usecStr, 10, 64)
	if err != nil || usec <= 0 {
		return 0
	}
	return time.Duration(usec) * time.Microsecond / 2
}

// StartPinger starts a goroutine sending periodic watchdog pings until
// ctx is canceled, and returns a function that waits for it to stop.
func (n *Notifier) StartPinger(ctx context.Context) func() {
	if n == nil {
		return func() {}
	}

	interval := WatchdogInterval()
	if interval == 0 {
		return func() {}
	}

	if !n.running.CompareAndSwap(false, true) {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = n.Ping()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		n.running.Store(false)
		<-done
	}
}

// Close releases the notify socket connection, if one was opened.
func (n *Notifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
