package consumer

import (
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kayback/iot-ingestor/internal/handoff"
	"github.com/kayback/iot-ingestor/internal/health"
	"github.com/kayback/iot-ingestor/internal/metrics"
	"github.com/kayback/iot-ingestor/internal/telemetry"
)

// fakeMessage is a minimal mqtt.Message stand-in so handleMessage can be
// exercised without a real broker connection.
type fakeMessage struct {
	payload []byte
}

func (fakeMessage) Duplicate() bool   { return false }
func (fakeMessage) Qos() byte         { return 1 }
func (fakeMessage) Retained() bool    { return false }
func (fakeMessage) Topic() string     { return "telemetry/dev-1" }
func (fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte { return m.payload }
func (fakeMessage) Ack()              {}

var _ mqtt.Message = fakeMessage{}

func testutilCounter(c prometheus.Counter) float64 {
	return testutil.ToFloat64(c)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestConsumer(ch *handoff.Channel) *Consumer {
	return &Consumer{
		out:     ch,
		metrics: metrics.New(),
		health:  health.New(5*time.Second, 0),
		logger:  discardLogger(),
	}
}

func validPayload() []byte {
	return []byte(`{"device_id":"dev-1","timestamp":"2026-01-01T00:00:00Z","temperature":21.5,"humidity":40.0,"battery":88.0}`)
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	if _, err := decode([]byte("not json")); err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
}

func TestDecodeRejectsValidationFailure(t *testing.T) {
	payload := []byte(`{"device_id":"","timestamp":"2026-01-01T00:00:00Z","temperature":21.5,"humidity":40.0,"battery":88.0}`)
	if _, err := decode(payload); err == nil {
		t.Fatal("expected validation error for empty device_id")
	}
}

func TestDecodeAcceptsValidPayload(t *testing.T) {
	tm, err := decode(validPayload())
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if tm.DeviceID != "dev-1" {
		t.Fatalf("unexpected device id: %s", tm.DeviceID)
	}
}

func TestHandleMessageEnqueuesValidPayload(t *testing.T) {
	ch := handoff.New(10)
	c := newTestConsumer(ch)

	c.handleMessage(nil, fakeMessage{payload: validPayload()})

	select {
	case got := <-ch.Out():
		if got.DeviceID != "dev-1" {
			t.Fatalf("unexpected record enqueued: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected record to be enqueued")
	}

	if n := testutilCounter(c.metrics.ValidMessagesTotal); n != 1 {
		t.Fatalf("expected valid_messages_total=1, got %v", n)
	}
}

func TestHandleMessageDropsInvalidPayload(t *testing.T) {
	ch := handoff.New(10)
	c := newTestConsumer(ch)

	c.handleMessage(nil, fakeMessage{payload: []byte("garbage")})

	select {
	case got := <-ch.Out():
		t.Fatalf("did not expect any record enqueued, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	if n := testutilCounter(c.metrics.InvalidMessagesTotal); n != 1 {
		t.Fatalf("expected invalid_messages_total=1, got %v", n)
	}
}

func TestEnqueueOnceFallsBackToBlockingSendWhenFull(t *testing.T) {
	ch := handoff.New(1)
	c := newTestConsumer(ch)

	if err := ch.TrySend(telemetry.Telemetry{DeviceID: "filler", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("failed to fill channel: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.enqueueOnce(telemetry.Telemetry{DeviceID: "dev-2", Timestamp: time.Now().UTC()})
	}()

	// Wait until enqueueOnce has seen the channel full, so the drain
	// below frees space for its blocking fallback, not for its first try.
	waitUntil := time.Now().Add(time.Second)
	for testutilCounter(c.metrics.ChannelFullTotal) < 1 && time.Now().Before(waitUntil) {
		time.Sleep(time.Millisecond)
	}

	<-ch.Out() // drain the filler, unblocking the pending Send

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error from blocking fallback: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueueOnce did not complete after buffer drained")
	}

	if n := testutilCounter(c.metrics.ChannelFullTotal); n != 1 {
		t.Fatalf("expected channel_full_total=1, got %v", n)
	}
}

func TestEnqueueOnceFailsAfterClose(t *testing.T) {
	ch := handoff.New(1)
	c := newTestConsumer(ch)
	ch.Close()

	if err := c.enqueueOnce(telemetry.Telemetry{DeviceID: "dev-3", Timestamp: time.Now().UTC()}); err == nil {
		t.Fatal("expected error enqueueing onto a closed channel")
	}
}
