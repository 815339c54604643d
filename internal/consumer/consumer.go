// Package consumer implements the broker consumer (C2): it maintains a
// durable MQTT session, decodes and validates each publish, and enqueues
// the result into the handoff channel with its own small per-message
// retry budget, independent of the storage adapter's and batch writer's.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kayback/iot-ingestor/internal/handoff"
	"github.com/kayback/iot-ingestor/internal/health"
	"github.com/kayback/iot-ingestor/internal/ingesterr"
	"github.com/kayback/iot-ingestor/internal/metrics"
	"github.com/kayback/iot-ingestor/internal/telemetry"
)

const (
	topic = "telemetry/#"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2000 * time.Millisecond

	fullSendDelay = time.Millisecond

	keepAlive = 30 * time.Second
)

// Consumer owns the MQTT client and the single handoff channel it feeds.
type Consumer struct {
	broker   string
	port     int
	clientID string
	out      *handoff.Channel
	metrics  *metrics.Registry
	health   *health.Monitor
	logger   *slog.Logger
	client   mqtt.Client
}

// New builds a Consumer. clientIDPrefix is combined with a random
// UUIDv4 to produce the broker client ID, per spec `ingestor-<uuid>`.
func New(broker string, port int, clientIDPrefix string, out *handoff.Channel, m *metrics.Registry, h *health.Monitor, logger *slog.Logger) *Consumer {
	return &Consumer{
		broker:   broker,
		port:     port,
		clientID: fmt.Sprintf("%s-%s", clientIDPrefix, uuid.NewString()),
		out:      out,
		metrics:  m,
		health:   h,
		logger:   logger,
	}
}

// Run connects to the broker, subscribes to telemetry/# at QoS 1 with a
// non-clean session, and blocks until ctx is canceled. On return it
// closes the handoff channel, which is this pipeline's sole signal to
// the batch writer that no more records are coming.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.out.Close()

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.broker, c.port)).
		SetClientID(c.clientID).
		SetCleanSession(false).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetOnConnectHandler(func(client mqtt.Client) {
			token := client.Subscribe(topic, 1, c.handleMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				c.logger.Error("subscribe failed", slog.String("topic", topic), slog.Any("err", err))
			} else {
				c.logger.Info("subscribed", slog.String("topic", topic), slog.String("qos", "at-least-once"))
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn("mqtt connection lost, auto-reconnect will resume", slog.Any("err", err))
		})

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return ingesterr.Wrap(ingesterr.KindMqtt, "connect to broker", err)
	}

	<-ctx.Done()
	c.logger.Info("consumer shutting down")
	c.client.Disconnect(250)
	return nil
}

// handleMessage is the paho callback for every incoming publish. It
// implements the per-message processing of spec 4.2: count, decode,
// validate, enqueue, with retry applied only to the enqueue step.
func (c *Consumer) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	c.metrics.MessagesTotal.Inc()
	c.health.RecordMessage()

	t, err := decode(msg.Payload())
	if err != nil {
		c.logger.Debug("dropping message: decode/validate failed", slog.Any("err", err))
		c.metrics.InvalidMessagesTotal.Inc()
		return
	}

	if err := c.enqueueWithRetry(t); err != nil {
		c.logger.Error("dropping message after exhausting enqueue retries", slog.Any("err", err))
		c.metrics.InvalidMessagesTotal.Inc()
		return
	}
	c.metrics.ValidMessagesTotal.Inc()
}

// decode parses the payload as JSON and validates it. Both failure
// modes are non-retryable per spec 4.2 step 2-3.
func decode(payload []byte) (telemetry.Telemetry, error) {
	var t telemetry.Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, ingesterr.Wrap(ingesterr.KindJSON, "parse telemetry payload", err)
	}
	if err := telemetry.Validate(t); err != nil {
		return t, err
	}
	return t, nil
}

// enqueueWithRetry implements the two-phase enqueue (try, then blocking
// fallback) wrapped in spec 4.2's 3-attempt exponential backoff, retrying
// only ChannelSend failures.
func (c *Consumer) enqueueWithRetry(t telemetry.Telemetry) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := c.enqueueOnce(t)
		if err == nil {
			return nil
		}
		lastErr = err

		if !ingesterr.IsRetryable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}

		c.logger.Warn("enqueue failed, retrying",
			slog.Int("attempt", attempt), slog.Int("max_attempts", maxRetries),
			slog.Duration("backoff", backoff), slog.Any("err", err))

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return lastErr
}

// enqueueOnce is the two-phase enqueue of spec 4.2: a non-blocking
// try_send first; on Full, count the backpressure event, sleep ~1ms,
// then fall back to a blocking send.
func (c *Consumer) enqueueOnce(t telemetry.Telemetry) error {
	err := c.out.TrySend(t)
	switch {
	case err == nil:
		return nil
	case err == ingesterr.ErrChannelClosed:
		return ingesterr.Wrap(ingesterr.KindChannelSend, "channel closed", err)
	case err == ingesterr.ErrChannelFull:
		c.metrics.ChannelFullTotal.Inc()
		time.Sleep(fullSendDelay)
		if sendErr := c.out.Send(t); sendErr != nil {
			return ingesterr.Wrap(ingesterr.KindChannelSend, "blocking send after full", sendErr)
		}
		return nil
	default:
		return ingesterr.Wrap(ingesterr.KindChannelSend, "enqueue", err)
	}
}
