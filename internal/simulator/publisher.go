package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const burstSize = 200

// Publisher connects to an MQTT broker and publishes generated
// telemetry at a target rate, in bursts, the way the reference
// simulator paces its publish loop.
type Publisher struct {
	client mqtt.Client
	gen    *Generator
	rate   int // messages per second
	logger *slog.Logger
}

// NewPublisher dials broker:port with a randomly suffixed client ID and
// a clean session, matching the reference simulator's connection
// setup (distinct from the ingestor's durable, non-clean consumer
// session).
func NewPublisher(broker string, port int, gen *Generator, rate int, logger *slog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port)).
		SetClientID(fmt.Sprintf("sim-%s", uuid.NewString())).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("simulator mqtt connection lost", slog.Any("err", err))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &Publisher{client: client, gen: gen, rate: rate, logger: logger}, nil
}

// Run publishes at the configured rate in bursts of burstSize until
// ctx is canceled or duration elapses (duration <= 0 means run until
// ctx cancellation only).
func (p *Publisher) Run(ctx context.Context, duration time.Duration) error {
	defer p.client.Disconnect(250)

	burstInterval := time.Duration(int64(burstSize) * int64(time.Second) / int64(p.rate))

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(duration)
	}

	var published uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			p.logger.Info("simulator run complete", slog.Uint64("published", published))
			return nil
		default:
		}

		burstStart := time.Now()
		for i := 0; i < burstSize; i++ {
			t := p.gen.Next()
			payload, err := json.Marshal(t)
			if err != nil {
				p.logger.Error("failed to marshal telemetry", slog.Any("err", err))
				continue
			}

			token := p.client.Publish(Topic(t), 1, false, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				p.logger.Warn("publish failed", slog.Any("err", err))
				continue
			}
			published++
		}

		if published%10000 < burstSize {
			p.logger.Info("published telemetry", slog.Uint64("total", published))
		}

		elapsed := time.Since(burstStart)
		if elapsed < burstInterval {
			select {
			case <-time.After(burstInterval - elapsed):
			case <-ctx.Done():
				return nil
			}
		} else if elapsed > burstInterval*2 {
			p.logger.Warn("burst took longer than target interval; broker may be overloaded",
				slog.Duration("elapsed", elapsed), slog.Duration("target", burstInterval))
		}
	}
}
