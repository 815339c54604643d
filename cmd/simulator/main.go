// Command simulator publishes synthetic telemetry over MQTT for load
// and soak testing of the ingestion pipeline (SPEC_FULL.md C13).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kayback/iot-ingestor/internal/logging"
	"github.com/kayback/iot-ingestor/internal/simulator"
)

func main() {
	cmd := &cli.Command{
		Name:  "simulator",
		Usage: "publish synthetic telemetry for load and soak testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "broker", Value: "localhost", Usage: "MQTT broker host"},
			&cli.IntFlag{Name: "port", Value: 1883, Usage: "MQTT broker port"},
			&cli.IntFlag{Name: "devices", Value: 100, Usage: "number of distinct device IDs to rotate through"},
			&cli.IntFlag{Name: "rate", Value: 1000, Usage: "target publish rate in messages per second"},
			&cli.FloatFlag{Name: "invalid-fraction", Value: 0, Usage: "fraction of readings generated outside the validator's accepted range"},
			&cli.DurationFlag{Name: "duration", Value: 0, Usage: "run for this long, then exit; 0 runs until interrupted"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "simulator:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := logging.NewFromEnv()

	devices := cmd.Int("devices")
	rate := cmd.Int("rate")
	invalidFraction := cmd.Float("invalid-fraction")
	broker := cmd.String("broker")
	port := cmd.Int("port")
	duration := cmd.Duration("duration")

	if devices <= 0 {
		return fmt.Errorf("-devices must be positive, got %d", devices)
	}
	if rate <= 0 {
		return fmt.Errorf("-rate must be positive, got %d", rate)
	}

	logger.Info("starting simulator",
		"broker", broker, "port", port, "devices", devices,
		"rate", rate, "invalid_fraction", invalidFraction, "duration", duration)

	gen := simulator.NewGenerator(simulator.Config{
		Devices:         int(devices),
		InvalidFraction: invalidFraction,
	}, time.Now().UnixNano())

	pub, err := simulator.NewPublisher(broker, int(port), gen, int(rate), logger)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return pub.Run(runCtx, duration)
}
