// Command ingestor runs the full IoT telemetry ingestion pipeline:
// broker consumer, handoff channel, batch writer, storage adapter, and
// HTTP API, wired together and shut down in order on signal.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kayback/iot-ingestor/internal/api"
	"github.com/kayback/iot-ingestor/internal/batcher"
	"github.com/kayback/iot-ingestor/internal/config"
	"github.com/kayback/iot-ingestor/internal/consumer"
	"github.com/kayback/iot-ingestor/internal/handoff"
	"github.com/kayback/iot-ingestor/internal/health"
	"github.com/kayback/iot-ingestor/internal/logging"
	"github.com/kayback/iot-ingestor/internal/metrics"
	"github.com/kayback/iot-ingestor/internal/storage"
	"github.com/kayback/iot-ingestor/internal/watchdog"
)

func main() {
	cfg := config.FromEnv()

	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	slog.SetDefault(logger)

	logger.Info("starting IoT ingestor",
		slog.String("mqtt_broker", cfg.MQTTBroker), slog.Int("mqtt_port", cfg.MQTTPort),
		slog.String("http_addr", cfg.HTTPAddr))

	metricsRegistry := metrics.New()
	healthMonitor := health.New(time.Duration(cfg.HealthStaleAfterMS)*time.Millisecond, 0)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(rootCtx, cfg.DatabaseURL, metricsRegistry, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	if err := storage.Migrate(rootCtx, store.Pool(), logger); err != nil {
		logger.Error("failed to apply migrations", slog.Any("err", err))
		os.Exit(1)
	}

	ch := handoff.New(cfg.ChannelCapacity)

	c := consumer.New(cfg.MQTTBroker, cfg.MQTTPort, cfg.MQTTClientIDPrefix, ch, metricsRegistry, healthMonitor, logger)
	w := batcher.New(ch, store, metricsRegistry, healthMonitor, logger, cfg.BatchSize, time.Duration(cfg.BatchTimeoutMS)*time.Millisecond)

	app := api.New(store, metricsRegistry, healthMonitor)

	notifier := watchdog.New(healthMonitor)
	defer notifier.Close()
	stopPinger := notifier.StartPinger(rootCtx)
	defer stopPinger()

	writerDone := make(chan struct{})
	go func() {
		w.Run(rootCtx)
		close(writerDone)
	}()

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- c.Run(rootCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr))
		serverErr <- app.Listen(cfg.HTTPAddr)
	}()

	_ = notifier.Ready()

	select {
	case err := <-consumerErr:
		if err != nil {
			logger.Error("consumer terminated", slog.Any("err", err))
		}
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server terminated", slog.Any("err", err))
		}
	case <-rootCtx.Done():
		logger.Info("received shutdown signal")
	}

	_ = notifier.Stopping()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", slog.Any("err", err))
	}

	<-writerDone
	logger.Info("ingestor stopped")
}
