// Package api builds the HTTP surface (C9): Prometheus exposition,
// the paginated telemetry query endpoint, and the liveness probe, on
// top of gofiber/fiber/v2 the way the teacher's host app wires it.
package api

import (
	"context"
	"path"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/kayback/iot-ingestor/internal/health"
	"github.com/kayback/iot-ingestor/internal/metrics"
	"github.com/kayback/iot-ingestor/internal/storage"
	"github.com/kayback/iot-ingestor/internal/telemetry"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Querier is the storage-side dependency the telemetry endpoint reads
// from. storage.Store satisfies it; tests substitute a fake.
type Querier interface {
	Query(ctx context.Context, filter storage.QueryFilter) ([]telemetry.Telemetry, int, error)
}

// New builds the fiber app with every route spec.md §6/SPEC_FULL.md
// §4.9 requires.
func New(q Querier, m *metrics.Registry, h *health.Monitor) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           60 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${method} ${path} ${status} ${latency}\n",
	}))
	app.Use(func(c *fiber.Ctx) error {
		c.Path(path.Clean(c.Path()))
		return c.Next()
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		body, err := m.Gather()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error: " + err.Error())
		}
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(body)
	})

	app.Get("/api/v1/telemetry", func(c *fiber.Ctx) error {
		filter, err := parseFilter(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		rows, total, err := q.Query(c.Context(), filter)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Internal server error: " + err.Error())
		}

		return c.JSON(telemetry.Response{
			Data:   rows,
			Total:  total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
		})
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":             "ok",
			"last_flush_ms_ago":  h.LastFlushMSAgo(),
			"goroutine_count":    h.GoroutineCount(),
			"messages_processed": h.MessagesTotal(),
		}
		if !h.IsHealthy() {
			body["status"] = "unhealthy"
			return c.Status(fiber.StatusServiceUnavailable).JSON(body)
		}
		return c.JSON(body)
	})

	return app
}

// parseFilter reads device_id/start/end/limit/offset query params into
// a storage.QueryFilter, applying spec's defaults and caps. Omitted
// filters are left zero-valued so Query skips them.
func parseFilter(c *fiber.Ctx) (storage.QueryFilter, error) {
	filter := storage.QueryFilter{
		DeviceID: c.Query("device_id"),
		Limit:    defaultLimit,
		Offset:   0,
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fiber.NewError(fiber.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fiber.NewError(fiber.StatusBadRequest, "invalid offset")
		}
		filter.Offset = n
	}

	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fiber.NewError(fiber.StatusBadRequest, "invalid start: must be RFC 3339")
		}
		filter.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fiber.NewError(fiber.StatusBadRequest, "invalid end: must be RFC 3339")
		}
		filter.End = t
	}

	return filter, nil
}
