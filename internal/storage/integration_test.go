//go:build integration

package storage

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/kayback/iot-ingestor/internal/metrics"
	"github.com/kayback/iot-ingestor/internal/telemetry"
)

// These run only with -tags=integration against a real Postgres
// instance reachable at DATABASE_URL, covering the scenarios the fake
// store in internal/batcher can't: real UNNEST insert, real ON
// CONFLICT dedup (S3), and real filtered queries. SQLSTATE-driven
// transient retries are not exercised here.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, metrics.New(), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := Migrate(ctx, store.Pool(), logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestIntegrationDuplicateInsertIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := telemetry.Telemetry{
		DeviceID: "integration-dup", Timestamp: time.Now().UTC().Truncate(time.Second),
		Temperature: 25.0, Humidity: 60.0, Battery: 80.0,
	}

	if err := store.InsertBatch(ctx, []telemetry.Telemetry{rec}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.InsertBatch(ctx, []telemetry.Telemetry{rec}); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	rows, total, err := store.Query(ctx, QueryFilter{DeviceID: rec.DeviceID, Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("expected exactly one row after duplicate insert, got total=%d rows=%d", total, len(rows))
	}
}

func TestIntegrationQueryFiltersByDeviceAndRange(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	batch := []telemetry.Telemetry{
		{DeviceID: "integration-range", Timestamp: base, Temperature: 20, Humidity: 50, Battery: 90},
		{DeviceID: "integration-range", Timestamp: base.Add(time.Hour), Temperature: 21, Humidity: 51, Battery: 91},
		{DeviceID: "integration-other", Timestamp: base, Temperature: 22, Humidity: 52, Battery: 92},
	}
	if err := store.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, total, err := store.Query(ctx, QueryFilter{
		DeviceID: "integration-range",
		Start:    base.Add(-time.Minute),
		End:      base.Add(time.Minute),
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("expected exactly one row in range, got total=%d rows=%d", total, len(rows))
	}
}
