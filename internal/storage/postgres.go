// Package storage is the bulk-insert adapter (C5): a pgx connection
// pool, an idempotent UNNEST-based batch insert, and the
// transient/permanent error classification that decides whether this
// adapter's own inner retry loop tries again. The batch writer's outer
// retry budget applies to both kinds alike.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/puddle/v2"
	"github.com/samber/lo"

	"github.com/kayback/iot-ingestor/internal/ingesterr"
	"github.com/kayback/iot-ingestor/internal/metrics"
	"github.com/kayback/iot-ingestor/internal/telemetry"
)

const (
	maxPoolConns    = 20
	acquireTimeout  = 10 * time.Second
	innerMaxRetries = 5
	innerBaseMS     = 100
	innerMaxShift   = 5 // backoff cap: 100 * min(2^(n-1), 2^innerMaxShift) ms == 100*32ms
)

// transientSQLStates are the SQLSTATE codes treated as transient per
// the component design: connection_exception, connection_does_not_exist,
// connection_failure, cannot_connect_now, too_many_connections.
var transientSQLStates = map[string]bool{
	"08000": true,
	"08003": true,
	"08006": true,
	"57P03": true,
	"53300": true,
}

// Store wraps a pgx connection pool with the ingestion-specific bulk
// insert and its own inner retry loop.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Registry
	logger  *slog.Logger
}

// Open parses databaseURL, caps the pool at 20 connections, and
// verifies connectivity with a ping before returning.
func Open(ctx context.Context, databaseURL string, m *metrics.Registry, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindDatabasePermanent, "parse DATABASE_URL", err)
	}
	cfg.MaxConns = maxPoolConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindDatabasePermanent, "create pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, ingesterr.Wrap(ingesterr.KindDatabasePermanent, "ping database", err)
	}

	return &Store{pool: pool, metrics: m, logger: logger}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying connection pool for the migrator, which
// operates below the Store's batching/query abstractions.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// InsertBatch bulk-inserts batch using one UNNEST statement with
// array-valued parameters, skipping rows whose (device_id, ts) primary
// key already exists. It retries transient errors internally up to 5
// attempts with backoff 100*min(2^(n-1), 32) ms, incrementing
// db_failures_total on each transiently failed attempt, before surfacing the error
// (transient-after-exhaustion, or any permanent error immediately) to
// the caller, whose own outer retry budget is independent of this one.
func (s *Store) InsertBatch(ctx context.Context, batch []telemetry.Telemetry) error {
	if len(batch) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= innerMaxRetries; attempt++ {
		err := s.insertBatchOnce(ctx, batch)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return ingesterr.Wrap(ingesterr.KindDatabasePermanent, "insert batch", err)
		}
		s.metrics.DBFailuresTotal.Inc()
		if attempt == innerMaxRetries {
			break
		}

		wait := backoffMS(attempt)
		s.logger.Warn("database insert failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", innerMaxRetries),
			slog.Duration("wait", wait),
			slog.Any("err", err))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ingesterr.Wrap(ingesterr.KindDatabaseTransient, "insert batch canceled during backoff", ctx.Err())
		}
	}

	s.logger.Error("database insert failed permanently after retries",
		slog.Int("attempts", innerMaxRetries), slog.Any("err", lastErr))
	return ingesterr.Wrap(ingesterr.KindDatabaseTransient, "insert batch exhausted retries", lastErr)
}

func (s *Store) insertBatchOnce(ctx context.Context, batch []telemetry.Telemetry) error {
	deviceIDs := lo.Map(batch, func(t telemetry.Telemetry, _ int) string { return t.DeviceID })
	timestamps := lo.Map(batch, func(t telemetry.Telemetry, _ int) time.Time { return t.Timestamp })
	temperatures := lo.Map(batch, func(t telemetry.Telemetry, _ int) float64 { return t.Temperature })
	humidities := lo.Map(batch, func(t telemetry.Telemetry, _ int) float64 { return t.Humidity })
	batteries := lo.Map(batch, func(t telemetry.Telemetry, _ int) float64 { return t.Battery })

	const query = `
		INSERT INTO telemetry (device_id, ts, temperature, humidity, battery)
		SELECT * FROM UNNEST($1::text[], $2::timestamptz[], $3::float8[], $4::float8[], $5::float8[])
		ON CONFLICT (device_id, ts) DO NOTHING
	`

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	_, err := s.pool.Exec(acquireCtx, query, deviceIDs, timestamps, temperatures, humidities, batteries)
	return err
}

// QueryFilter narrows a telemetry query to spec's `/api/v1/telemetry`
// parameters. A zero value field means that filter is not applied.
type QueryFilter struct {
	DeviceID string
	Start    time.Time
	End      time.Time
	Limit    int
	Offset   int
}

// Query returns the rows matching filter, ordered by timestamp, along
// with the total count ignoring Limit/Offset, for the API's pagination
// envelope.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]telemetry.Telemetry, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.DeviceID != "" {
		where += " AND device_id = " + arg(filter.DeviceID)
	}
	if !filter.Start.IsZero() {
		where += " AND ts >= " + arg(filter.Start)
	}
	if !filter.End.IsZero() {
		where += " AND ts <= " + arg(filter.End)
	}

	var total int
	countQuery := "SELECT count(*) FROM telemetry " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, ingesterr.Wrap(ingesterr.KindDatabasePermanent, "count telemetry", err)
	}

	limitArg := arg(filter.Limit)
	offsetArg := arg(filter.Offset)
	query := fmt.Sprintf(
		"SELECT device_id, ts, temperature, humidity, battery FROM telemetry %s ORDER BY ts LIMIT %s OFFSET %s",
		where, limitArg, offsetArg,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, ingesterr.Wrap(ingesterr.KindDatabasePermanent, "query telemetry", err)
	}
	defer rows.Close()

	var out []telemetry.Telemetry
	for rows.Next() {
		var t telemetry.Telemetry
		if err := rows.Scan(&t.DeviceID, &t.Timestamp, &t.Temperature, &t.Humidity, &t.Battery); err != nil {
			return nil, 0, ingesterr.Wrap(ingesterr.KindDatabasePermanent, "scan telemetry row", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, ingesterr.Wrap(ingesterr.KindDatabasePermanent, "iterate telemetry rows", err)
	}

	return out, total, nil
}

// isTransient classifies pool timeouts/closure, I/O errors, and the
// connection-related SQLSTATE codes in transientSQLStates as
// transient; every other database error is permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, puddle.ErrClosedPool) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLStates[pgErr.Code]
	}

	return false
}

func backoffMS(attempt int) time.Duration {
	shift := attempt - 1
	if shift > innerMaxShift {
		shift = innerMaxShift
	}
	ms := innerBaseMS << uint(shift)
	return time.Duration(ms) * time.Millisecond
}
