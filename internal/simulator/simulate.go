// Package simulator generates synthetic telemetry for load and soak
// testing of the ingestion pipeline, grounded on the reference
// simulator's device rotation and outlier-injection scheme.
package simulator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/kayback/iot-ingestor/internal/telemetry"
)

// Config controls the shape of generated traffic.
type Config struct {
	Devices         int
	InvalidFraction float64 // fraction of readings pushed out of the validator's accepted range
}

// Generator produces telemetry readings that rotate across Config.Devices
// device IDs, occasionally emitting an out-of-range reading so the
// validator's rejection path gets exercised end to end.
type Generator struct {
	cfg     Config
	rng     *rand.Rand
	counter uint64
}

// NewGenerator builds a Generator seeded from seed, so a run can be
// made reproducible when needed.
func NewGenerator(cfg Config, seed int64) *Generator {
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Next produces the next reading in device-rotation order.
func (g *Generator) Next() telemetry.Telemetry {
	deviceID := fmt.Sprintf("dev-%d", g.counter%uint64(g.cfg.Devices))
	g.counter++

	invalid := g.rng.Float64() < g.cfg.InvalidFraction

	return telemetry.Telemetry{
		DeviceID:    deviceID,
		Timestamp:   time.Now().UTC(),
		Temperature: g.sample(invalid, 15.0, 35.0, -50.0, 100.0),
		Humidity:    g.sample(invalid, 30.0, 80.0, 0.0, 100.0),
		Battery:     g.sample(invalid, 20.0, 100.0, 0.0, 100.0),
	}
}

// sample returns a value in [lo,hi) for a normal reading. For an
// invalid reading it returns a value strictly outside [validMin,
// validMax] — the validator's accepted range — so injected readings
// are guaranteed to fail Validate rather than landing inside it by
// chance.
func (g *Generator) sample(invalid bool, lo, hi, validMin, validMax float64) float64 {
	if !invalid {
		return lo + g.rng.Float64()*(hi-lo)
	}
	span := validMax - validMin
	if g.rng.Float64() < 0.5 {
		return validMin - 1 - g.rng.Float64()*span
	}
	return validMax + 1 + g.rng.Float64()*span
}

// Topic returns the publish topic for a reading, matching the
// consumer's telemetry/# subscription.
func Topic(t telemetry.Telemetry) string {
	return "telemetry/" + t.DeviceID
}
