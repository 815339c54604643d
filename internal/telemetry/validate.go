package telemetry

import (
	"fmt"
	"math"

	"github.com/kayback/iot-ingestor/internal/ingesterr"
)

const (
	tempMin = -50.0
	tempMax = 100.0

	humidityMin = 0.0
	humidityMax = 100.0

	batteryMin = 0.0
	batteryMax = 100.0
)

// Validate checks a Telemetry record against every constraint in the
// data model: non-empty device ID, and temperature/humidity/battery
// within their closed ranges. NaN and +/-Inf are rejected as
// out-of-range rather than causing a panic or comparison surprise.
// Checks run in a fixed order but callers must not depend on which
// check fires first for a record that fails more than one.
func Validate(t Telemetry) error {
	if t.DeviceID == "" {
		return ingesterr.New(ingesterr.KindValidation, "device_id must not be empty")
	}
	if !inRange(t.Temperature, tempMin, tempMax) {
		return ingesterr.New(ingesterr.KindValidation, fmt.Sprintf(
			"temperature %v out of range [%v, %v]", t.Temperature, tempMin, tempMax))
	}
	if !inRange(t.Humidity, humidityMin, humidityMax) {
		return ingesterr.New(ingesterr.KindValidation, fmt.Sprintf(
			"humidity %v out of range [%v, %v]", t.Humidity, humidityMin, humidityMax))
	}
	if !inRange(t.Battery, batteryMin, batteryMax) {
		return ingesterr.New(ingesterr.KindValidation, fmt.Sprintf(
			"battery %v out of range [%v, %v]", t.Battery, batteryMin, batteryMax))
	}
	return nil
}

// inRange rejects NaN and +/-Inf along with anything outside [lo, hi].
// A direct lo <= x && x <= hi comparison already rejects NaN (every
// comparison with NaN is false) but infinities pass the bound check
// only when a bound is itself infinite, which ours never are; this is
// spelled out explicitly so the behavior doesn't depend on that subtlety.
func inRange(x, lo, hi float64) bool {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return false
	}
	return x >= lo && x <= hi
}
