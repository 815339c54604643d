package simulator

import (
	"testing"

	"github.com/kayback/iot-ingestor/internal/telemetry"
)

func TestNextRotatesThroughDevices(t *testing.T) {
	g := NewGenerator(Config{Devices: 3}, 1)

	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		seen[g.Next().DeviceID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected exactly 3 distinct device IDs, got %d: %v", len(seen), seen)
	}
}

func TestNextProducesValidReadingsWithZeroInvalidFraction(t *testing.T) {
	g := NewGenerator(Config{Devices: 5, InvalidFraction: 0}, 2)

	for i := 0; i < 200; i++ {
		r := g.Next()
		if err := telemetry.Validate(r); err != nil {
			t.Fatalf("expected valid reading with invalid fraction 0, got %v: %+v", err, r)
		}
	}
}

func TestNextProducesInvalidReadingsWithFullInvalidFraction(t *testing.T) {
	g := NewGenerator(Config{Devices: 5, InvalidFraction: 1}, 3)

	for i := 0; i < 200; i++ {
		r := g.Next()
		if err := telemetry.Validate(r); err == nil {
			t.Fatalf("expected invalid reading with invalid fraction 1, got valid record: %+v", r)
		}
	}
}

func TestTopicMatchesDeviceID(t *testing.T) {
	r := telemetry.Telemetry{DeviceID: "dev-7"}
	if got, want := Topic(r), "telemetry/dev-7"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
