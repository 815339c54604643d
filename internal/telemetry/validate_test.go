package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/kayback/iot-ingestor/internal/ingesterr"
)

func validRecord() Telemetry {
	return Telemetry{
		DeviceID:    "dev-1",
		Timestamp:   time.Now().UTC(),
		Temperature: 25.0,
		Humidity:    60.0,
		Battery:     80.0,
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := Validate(validRecord()); err != nil {
		t.Fatalf("expected valid record to pass, got %v", err)
	}
}

func TestValidateRejectsEmptyDeviceID(t *testing.T) {
	r := validRecord()
	r.DeviceID = ""
	if err := Validate(r); err == nil {
		t.Fatal("expected error for empty device_id")
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Telemetry)
	}{
		{"temp high", func(r *Telemetry) { r.Temperature = 150.0 }},
		{"temp low", func(r *Telemetry) { r.Temperature = -50.0001 }},
		{"humidity high", func(r *Telemetry) { r.Humidity = 150.0 }},
		{"humidity low", func(r *Telemetry) { r.Humidity = -0.1 }},
		{"battery high", func(r *Telemetry) { r.Battery = 101.0 }},
		{"battery low", func(r *Telemetry) { r.Battery = -1.0 }},
		{"temp NaN", func(r *Telemetry) { r.Temperature = math.NaN() }},
		{"temp +Inf", func(r *Telemetry) { r.Temperature = math.Inf(1) }},
		{"temp -Inf", func(r *Telemetry) { r.Temperature = math.Inf(-1) }},
		{"humidity NaN", func(r *Telemetry) { r.Humidity = math.NaN() }},
		{"battery NaN", func(r *Telemetry) { r.Battery = math.NaN() }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRecord()
			tc.mod(&r)
			err := Validate(r)
			if err == nil {
				t.Fatalf("expected rejection for %s", tc.name)
			}
			if ingesterr.KindOf(err) != ingesterr.KindValidation {
				t.Fatalf("expected KindValidation, got %v", ingesterr.KindOf(err))
			}
		})
	}
}

func TestValidateBoundaryAccepted(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Telemetry)
	}{
		{"temp at min", func(r *Telemetry) { r.Temperature = -50.0 }},
		{"temp at max", func(r *Telemetry) { r.Temperature = 100.0 }},
		{"humidity at min", func(r *Telemetry) { r.Humidity = 0.0 }},
		{"humidity at max", func(r *Telemetry) { r.Humidity = 100.0 }},
		{"battery at min", func(r *Telemetry) { r.Battery = 0.0 }},
		{"battery at max", func(r *Telemetry) { r.Battery = 100.0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRecord()
			tc.mod(&r)
			if err := Validate(r); err != nil {
				t.Fatalf("expected boundary value to be accepted, got %v", err)
			}
		})
	}
}

func TestValidateNeverPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Validate panicked: %v", r)
		}
	}()
	inputs := []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -1e308, 1e308}
	for _, temp := range inputs {
		for _, hum := range inputs {
			for _, bat := range inputs {
				r := validRecord()
				r.Temperature, r.Humidity, r.Battery = temp, hum, bat
				_ = Validate(r)
			}
		}
	}
}
