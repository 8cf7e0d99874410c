package hardware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anndreipopa/Floriva/internal/config"
)

func TestPumpLevel(t *testing.T) {
	tests := []struct {
		on, activeLow bool
		want          byte
	}{
		{on: true, activeLow: false, want: 1},
		{on: false, activeLow: false, want: 0},
		{on: true, activeLow: true, want: 0},
		{on: false, activeLow: true, want: 1},
	}
	for _, tt := range tests {
		if got := pumpLevel(tt.on, tt.activeLow); got != tt.want {
			t.Errorf("pumpLevel(on=%v, activeLow=%v) = %d, want %d", tt.on, tt.activeLow, got, tt.want)
		}
	}
}

func TestOpen_Sim(t *testing.T) {
	b, err := Open(config.HardwareConfig{Driver: "sim"}, nil)
	if err != nil {
		t.Fatalf("Open(sim) error: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*Sim); !ok {
		t.Errorf("Open(sim) returned %T, want *Sim", b)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.HardwareConfig{Driver: "arduino"}, nil); err == nil {
		t.Error("Open with unknown driver should error")
	}
}

func TestSim_ReadingsInRange(t *testing.T) {
	s := NewSim(42, nil)
	ctx := context.Background()

	for range 500 {
		valid, temp, hum := s.ReadTemperatureHumidity(ctx)
		if !valid {
			t.Fatal("simulated air read invalid")
		}
		if temp < 5 || temp > 40 {
			t.Fatalf("temperature %v out of range", temp)
		}
		if hum < 10 || hum > 95 {
			t.Fatalf("humidity %v out of range", hum)
		}
		lux, err := s.ReadLux(ctx)
		if err != nil || lux < 0 {
			t.Fatalf("ReadLux() = %d, %v", lux, err)
		}
		raw, err := s.ReadRawMoisture(ctx)
		if err != nil || raw < simSoilWet || raw > simSoilDry {
			t.Fatalf("ReadRawMoisture() = %d, %v", raw, err)
		}
	}
}

func TestSim_PumpWetsSoil(t *testing.T) {
	s := NewSim(7, nil)
	ctx := context.Background()

	before, _ := s.ReadRawMoisture(ctx)
	if err := s.SetPump(true); err != nil {
		t.Fatal(err)
	}
	var after int
	for range 20 {
		after, _ = s.ReadRawMoisture(ctx)
	}
	if after >= before {
		t.Errorf("soil raw %d after watering, want below %d", after, before)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s.PumpOn() {
		t.Error("Close() left the pump on")
	}
}

func TestSim_Deterministic(t *testing.T) {
	a, b := NewSim(99, nil), NewSim(99, nil)
	ctx := context.Background()
	for range 10 {
		_, ta, _ := a.ReadTemperatureHumidity(ctx)
		_, tb, _ := b.ReadTemperatureHumidity(ctx)
		if ta != tb {
			t.Fatalf("same seed diverged: %v != %v", ta, tb)
		}
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepCtx() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepCtx(cancelled) = %v, want context.Canceled", err)
	}
}
