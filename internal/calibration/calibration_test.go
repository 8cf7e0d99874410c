package calibration

import (
	"errors"
	"math"
	"testing"
)

func mustSoil(t *testing.T, dry, wet int) Soil {
	t.Helper()
	s, err := New(dry, wet)
	if err != nil {
		t.Fatalf("New(%d, %d) error = %v", dry, wet, err)
	}
	return s
}

func TestNew_RejectsBadEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		dry, wet int
	}{
		{"equal", 2500, 2500},
		{"inverted", 2200, 3020},
		{"both zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.dry, tt.wet)
			if !errors.Is(err, ErrInvalidCalibration) {
				t.Errorf("New(%d, %d) error = %v, want ErrInvalidCalibration", tt.dry, tt.wet, err)
			}
		})
	}
}

func TestSoilPercent_ReferencePoints(t *testing.T) {
	s := mustSoil(t, 3020, 2200)

	tests := []struct {
		raw  int
		want int
	}{
		{3020, 0},
		{2200, 100},
		{2610, 50},
		{4000, 0},
		{0, 100},
		{-5000, 100},
		{math.MaxInt32, 0},
		{3019, 0},  // 0.12% truncates to 0
		{2201, 99}, // 99.87% truncates to 99
	}
	for _, tt := range tests {
		if got := s.Percent(tt.raw); got != tt.want {
			t.Errorf("Percent(%d) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestSoilPercent_Endpoints(t *testing.T) {
	for _, c := range [][2]int{{3020, 2200}, {1, 0}, {65535, 0}, {-10, -400}} {
		s := mustSoil(t, c[0], c[1])
		if got := s.Percent(s.DryRaw); got != 0 {
			t.Errorf("%+v: Percent(dry) = %d, want 0", s, got)
		}
		if got := s.Percent(s.WetRaw); got != 100 {
			t.Errorf("%+v: Percent(wet) = %d, want 100", s, got)
		}
	}
}

func TestSoilPercent_MonotonicNonIncreasing(t *testing.T) {
	s := mustSoil(t, 3020, 2200)

	prev := s.Percent(s.WetRaw)
	for raw := s.WetRaw + 1; raw <= s.DryRaw; raw++ {
		got := s.Percent(raw)
		if got > prev {
			t.Fatalf("Percent(%d) = %d > Percent(%d) = %d", raw, got, raw-1, prev)
		}
		prev = got
	}
}

func TestSoilPercent_AlwaysInRange(t *testing.T) {
	s := mustSoil(t, 3020, 2200)
	for raw := -100000; raw <= 100000; raw += 7 {
		got := s.Percent(raw)
		if got < 0 || got > 100 {
			t.Fatalf("Percent(%d) = %d, outside [0,100]", raw, got)
		}
	}
}

func TestAirTemperature(t *testing.T) {
	a := Air{TempOffset: -1.2}
	if got := a.Temperature(25.0); math.Abs(got-23.8) > 1e-9 {
		t.Errorf("Temperature(25.0) = %v, want 23.8", got)
	}
}
