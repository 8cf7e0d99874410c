package hardware

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
)

// Sim is a simulated board. Readings follow a bounded random walk and
// the soil probe slowly reads wetter while the pump runs.
type Sim struct {
	logger *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	temp     float64
	humidity float64
	lux      int
	soilRaw  float64
	pumpOn   bool
}

// Simulated soil drifts within this raw ADC window.
const (
	simSoilWet = 2100
	simSoilDry = 3100
)

// NewSim creates a simulated board seeded with seed.
func NewSim(seed uint64, logger *slog.Logger) *Sim {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("simulated hardware in use")
	return &Sim{
		logger:   logger,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		temp:     23.0,
		humidity: 50.0,
		lux:      300,
		soilRaw:  2800,
	}
}

func (s *Sim) ReadTemperatureHumidity(context.Context) (bool, float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temp = clamp(s.temp+s.step(0.2), 5, 40)
	s.humidity = clamp(s.humidity+s.step(0.5), 10, 95)
	return true, s.temp, s.humidity
}

func (s *Sim) ReadLux(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lux = int(clamp(float64(s.lux)+s.step(25), 0, 20000))
	return s.lux, nil
}

func (s *Sim) ReadRawMoisture(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drift := 0.5
	if s.pumpOn {
		drift = -15
	}
	s.soilRaw = clamp(s.soilRaw+drift+s.step(3), simSoilWet, simSoilDry)
	return int(s.soilRaw), nil
}

func (s *Sim) SetPump(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pumpOn != on {
		s.logger.Debug("simulated pump switched", "on", on)
	}
	s.pumpOn = on
	return nil
}

// PumpOn reports the simulated pump output.
func (s *Sim) PumpOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pumpOn
}

func (s *Sim) Close() error {
	return s.SetPump(false)
}

// step returns a uniform value in [-max, max]. Must be called with
// s.mu held.
func (s *Sim) step(max float64) float64 {
	return (s.rng.Float64()*2 - 1) * max
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
