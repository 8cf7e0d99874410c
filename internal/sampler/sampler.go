// Package sampler decides when each signal is due and turns sensor
// reads into telemetry snapshots.
//
// Environment signals (temperature, humidity, light) are read every
// environment interval and produce one snapshot each time. The soil
// probe is read far less often; its averaged value is cached and reused
// by every snapshot until the soil interval elapses again. A device that
// has never read the soil forces a soil read on the first
// environment-due tick regardless of the soil interval.
package sampler

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/anndreipopa/Floriva/internal/calibration"
	"github.com/anndreipopa/Floriva/internal/metrics"
)

// AirSensor reads temperature and humidity. valid is false when the
// read failed; temp and humidity are meaningless in that case.
type AirSensor interface {
	ReadTemperatureHumidity(ctx context.Context) (valid bool, temp, humidity float64)
}

// LightSensor reads ambient light in lux.
type LightSensor interface {
	ReadLux(ctx context.Context) (int, error)
}

// SoilSensor reads one raw soil moisture value.
type SoilSensor interface {
	ReadRawMoisture(ctx context.Context) (int, error)
}

// Sensors groups the sensor collaborators.
type Sensors struct {
	Air   AirSensor
	Light LightSensor
	Soil  SoilSensor
}

// Config holds the sampling cadences.
type Config struct {
	EnvInterval     time.Duration
	SoilInterval    time.Duration
	SoilSamples     int
	SoilSampleDelay time.Duration
}

// SoilReading is the cached soil value shared across snapshots.
type SoilReading struct {
	Raw      int  `json:"raw"`
	Percent  int  `json:"percent"`
	HasValue bool `json:"has_value"`
}

// Status is a copy of the sampler state for diagnostics.
type Status struct {
	LastEnv  time.Time   `json:"last_env"`
	LastSoil time.Time   `json:"last_soil"`
	Soil     SoilReading `json:"soil"`
}

// Sampler owns the sampling schedule and the cached soil reading. It is
// not safe for concurrent use; the control loop is its only caller.
type Sampler struct {
	cfg     Config
	sensors Sensors
	soilCal calibration.Soil
	airCal  calibration.Air
	metrics *metrics.Metrics
	logger  *slog.Logger

	lastEnv  time.Time
	lastSoil time.Time
	soil     SoilReading

	// sleep waits between soil samples. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a Sampler whose schedule starts at start: the first
// environment read happens one environment interval later.
func New(cfg Config, sensors Sensors, soilCal calibration.Soil, airCal calibration.Air, start time.Time, m *metrics.Metrics, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SoilSamples < 1 {
		cfg.SoilSamples = 1
	}
	return &Sampler{
		cfg:      cfg,
		sensors:  sensors,
		soilCal:  soilCal,
		airCal:   airCal,
		metrics:  m,
		logger:   logger,
		lastEnv:  start,
		lastSoil: start,
		sleep:    sleepCtx,
	}
}

// IsEnvDue reports whether the environment interval has elapsed.
func (s *Sampler) IsEnvDue(now time.Time) bool {
	return now.Sub(s.lastEnv) >= s.cfg.EnvInterval
}

// IsSoilDue reports whether the soil interval has elapsed, or whether
// no soil value has been read yet.
func (s *Sampler) IsSoilDue(now time.Time, hasValue bool) bool {
	return !hasValue || now.Sub(s.lastSoil) >= s.cfg.SoilInterval
}

// Soil returns the cached soil reading.
func (s *Sampler) Soil() SoilReading {
	return s.soil
}

// Status returns a copy of the schedule and the cached soil reading.
func (s *Sampler) Status() Status {
	return Status{LastEnv: s.lastEnv, LastSoil: s.lastSoil, Soil: s.soil}
}

// Sample runs the sensors that are due at now. It returns a snapshot
// and true on every environment-due tick, and false otherwise. Sensor
// failures never fail the cycle; they degrade into placeholder values.
// Due timestamps advance whether or not the reads succeed.
func (s *Sampler) Sample(ctx context.Context, now time.Time) (Snapshot, bool) {
	if !s.IsEnvDue(now) {
		return Snapshot{}, false
	}
	s.lastEnv = later(s.lastEnv, now)

	temp, humidity := s.readAir(ctx)
	lux := s.readLux(ctx)

	if s.IsSoilDue(now, s.soil.HasValue) {
		s.lastSoil = later(s.lastSoil, now)
		s.readSoil(ctx)
	}

	snap := Snapshot{
		Lux:         lux,
		Temperature: temp,
		Humidity:    humidity,
		SoilRaw:     SoilUnknown,
		SoilPercent: SoilUnknown,
	}
	if s.soil.HasValue {
		snap.SoilRaw = s.soil.Raw
		snap.SoilPercent = s.soil.Percent
	}
	return snap, true
}

func (s *Sampler) readAir(ctx context.Context) (float64, float64) {
	valid, temp, humidity := s.sensors.Air.ReadTemperatureHumidity(ctx)
	if !valid || math.IsNaN(temp) || math.IsNaN(humidity) || math.IsInf(temp, 0) || math.IsInf(humidity, 0) {
		s.logger.Warn("air sensor read invalid")
		s.metrics.SensorError("air")
		return 0, 0
	}
	return s.airCal.Temperature(temp), humidity
}

func (s *Sampler) readLux(ctx context.Context) int {
	lux, err := s.sensors.Light.ReadLux(ctx)
	if err != nil || lux < 0 {
		s.logger.Warn("light sensor read failed", "error", err)
		s.metrics.SensorError("light")
		return LuxUnavailable
	}
	return lux
}

// readSoil averages SoilSamples raw reads by integer division and
// refreshes the cached reading. Failed reads are left out of the
// average; if none succeed the cache is left untouched.
func (s *Sampler) readSoil(ctx context.Context) {
	sum, n := 0, 0
	for i := range s.cfg.SoilSamples {
		if i > 0 && !s.sleep(ctx, s.cfg.SoilSampleDelay) {
			return
		}
		raw, err := s.sensors.Soil.ReadRawMoisture(ctx)
		if err != nil {
			s.logger.Debug("soil sample failed", "sample", i, "error", err)
			continue
		}
		sum += raw
		n++
	}

	if n == 0 {
		s.logger.Warn("soil sensor read failed", "samples", s.cfg.SoilSamples)
		s.metrics.SensorError("soil")
		return
	}

	raw := sum / n
	s.soil = SoilReading{
		Raw:      raw,
		Percent:  s.soilCal.Percent(raw),
		HasValue: true,
	}
	s.metrics.SoilReading(s.soil.Raw, s.soil.Percent)
	s.logger.Info("soil moisture read",
		"raw", s.soil.Raw,
		"percent", s.soil.Percent,
		"samples", n,
	)
}

// later returns the later of prev and now so the schedule never moves
// backwards.
func later(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
