package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/anndreipopa/Floriva/internal/config"
)

type driver interface {
	Start() error
	Halt() error
}

// Raspi is a Raspberry Pi with an SHT2x air sensor and a BH1750 light
// sensor on I2C, a capacitive soil probe behind an ADS1115 ADC whose
// supply is switched by a GPIO, and a relay-driven pump.
type Raspi struct {
	cfg    config.HardwareConfig
	logger *slog.Logger

	adaptor   *raspi.Adaptor
	air       *i2c.SHT2xDriver
	light     *i2c.BH1750Driver
	adc       *i2c.ADS1x15Driver
	soilPower *gpio.DirectPinDriver
	pump      *gpio.RelayDriver
	drivers   []driver

	mu sync.Mutex
}

// OpenRaspi connects the adaptor, starts every driver and switches the
// pump off.
func OpenRaspi(cfg config.HardwareConfig, logger *slog.Logger) (*Raspi, error) {
	r := raspi.NewAdaptor()
	if err := r.Connect(); err != nil {
		return nil, fmt.Errorf("connect raspi adaptor: %w", err)
	}

	b := &Raspi{
		cfg:       cfg,
		logger:    logger,
		adaptor:   r,
		air:       i2c.NewSHT2xDriver(r),
		light:     i2c.NewBH1750Driver(r),
		adc:       i2c.NewADS1115Driver(r),
		soilPower: gpio.NewDirectPinDriver(r, cfg.SoilPowerPin),
		pump:      gpio.NewRelayDriver(r, cfg.PumpPin),
	}
	b.drivers = []driver{b.air, b.light, b.adc, b.soilPower, b.pump}

	for _, d := range b.drivers {
		if err := d.Start(); err != nil {
			b.Close()
			return nil, fmt.Errorf("start driver: %w", err)
		}
	}
	if err := b.SetPump(false); err != nil {
		b.Close()
		return nil, fmt.Errorf("initialise pump: %w", err)
	}
	if err := b.soilPower.DigitalWrite(0); err != nil {
		b.logger.Warn("soil sensor power off failed", "error", err)
	}

	logger.Info("raspi board ready",
		"pump_pin", cfg.PumpPin,
		"pump_active_low", cfg.PumpInverted(),
		"soil_power_pin", cfg.SoilPowerPin,
		"soil_adc_channel", cfg.SoilADCChannel,
	)
	return b, nil
}

// ReadTemperatureHumidity reads the SHT2x.
func (b *Raspi) ReadTemperatureHumidity(context.Context) (bool, float64, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	temp, err := b.air.Temperature()
	if err != nil {
		b.logger.Debug("sht2x temperature read failed", "error", err)
		return false, 0, 0
	}
	hum, err := b.air.Humidity()
	if err != nil {
		b.logger.Debug("sht2x humidity read failed", "error", err)
		return false, 0, 0
	}
	return true, float64(temp), float64(hum)
}

// ReadLux reads the BH1750.
func (b *Raspi) ReadLux(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lux, err := b.light.Lux()
	if err != nil {
		return 0, fmt.Errorf("bh1750: %w", err)
	}
	return lux, nil
}

// ReadRawMoisture powers the probe, waits for it to settle, samples
// the ADC channel and powers the probe down again.
func (b *Raspi) ReadRawMoisture(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.soilPower.DigitalWrite(1); err != nil {
		return 0, fmt.Errorf("soil sensor power on: %w", err)
	}
	defer func() {
		if err := b.soilPower.DigitalWrite(0); err != nil {
			b.logger.Warn("soil sensor power off failed", "error", err)
		}
	}()

	if err := sleepCtx(ctx, b.cfg.SoilSettle); err != nil {
		return 0, err
	}
	raw, err := b.adc.AnalogRead(b.cfg.SoilADCChannel)
	if err != nil {
		return 0, fmt.Errorf("ads1115 channel %s: %w", b.cfg.SoilADCChannel, err)
	}
	return raw, nil
}

// SetPump drives the relay, honouring the board's polarity.
func (b *Raspi) SetPump(on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pumpLevel(on, b.cfg.PumpInverted()) == 1 {
		return b.pump.On()
	}
	return b.pump.Off()
}

// Close switches the pump off, halts the drivers and releases the
// adaptor.
func (b *Raspi) Close() error {
	var errs []error
	if err := b.SetPump(false); err != nil {
		errs = append(errs, fmt.Errorf("pump off: %w", err))
	}
	for _, d := range b.drivers {
		if err := d.Halt(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.adaptor.Finalize(); err != nil {
		errs = append(errs, fmt.Errorf("finalize adaptor: %w", err))
	}
	return errors.Join(errs...)
}
