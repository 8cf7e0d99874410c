// Package hardware provides the sensor and actuator backends: a
// Raspberry Pi board driven through gobot, and a simulated board for
// development machines.
package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anndreipopa/Floriva/internal/config"
)

// Board is everything the control loop needs from the hardware.
type Board interface {
	ReadTemperatureHumidity(ctx context.Context) (valid bool, temp, humidity float64)
	ReadLux(ctx context.Context) (int, error)
	ReadRawMoisture(ctx context.Context) (int, error)
	SetPump(on bool) error
	Close() error
}

// Open creates the board selected by cfg.Driver. The pump output is
// driven off before Open returns.
func Open(cfg config.HardwareConfig, logger *slog.Logger) (Board, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "raspi":
		return OpenRaspi(cfg, logger)
	case "sim", "":
		return NewSim(uint64(time.Now().UnixNano()), logger), nil
	default:
		return nil, fmt.Errorf("unknown hardware driver %q", cfg.Driver)
	}
}

// pumpLevel returns the output level that puts the pump in the given
// state. Active-low relay boards energise on a low output.
func pumpLevel(on, activeLow bool) byte {
	if on != activeLow {
		return 1
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
