package command

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anndreipopa/Floriva/internal/metrics"
)

// Actuator drives the physical pump output.
type Actuator interface {
	SetPump(on bool) error
}

// PumpStatus is a point-in-time view of the pump for diagnostics.
type PumpStatus struct {
	On        bool          `json:"on"`
	Changed   time.Time     `json:"changed"`
	Commands  int           `json:"commands"`
	RunToday  time.Duration `json:"run_today_ns"`
	LastError string        `json:"last_error,omitempty"`
}

// Pump owns the pump's logical state. Reads may come from the
// diagnostics goroutine while the control loop writes, so state is
// guarded by a mutex.
type Pump struct {
	act     Actuator
	runtime *DailyRuntime
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// OnChange, if set, is called after every applied command with the
	// resulting state. It runs on the caller's goroutine.
	OnChange func(on bool)

	mu       sync.Mutex
	on       bool
	changed  time.Time
	commands int
	lastErr  error
}

// NewPump wraps act. The pump is assumed to be off: the hardware
// layer drives the output off at startup.
func NewPump(act Actuator, m *metrics.Metrics, logger *slog.Logger) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	m.PumpState(false)
	return &Pump{
		act:     act,
		runtime: NewDailyRuntime(nil, now),
		metrics: m,
		logger:  logger,
		now:     time.Now,
		changed: now,
	}
}

// Set drives the actuator. On failure the logical state is left
// unchanged and the error is returned.
func (p *Pump) Set(on bool) error {
	if err := p.act.SetPump(on); err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return fmt.Errorf("set pump %s: %w", stateName(on), err)
	}

	now := p.now()
	p.mu.Lock()
	if p.on != on {
		p.changed = now
	}
	p.on = on
	p.commands++
	p.lastErr = nil
	p.mu.Unlock()

	p.runtime.Record(on, now)
	p.metrics.PumpState(on)
	p.logger.Info("pump set", "state", stateName(on))

	if p.OnChange != nil {
		p.OnChange(on)
	}
	return nil
}

// On reports the last successfully applied state.
func (p *Pump) On() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// Status returns a copy of the pump state.
func (p *Pump) Status() PumpStatus {
	now := p.now()
	p.mu.Lock()
	st := PumpStatus{
		On:       p.on,
		Changed:  p.changed,
		Commands: p.commands,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	p.mu.Unlock()
	st.RunToday = p.runtime.Today(now)
	return st
}

// StatePayload is the retained status topic payload for a state.
func StatePayload(on bool) []byte {
	return []byte(stateName(on))
}

func stateName(on bool) string {
	if on {
		return CommandOn
	}
	return CommandOff
}
