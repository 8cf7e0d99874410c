// Package control runs the device's single-threaded control loop.
//
// Every tick advances the connectivity supervisor by one step and,
// once the broker session is ready, drains queued commands into the
// pump before sampling and publishing telemetry. Commands received in
// a tick are therefore applied before that tick's telemetry goes out.
// Commands still queued when the session is lost are discarded.
package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/anndreipopa/Floriva/internal/command"
	"github.com/anndreipopa/Floriva/internal/config"
	"github.com/anndreipopa/Floriva/internal/connectivity"
	"github.com/anndreipopa/Floriva/internal/diag"
	"github.com/anndreipopa/Floriva/internal/events"
	"github.com/anndreipopa/Floriva/internal/metrics"
	"github.com/anndreipopa/Floriva/internal/mqtt"
	"github.com/anndreipopa/Floriva/internal/sampler"
)

const (
	// publishTimeout bounds retained publishes made outside a tick.
	publishTimeout = 5 * time.Second
	// shutdownTimeout bounds the goodbye messages on shutdown.
	shutdownTimeout = 5 * time.Second
)

// Channel is the broker session as seen by the loop.
type Channel interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	Close()
}

// Config holds the loop's topics and cadence.
type Config struct {
	TelemetryTopic  string
	PumpStatusTopic string
	// WithSoilPercent selects the extended telemetry record.
	WithSoilPercent bool
	// Tick is the loop period (default: 100ms).
	Tick time.Duration
}

// Deps are the components the loop drives. Announcer, Board and Bus
// are optional.
type Deps struct {
	Supervisor *connectivity.Supervisor
	Sampler    *sampler.Sampler
	Inbox      *mqtt.Inbox
	Dispatcher *command.Dispatcher
	Pump       *command.Pump
	Channel    Channel
	Announcer  *mqtt.Announcer
	Board      *diag.Board
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Loop is the control loop. It is not safe for concurrent use; Run
// drives it from a single goroutine.
type Loop struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	published   int
	lastPublish time.Time
	lastSnap    *sampler.Snapshot
}

// New creates a loop. It installs itself as the pump's change hook.
func New(cfg Config, deps Deps) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
	deps.Pump.OnChange = l.onPumpChange
	return l
}

// Run ticks until ctx is cancelled, then shuts down.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()

	l.logger.Info("control loop started", "tick", l.cfg.Tick.String())
	l.Tick(ctx, l.now())
	for {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			l.Shutdown(sctx)
			cancel()
			return nil
		case <-ticker.C:
			l.Tick(ctx, l.now())
		}
	}
}

// Tick runs one loop iteration at now.
func (l *Loop) Tick(ctx context.Context, now time.Time) {
	defer l.updateBoard()

	prev := l.deps.Supervisor.State()
	state := l.deps.Supervisor.Advance(ctx, now)
	if state != prev {
		l.deps.Bus.Publish(events.Event{
			Timestamp: now,
			Source:    events.SourceConnectivity,
			Kind:      events.KindStateChange,
			Data:      map[string]any{"from": prev.String(), "to": state.String()},
		})
	}
	if state != connectivity.Ready {
		// Queued commands die with the session that delivered them.
		if n := l.deps.Inbox.Discard(); n > 0 {
			l.logger.Warn("inbound messages discarded without a ready session",
				"count", n,
				"state", state.String(),
			)
		}
		return
	}

	for _, m := range l.deps.Inbox.Drain() {
		l.deps.Dispatcher.OnMessage(m.Topic, m.Payload)
	}

	snap, ok := l.deps.Sampler.Sample(ctx, now)
	if !ok {
		return
	}
	l.publishTelemetry(ctx, now, snap)
}

func (l *Loop) publishTelemetry(ctx context.Context, now time.Time, snap sampler.Snapshot) {
	payload, err := snap.Payload(l.cfg.WithSoilPercent)
	if err != nil {
		l.logger.Error("encode telemetry", "error", err)
		return
	}

	err = l.deps.Channel.Publish(ctx, l.cfg.TelemetryTopic, payload, false)
	l.deps.Metrics.Published(err)
	if err != nil {
		l.logger.Warn("telemetry publish failed", "topic", l.cfg.TelemetryTopic, "error", err)
		l.deps.Bus.Publish(events.Event{
			Timestamp: now,
			Source:    events.SourceControl,
			Kind:      events.KindPublishFailed,
			Data:      map[string]any{"error": err.Error()},
		})
		return
	}

	l.published++
	l.lastPublish = now
	l.lastSnap = &snap
	l.logger.Log(ctx, config.LevelTrace, "telemetry published", "payload", string(payload))

	data := map[string]any{
		"lux":      snap.Lux,
		"temp":     snap.Temperature,
		"humidity": snap.Humidity,
		"soil_raw": snap.SoilRaw,
	}
	if l.cfg.WithSoilPercent {
		data["soil_percent"] = snap.SoilPercent
	}
	l.deps.Bus.Publish(events.Event{
		Timestamp: now,
		Source:    events.SourceControl,
		Kind:      events.KindTelemetry,
		Data:      data,
	})
}

// OnReady publishes the birth messages after every (re-)connect. It is
// meant to be the supervisor's OnReady hook.
func (l *Loop) OnReady(ctx context.Context) {
	if l.deps.Announcer != nil {
		if err := l.deps.Announcer.Announce(ctx, l.deps.Channel); err != nil {
			l.logger.Warn("announce failed", "error", err)
		}
	}
	l.publishPumpStatus(ctx, l.deps.Pump.On())
}

func (l *Loop) onPumpChange(on bool) {
	l.deps.Bus.Publish(events.Event{
		Timestamp: l.now(),
		Source:    events.SourcePump,
		Kind:      events.KindPumpChanged,
		Data:      map[string]any{"on": on},
	})
	if !l.deps.Supervisor.Ready() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	l.publishPumpStatus(ctx, on)
}

func (l *Loop) publishPumpStatus(ctx context.Context, on bool) {
	if l.cfg.PumpStatusTopic == "" {
		return
	}
	if err := l.deps.Channel.Publish(ctx, l.cfg.PumpStatusTopic, command.StatePayload(on), true); err != nil {
		l.logger.Warn("pump status publish failed", "error", err)
	}
}

// Shutdown switches the pump off, marks the device offline and closes
// the broker session.
func (l *Loop) Shutdown(ctx context.Context) {
	if err := l.deps.Pump.Set(false); err != nil {
		l.logger.Error("pump off on shutdown failed", "error", err)
	}
	if l.deps.Supervisor.Ready() && l.deps.Announcer != nil {
		if err := l.deps.Announcer.Retire(ctx, l.deps.Channel); err != nil {
			l.logger.Warn("offline announcement failed", "error", err)
		}
	}
	l.deps.Channel.Close()
	l.updateBoard()
	l.logger.Info("control loop stopped", "published", l.published)
}

// Published returns the number of telemetry snapshots published.
func (l *Loop) Published() int {
	return l.published
}

func (l *Loop) updateBoard() {
	if l.deps.Board == nil {
		return
	}
	conn := l.deps.Supervisor.Status()
	samp := l.deps.Sampler.Status()
	pump := l.deps.Pump.Status()
	l.deps.Board.Update(func(st *diag.Status) {
		st.Connectivity = conn
		st.Sampler = samp
		st.Pump = pump
		st.LastSnapshot = l.lastSnap
		st.LastPublish = l.lastPublish
		st.Published = l.published
	})
}
