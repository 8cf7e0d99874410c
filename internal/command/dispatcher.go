// Package command turns inbound MQTT messages into pump actions.
package command

import (
	"log/slog"

	"github.com/anndreipopa/Floriva/internal/metrics"
)

// Recognised command payloads. Matching is exact and case-sensitive.
const (
	CommandOn  = "ON"
	CommandOff = "OFF"
)

// Dispatcher routes inbound messages on the pump command topic to the
// pump. Everything else is ignored; nothing is acknowledged.
type Dispatcher struct {
	topic   string
	pump    *Pump
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher for the given command topic.
func NewDispatcher(topic string, pump *Pump, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{topic: topic, pump: pump, metrics: m, logger: logger}
}

// OnMessage applies one inbound message.
func (d *Dispatcher) OnMessage(topic string, payload []byte) {
	if topic != d.topic {
		d.logger.Debug("message on unrelated topic ignored", "topic", topic)
		return
	}

	var on bool
	switch string(payload) {
	case CommandOn:
		on = true
	case CommandOff:
	default:
		d.metrics.PumpCommand("unknown")
		d.logger.Debug("unrecognised pump command dropped",
			"payload_size", len(payload),
		)
		return
	}

	d.metrics.PumpCommand(string(payload))
	if err := d.pump.Set(on); err != nil {
		d.logger.Error("pump command failed", "command", string(payload), "error", err)
	}
}
