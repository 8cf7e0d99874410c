// Package metrics exposes Prometheus instruments for the control loop.
//
// All methods are safe to call on a nil *Metrics so components can be
// built without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the registered instruments.
type Metrics struct {
	sensorErrors    *prometheus.CounterVec
	published       prometheus.Counter
	publishErrors   prometheus.Counter
	connState       prometheus.Gauge
	reconnects      *prometheus.CounterVec
	pumpCommands    *prometheus.CounterVec
	pumpOn          prometheus.Gauge
	soilRaw         prometheus.Gauge
	soilPercent     prometheus.Gauge
	inboundDropped  prometheus.Counter
	inboundReceived prometheus.Counter
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sensorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floriva_sensor_errors_total",
			Help: "Sensor reads that failed and were replaced by placeholder values.",
		}, []string{"sensor"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floriva_telemetry_published_total",
			Help: "Telemetry snapshots handed to the broker.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floriva_telemetry_publish_errors_total",
			Help: "Telemetry snapshots the broker connection rejected.",
		}),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floriva_connection_state",
			Help: "Connectivity state: 0 disconnected, 1 network connecting, 2 network up, 3 channel connecting, 4 ready.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floriva_connect_attempts_total",
			Help: "Network association and broker connect attempts by outcome.",
		}, []string{"stage", "outcome"}),
		pumpCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floriva_pump_commands_total",
			Help: "Inbound pump commands by recognised value.",
		}, []string{"command"}),
		pumpOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floriva_pump_on",
			Help: "1 while the pump is running.",
		}),
		soilRaw: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floriva_soil_raw",
			Help: "Last averaged raw soil moisture reading.",
		}),
		soilPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floriva_soil_percent",
			Help: "Last calibrated soil moisture percentage.",
		}),
		inboundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floriva_inbound_dropped_total",
			Help: "Inbound MQTT messages dropped by the rate limit or a full inbox.",
		}),
		inboundReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floriva_inbound_received_total",
			Help: "Inbound MQTT messages accepted into the inbox.",
		}),
	}

	reg.MustRegister(
		m.sensorErrors, m.published, m.publishErrors, m.connState,
		m.reconnects, m.pumpCommands, m.pumpOn, m.soilRaw, m.soilPercent,
		m.inboundDropped, m.inboundReceived,
	)
	return m
}

// SensorError counts a failed read of the named sensor.
func (m *Metrics) SensorError(sensor string) {
	if m == nil {
		return
	}
	m.sensorErrors.WithLabelValues(sensor).Inc()
}

// Published counts a telemetry publish attempt.
func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishErrors.Inc()
		return
	}
	m.published.Inc()
}

// ConnectionState records the numeric connectivity state.
func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connState.Set(float64(state))
}

// ConnectAttempt counts a connect attempt at stage ("network" or
// "channel").
func (m *Metrics) ConnectAttempt(stage string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.reconnects.WithLabelValues(stage, outcome).Inc()
}

// PumpCommand counts an inbound command. Unrecognised payloads are
// counted as "ignored".
func (m *Metrics) PumpCommand(command string) {
	if m == nil {
		return
	}
	m.pumpCommands.WithLabelValues(command).Inc()
}

// PumpState records whether the pump is running.
func (m *Metrics) PumpState(on bool) {
	if m == nil {
		return
	}
	if on {
		m.pumpOn.Set(1)
		return
	}
	m.pumpOn.Set(0)
}

// SoilReading records the cached soil values.
func (m *Metrics) SoilReading(raw, percent int) {
	if m == nil {
		return
	}
	m.soilRaw.Set(float64(raw))
	m.soilPercent.Set(float64(percent))
}

// Inbound counts an inbound message as accepted or dropped.
func (m *Metrics) Inbound(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.inboundReceived.Inc()
		return
	}
	m.inboundDropped.Inc()
}
