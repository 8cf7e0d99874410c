package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anndreipopa/Floriva/internal/config"
)

// Availability payloads published on the availability topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Publisher is the subset of [Channel] the announcer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Announcement is one retained message published on every connect.
type Announcement struct {
	Topic   string
	Payload []byte
}

// sensorDef describes one telemetry field exposed as an HA sensor.
type sensorDef struct {
	field          string
	name           string
	deviceClass    string
	unit           string
	icon           string
	entityCategory string
}

var telemetrySensors = []sensorDef{
	{field: "temp", name: "Temperature", deviceClass: "temperature", unit: "°C"},
	{field: "humidity", name: "Humidity", deviceClass: "humidity", unit: "%"},
	{field: "lux", name: "Illuminance", deviceClass: "illuminance", unit: "lx"},
	{field: "soil_percent", name: "Soil moisture", deviceClass: "moisture", unit: "%"},
	{field: "soil_raw", name: "Soil raw", icon: "mdi:water-percent", entityCategory: "diagnostic"},
}

// Announcer builds the availability topic and the Home Assistant
// discovery configs for this device.
type Announcer struct {
	cfg        config.MQTTConfig
	withSoil   bool
	instanceID string
	device     DeviceInfo
}

// NewAnnouncer creates an announcer. withSoilPercent controls whether
// the soil moisture percentage sensor is announced; it must match what
// the telemetry payload carries.
func NewAnnouncer(cfg config.MQTTConfig, instanceID string, withSoilPercent bool) *Announcer {
	return &Announcer{
		cfg:        cfg,
		withSoil:   withSoilPercent,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
	}
}

// AvailabilityTopic returns the retained online/offline topic.
func (a *Announcer) AvailabilityTopic() string {
	return "monitor/" + a.cfg.DeviceName + "/availability"
}

// Will returns the last-will message for the channel.
func (a *Announcer) Will() *Will {
	return &Will{Topic: a.AvailabilityTopic(), Payload: []byte(PayloadOffline)}
}

// Discovery returns the retained HA discovery configs, or nil when
// discovery is disabled.
func (a *Announcer) Discovery() ([]Announcement, error) {
	prefix := strings.TrimSuffix(a.cfg.DiscoveryPrefix, "/")
	if prefix == "" {
		return nil, nil
	}
	nodeID := a.nodeID()

	var out []Announcement
	for _, s := range telemetrySensors {
		if s.field == "soil_percent" && !a.withSoil {
			continue
		}
		cfg := SensorConfig{
			Name:              s.name,
			ObjectID:          nodeID + "_" + s.field,
			HasEntityName:     true,
			UniqueID:          a.instanceID + "_" + s.field,
			StateTopic:        a.cfg.TelemetryTopic,
			AvailabilityTopic: a.AvailabilityTopic(),
			Device:            a.device,
			Icon:              s.icon,
			DeviceClass:       s.deviceClass,
			UnitOfMeasurement: s.unit,
			StateClass:        "measurement",
			ValueTemplate:     "{{ value_json." + s.field + " }}",
			EntityCategory:    s.entityCategory,
		}
		payload, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal %s sensor config: %w", s.field, err)
		}
		out = append(out, Announcement{
			Topic:   fmt.Sprintf("%s/sensor/%s/%s/config", prefix, nodeID, s.field),
			Payload: payload,
		})
	}

	sw := SwitchConfig{
		Name:              "Pump",
		ObjectID:          nodeID + "_pump",
		HasEntityName:     true,
		UniqueID:          a.instanceID + "_pump",
		CommandTopic:      a.cfg.PumpCommandTopic,
		StateTopic:        a.cfg.PumpStatusTopic,
		AvailabilityTopic: a.AvailabilityTopic(),
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            a.device,
		Icon:              "mdi:water-pump",
	}
	payload, err := json.Marshal(sw)
	if err != nil {
		return nil, fmt.Errorf("marshal pump switch config: %w", err)
	}
	out = append(out, Announcement{
		Topic:   fmt.Sprintf("%s/switch/%s/pump/config", prefix, nodeID),
		Payload: payload,
	})
	return out, nil
}

// Announce publishes the discovery configs followed by the "online"
// availability message. Called after every transition into Ready.
func (a *Announcer) Announce(ctx context.Context, pub Publisher) error {
	msgs, err := a.Discovery()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := pub.Publish(ctx, m.Topic, m.Payload, true); err != nil {
			return fmt.Errorf("publish discovery: %w", err)
		}
	}
	if err := pub.Publish(ctx, a.AvailabilityTopic(), []byte(PayloadOnline), true); err != nil {
		return fmt.Errorf("publish availability: %w", err)
	}
	return nil
}

// Retire publishes the "offline" availability message ahead of a
// graceful disconnect, which suppresses the will.
func (a *Announcer) Retire(ctx context.Context, pub Publisher) error {
	return pub.Publish(ctx, a.AvailabilityTopic(), []byte(PayloadOffline), true)
}

// nodeID is the device name reduced to characters HA accepts in topic
// and object ids.
func (a *Announcer) nodeID() string {
	var b strings.Builder
	for _, r := range strings.ToLower(a.cfg.DeviceName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "floriva"
	}
	return b.String()
}
