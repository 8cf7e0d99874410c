package mqtt

import (
	"os"

	"github.com/google/uuid"

	"github.com/anndreipopa/Floriva/internal/buildinfo"
)

// DeviceInfo holds the Home Assistant device registry fields shared
// across all MQTT discovery config payloads. Every entity published by
// this device references the same device block so HA groups them under
// a single device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message.
type SensorConfig struct {
	Name              string     `json:"name"`
	ObjectID          string     `json:"object_id,omitempty"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	ValueTemplate     string     `json:"value_template,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// SwitchConfig is the JSON payload for an HA MQTT switch discovery
// message. The pump is exposed as a switch bound to the command and
// status topics.
type SwitchConfig struct {
	Name              string     `json:"name"`
	ObjectID          string     `json:"object_id,omitempty"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	CommandTopic      string     `json:"command_topic"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	PayloadOn         string     `json:"payload_on"`
	PayloadOff        string     `json:"payload_off"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
}

// NewDeviceInfo creates a DeviceInfo from the instance ID and the
// human-readable device name.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "Floriva",
		Model:        "Plant Monitor",
		SWVersion:    buildinfo.SoftwareVersion(),
	}
}

// InstanceID derives a stable device identifier from the host name and
// the configured device name. Nothing is written to disk; the same host
// and name always yield the same id, so HA entity history survives
// restarts.
func InstanceID(deviceName string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return instanceID(host, deviceName)
}

func instanceID(host, deviceName string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(host+"/"+deviceName)).String()
}
