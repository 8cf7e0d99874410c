package sampler

import (
	"encoding/json"
	"strconv"
)

// LuxUnavailable is reported in place of a light reading when the light
// sensor fails.
const LuxUnavailable = -1

// SoilUnknown fills the soil fields before the first soil reading exists.
const SoilUnknown = -1

// Snapshot is one telemetry record. It is built fresh for every publish
// and never modified afterwards.
type Snapshot struct {
	Lux         int
	Temperature float64
	Humidity    float64
	SoilRaw     int
	SoilPercent int
}

// wireSnapshot is the published JSON shape. Temperature and humidity
// carry exactly one decimal.
type wireSnapshot struct {
	Lux         int         `json:"lux"`
	Temp        json.Number `json:"temp"`
	Humidity    json.Number `json:"humidity"`
	SoilRaw     int         `json:"soil_raw"`
	SoilPercent *int        `json:"soil_percent,omitempty"`
}

// Payload encodes the snapshot for the telemetry topic. withPercent
// selects between the extended record and the reduced raw-only record.
func (s Snapshot) Payload(withPercent bool) ([]byte, error) {
	w := wireSnapshot{
		Lux:      s.Lux,
		Temp:     oneDecimal(s.Temperature),
		Humidity: oneDecimal(s.Humidity),
		SoilRaw:  s.SoilRaw,
	}
	if withPercent {
		pct := s.SoilPercent
		w.SoilPercent = &pct
	}
	return json.Marshal(w)
}

// MarshalJSON encodes the extended record.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return s.Payload(true)
}

func oneDecimal(v float64) json.Number {
	return json.Number(strconv.FormatFloat(v, 'f', 1, 64))
}
