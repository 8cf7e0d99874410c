// Package calibration maps raw sensor units to calibrated values.
//
// The soil probe reports a capacitive reading where a higher value means
// drier soil. Two endpoints measured in air-dry and saturated soil
// define the 0% and 100% moisture points; anything between is mapped
// linearly and anything outside is clamped.
package calibration

import (
	"errors"
	"fmt"
)

// ErrInvalidCalibration is returned by [New] when the endpoints cannot
// produce a valid mapping.
var ErrInvalidCalibration = errors.New("invalid soil calibration")

// Soil holds the raw endpoints of the soil moisture probe. DryRaw is
// always strictly greater than WetRaw once built with [New].
type Soil struct {
	DryRaw int
	WetRaw int
}

// New validates the endpoints and returns a Soil calibration. Equal
// endpoints would divide by zero and inverted endpoints would map wet
// soil to 0%, so both are rejected.
func New(dryRaw, wetRaw int) (Soil, error) {
	if dryRaw == wetRaw {
		return Soil{}, fmt.Errorf("%w: dry and wet endpoints are both %d", ErrInvalidCalibration, dryRaw)
	}
	if dryRaw < wetRaw {
		return Soil{}, fmt.Errorf("%w: dry endpoint %d below wet endpoint %d", ErrInvalidCalibration, dryRaw, wetRaw)
	}
	return Soil{DryRaw: dryRaw, WetRaw: wetRaw}, nil
}

// Percent maps a raw reading to a moisture percentage in [0,100]. The
// result is truncated toward zero, never rounded.
func (s Soil) Percent(raw int) int {
	raw = min(max(raw, s.WetRaw), s.DryRaw)

	pct := float64(s.DryRaw-raw) / float64(s.DryRaw-s.WetRaw) * 100
	pct = min(max(pct, 0), 100)

	return int(pct)
}

// Air holds the air sensor correction applied to valid readings.
type Air struct {
	// TempOffset is added to the measured temperature. SHT2x boards
	// mounted near the regulator read warm.
	TempOffset float64
}

// Temperature returns the corrected temperature.
func (a Air) Temperature(measured float64) float64 {
	return measured + a.TempOffset
}
