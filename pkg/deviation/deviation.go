// Package deviation validates field measurements against approved engineering
// baselines using fixed statistical thresholds.
package deviation

import (
	"math"
	"time"
)

// Classification grades one measurement against its baseline.
type Classification string

const (
	ClassOK       Classification = "OK"
	ClassAlert    Classification = "ALERT"
	ClassCritical Classification = "CRITICAL"
)

// Deviation thresholds are fixed relative bounds; only strictly greater
// deviations trip them. Pressure has no tolerance band: any exceedance of the
// allowed maximum is a hard safety override straight to CRITICAL.
const (
	VolumeAlertThreshold     = 0.10
	VolumeCriticalThreshold  = 0.20
	DensityAlertThreshold    = 0.05
	DensityCriticalThreshold = 0.08
)

// BaselineState is the lifecycle state of a design baseline.
type BaselineState string

const (
	BaselineDraft    BaselineState = "DRAFT"
	BaselineApproved BaselineState = "APPROVED"
)

// Baseline is the approved engineering design for one case. Only approved
// baselines may receive measurements.
type Baseline struct {
	ID                 string        `json:"id"`
	CaseID             string        `json:"case_id"`
	State              BaselineState `json:"state"`
	Volume             float64       `json:"volume_m3"`
	Density            float64       `json:"density_g_cm3"`
	MaxPressureAllowed float64       `json:"max_pressure_allowed_psi"`
	Interval           string        `json:"interval,omitempty"`
}

// Measurement is one real-world measurement set against a baseline.
type Measurement struct {
	Volume      float64 `json:"volume_m3"`
	Density     float64 `json:"density_g_cm3"`
	MaxPressure float64 `json:"max_pressure_psi"`
}

// Result is the deterministic outcome of comparing one measurement against
// its baseline. Never mutated after creation; an override suppresses the
// blocking effect of CRITICAL but never rewrites the classification.
type Result struct {
	ID               string         `json:"id"`
	BaselineID       string         `json:"baseline_id"`
	CaseID           string         `json:"case_id"`
	Measured         Measurement    `json:"measured"`
	VolumeDeviation  float64        `json:"volume_deviation"`
	DensityDeviation float64        `json:"density_deviation"`
	PressureExceeded bool           `json:"pressure_exceeded"`
	Classification   Classification `json:"classification"`
	Detail           string         `json:"detail,omitempty"`
	RecordedAt       time.Time      `json:"recorded_at"`
}

// Classify computes the deviation classification. Pure function: identical
// baseline and measurement inputs always produce identical output.
//
// Relative deviations are zero when the baseline value is zero. Pressure
// exceedance forces CRITICAL regardless of the other deviations; it is a
// hard safety condition, not a weighted score.
func Classify(b *Baseline, m Measurement) (volDev, densDev float64, pressureExceeded bool, class Classification) {
	volDev = relativeDeviation(m.Volume, b.Volume)
	densDev = relativeDeviation(m.Density, b.Density)
	pressureExceeded = m.MaxPressure > b.MaxPressureAllowed

	switch {
	case pressureExceeded || volDev > VolumeCriticalThreshold || densDev > DensityCriticalThreshold:
		class = ClassCritical
	case volDev > VolumeAlertThreshold || densDev > DensityAlertThreshold:
		class = ClassAlert
	default:
		class = ClassOK
	}
	return volDev, densDev, pressureExceeded, class
}

func relativeDeviation(measured, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return math.Abs(measured-baseline) / baseline
}
