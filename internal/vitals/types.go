// Package vitals records vital-signs samples, evaluates them against clinical
// thresholds, raises health alerts and aggregates trends.
package vitals

import (
	"math"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
)

// Metric names one measured (or derived) quantity of a sample
type Metric string

const (
	MetricTemperature      Metric = "temperature"
	MetricHeartRate        Metric = "heart_rate"
	MetricBloodPressure    Metric = "blood_pressure"
	MetricSystolic         Metric = "systolic"
	MetricDiastolic        Metric = "diastolic"
	MetricOxygenSaturation Metric = "oxygen_saturation"
	MetricRespiratoryRate  Metric = "respiratory_rate"
	MetricBloodSugar       Metric = "blood_sugar"
	MetricWeight           Metric = "weight"
	MetricHeight           Metric = "height"
	MetricBMI              Metric = "bmi"
)

// Severity of a health alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Source describes how a sample reached the service
type Source string

const (
	SourceManual    Source = "manual"
	SourceBluetooth Source = "bluetooth"
	SourceImport    Source = "import"
)

// BloodPressure in mmHg
type BloodPressure struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// VitalSigns is one recorded sample. Required metrics left at zero were not
// measured; optional metrics are nil when absent.
type VitalSigns struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`

	Temperature      float64       `json:"temperature"`       // °C
	HeartRate        float64       `json:"heart_rate"`        // bpm
	BloodPressure    BloodPressure `json:"blood_pressure"`    // mmHg
	OxygenSaturation float64       `json:"oxygen_saturation"` // %
	RespiratoryRate  float64       `json:"respiratory_rate"`  // breaths/min

	BloodSugar *float64 `json:"blood_sugar,omitempty"` // mg/dL
	Weight     *float64 `json:"weight,omitempty"`      // kg
	Height     *float64 `json:"height,omitempty"`      // cm
	BMI        *float64 `json:"bmi,omitempty"`

	Source   Source `json:"source,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// HealthAlert is raised when a metric leaves its normal band. Only the
// acknowledged fields change after creation.
type HealthAlert struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	VitalsID  string   `json:"vitals_id"`
	Type      Metric   `json:"type"`
	Component Metric   `json:"component,omitempty"` // systolic/diastolic for blood pressure
	Severity  Severity `json:"severity"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Message   string   `json:"message"`

	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// IsCritical reports whether the alert escalates to an emergency notification
func (a *HealthAlert) IsCritical() bool {
	return a.Severity == SeverityCritical
}

// Float is a convenience for filling optional fields
func Float(v float64) *float64 {
	return &v
}

// Validate rejects structurally impossible samples. Missing values are fine.
func (v *VitalSigns) Validate() error {
	fields := []struct {
		name  string
		value *float64
	}{
		{"temperature", &v.Temperature},
		{"heart_rate", &v.HeartRate},
		{"blood_pressure.systolic", &v.BloodPressure.Systolic},
		{"blood_pressure.diastolic", &v.BloodPressure.Diastolic},
		{"oxygen_saturation", &v.OxygenSaturation},
		{"respiratory_rate", &v.RespiratoryRate},
		{"blood_sugar", v.BloodSugar},
		{"weight", v.Weight},
		{"height", v.Height},
	}

	measured := 0
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		val := *f.value
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return apperrors.Because(apperrors.ErrInvalidVitals, "%s is not a number", f.name)
		}
		if val < 0 {
			return apperrors.Because(apperrors.ErrInvalidVitals, "%s must not be negative", f.name)
		}
		if val > 0 {
			measured++
		}
	}

	if measured == 0 {
		return apperrors.Because(apperrors.ErrInvalidVitals, "sample has no measurements")
	}
	return nil
}

// Value returns the metric's value and whether it was measured
func (v *VitalSigns) Value(m Metric) (float64, bool) {
	switch m {
	case MetricTemperature:
		return present(v.Temperature)
	case MetricHeartRate:
		return present(v.HeartRate)
	case MetricSystolic, MetricBloodPressure:
		return present(v.BloodPressure.Systolic)
	case MetricDiastolic:
		return present(v.BloodPressure.Diastolic)
	case MetricOxygenSaturation:
		return present(v.OxygenSaturation)
	case MetricRespiratoryRate:
		return present(v.RespiratoryRate)
	case MetricBloodSugar:
		return optional(v.BloodSugar)
	case MetricWeight:
		return optional(v.Weight)
	case MetricHeight:
		return optional(v.Height)
	case MetricBMI:
		return optional(v.BMI)
	}
	return 0, false
}

func present(v float64) (float64, bool) {
	return v, v > 0
}

func optional(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return present(*v)
}

// ParseMetric validates a metric name coming from a query or CLI flag
func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	switch m {
	case MetricTemperature, MetricHeartRate, MetricBloodPressure, MetricSystolic,
		MetricDiastolic, MetricOxygenSaturation, MetricRespiratoryRate,
		MetricBloodSugar, MetricWeight, MetricHeight, MetricBMI:
		return m, nil
	}
	return "", apperrors.Because(apperrors.ErrUnknownMetric, "%q", s)
}
