package vitals

import (
	"fmt"
	"math"
	"os"
	"sync/atomic"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"gopkg.in/yaml.v3"
)

// Band is an inclusive numeric range
type Band struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies inside the band, bounds included
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

func (b Band) finite() bool {
	for _, v := range []float64{b.Min, b.Max} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Threshold holds the normal and critical bands of one metric
type Threshold struct {
	Normal   Band `json:"normal" yaml:"normal"`
	Critical Band `json:"critical" yaml:"critical"`
}

// Table maps each evaluated metric to its threshold
type Table map[Metric]Threshold

// DefaultTable returns the built-in clinical thresholds
func DefaultTable() Table {
	return Table{
		MetricTemperature:      {Normal: Band{36.0, 37.5}, Critical: Band{35.0, 38.5}},
		MetricHeartRate:        {Normal: Band{60, 100}, Critical: Band{50, 120}},
		MetricSystolic:         {Normal: Band{90, 140}, Critical: Band{80, 160}},
		MetricDiastolic:        {Normal: Band{60, 90}, Critical: Band{50, 110}},
		MetricOxygenSaturation: {Normal: Band{95, 100}, Critical: Band{90, 100}},
		MetricRespiratoryRate:  {Normal: Band{12, 20}, Critical: Band{8, 25}},
		MetricBloodSugar:       {Normal: Band{70, 140}, Critical: Band{50, 200}},
	}
}

// Clone returns an independent copy
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Merge overlays entries of other onto a copy of t
func (t Table) Merge(other Table) Table {
	out := t.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Validate checks that every entry is for an evaluated metric, that all
// bounds are finite and that the normal band sits inside the critical band.
func (t Table) Validate() error {
	for m, th := range t {
		if _, ok := specFor(m); !ok {
			return apperrors.Because(apperrors.ErrInvalidThreshold, "%q is not an evaluated metric", m)
		}
		if !th.Normal.finite() || !th.Critical.finite() {
			return apperrors.Because(apperrors.ErrInvalidThreshold, "%s: bounds must be finite numbers", m)
		}
		if th.Normal.Min > th.Normal.Max {
			return apperrors.Because(apperrors.ErrInvalidThreshold, "%s: normal min %.2f above max %.2f", m, th.Normal.Min, th.Normal.Max)
		}
		if th.Critical.Min > th.Normal.Min || th.Critical.Max < th.Normal.Max {
			return apperrors.Because(apperrors.ErrInvalidThreshold, "%s: normal band must lie inside critical band", m)
		}
	}
	return nil
}

// ParseTable decodes a YAML threshold document and merges it over the defaults
func ParseTable(data []byte) (Table, error) {
	var overrides Table
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds: %w", err)
	}

	table := DefaultTable().Merge(overrides)
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// LoadTable reads a YAML threshold file
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds: %w", err)
	}
	return ParseTable(data)
}

// Thresholds holds the active table and allows swapping it at runtime
type Thresholds struct {
	current atomic.Pointer[Table]
}

// NewThresholds creates a holder initialised with table, or the defaults when nil
func NewThresholds(table Table) (*Thresholds, error) {
	if table == nil {
		table = DefaultTable()
	}
	t := &Thresholds{}
	if err := t.Set(table); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns the active table. Callers must not mutate it.
func (t *Thresholds) Get() Table {
	if p := t.current.Load(); p != nil {
		return *p
	}
	return DefaultTable()
}

// Set validates and activates a new table
func (t *Thresholds) Set(table Table) error {
	if err := table.Validate(); err != nil {
		return err
	}
	c := table.Clone()
	t.current.Store(&c)
	return nil
}
