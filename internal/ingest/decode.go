// Package ingest receives readings forwarded from Bluetooth vital-sign
// monitors and records them.
package ingest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/vitals"
)

// Reading is the JSON document a monitor writes to its BLE characteristic.
// Gateways may add userId, deviceId and timestamp.
type Reading struct {
	UserID           string   `json:"userId,omitempty"`
	DeviceID         string   `json:"deviceId,omitempty"`
	Timestamp        *int64   `json:"timestamp,omitempty"` // unix milliseconds
	Temperature      *float64 `json:"temperature,omitempty"`
	HeartRate        *float64 `json:"heartRate,omitempty"`
	OxygenSaturation *float64 `json:"oxygenSaturation,omitempty"`
	RespiratoryRate  *float64 `json:"respiratoryRate,omitempty"`
	BloodSugar       *float64 `json:"bloodSugar,omitempty"`
	Weight           *float64 `json:"weight,omitempty"`
	Height           *float64 `json:"height,omitempty"`
	BloodPressure    *struct {
		Systolic  float64 `json:"systolic"`
		Diastolic float64 `json:"diastolic"`
	} `json:"bloodPressure,omitempty"`
}

// Decode parses a characteristic value. The payload is base64 encoded JSON
// as read off the device; plain JSON is accepted too.
func Decode(payload []byte) (*Reading, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, apperrors.Because(apperrors.ErrInvalidVitals, "empty payload")
	}

	raw := payload
	if payload[0] != '{' {
		buf := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
		n, err := base64.StdEncoding.Decode(buf, payload)
		if err != nil {
			return nil, apperrors.Because(apperrors.ErrInvalidVitals, "payload is neither JSON nor base64: %v", err)
		}
		raw = buf[:n]
	}

	var r Reading
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, apperrors.Because(apperrors.ErrInvalidVitals, "malformed reading: %v", err)
	}
	return &r, nil
}

// Vitals converts the reading into a sample tagged as a bluetooth source
func (r *Reading) Vitals() vitals.VitalSigns {
	v := vitals.VitalSigns{
		Source:     vitals.SourceBluetooth,
		DeviceID:   r.DeviceID,
		BloodSugar: r.BloodSugar,
		Weight:     r.Weight,
		Height:     r.Height,
	}
	if r.Timestamp != nil {
		v.Timestamp = time.UnixMilli(*r.Timestamp).UTC()
	}
	if r.Temperature != nil {
		v.Temperature = *r.Temperature
	}
	if r.HeartRate != nil {
		v.HeartRate = *r.HeartRate
	}
	if r.OxygenSaturation != nil {
		v.OxygenSaturation = *r.OxygenSaturation
	}
	if r.RespiratoryRate != nil {
		v.RespiratoryRate = *r.RespiratoryRate
	}
	if r.BloodPressure != nil {
		v.BloodPressure = vitals.BloodPressure{
			Systolic:  r.BloodPressure.Systolic,
			Diastolic: r.BloodPressure.Diastolic,
		}
	}
	return v
}
