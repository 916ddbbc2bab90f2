package store

import (
	"crypto/rand"
	"time"

	"github.com/gmsas95/vitalwatch/internal/vitals"
	"gorm.io/gorm"
)

// VitalRecord is the synced copy of one vital-signs sample
type VitalRecord struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index:idx_vitals_user_ts" json:"user_id"`
	Timestamp time.Time `gorm:"index:idx_vitals_user_ts" json:"timestamp"`

	Temperature      float64  `json:"temperature"`
	HeartRate        float64  `json:"heart_rate"`
	Systolic         float64  `json:"systolic"`
	Diastolic        float64  `json:"diastolic"`
	OxygenSaturation float64  `json:"oxygen_saturation"`
	RespiratoryRate  float64  `json:"respiratory_rate"`
	BloodSugar       *float64 `json:"blood_sugar,omitempty"`
	Weight           *float64 `json:"weight,omitempty"`
	Height           *float64 `json:"height,omitempty"`
	BMI              *float64 `json:"bmi,omitempty"`

	Source    string    `json:"source"`
	DeviceID  string    `json:"device_id"`
	Notes     string    `json:"notes" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertRecord is the synced copy of one health alert
type AlertRecord struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	UserID         string     `gorm:"index:idx_alerts_user_ts" json:"user_id"`
	VitalsID       string     `gorm:"index" json:"vitals_id"`
	Type           string     `json:"type"`
	Component      string     `json:"component"`
	Severity       string     `json:"severity"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	Message        string     `json:"message"`
	Timestamp      time.Time  `gorm:"index:idx_alerts_user_ts" json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Device is a push target registered by a mobile client
type Device struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"index" json:"user_id"`
	Platform    string    `json:"platform"` // android, ios
	Token       string    `gorm:"uniqueIndex" json:"token"`
	EndpointARN string    `json:"endpoint_arn,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Reminder kinds
const (
	ReminderMedication  = "medication"
	ReminderAppointment = "appointment"
	ReminderCustom      = "custom"
)

// Reminder recurrences
const (
	RecurrenceNone    = "none"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// Reminder is a scheduled medication, appointment or custom notification
type Reminder struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	UserID      string     `gorm:"index:idx_reminder_due" json:"user_id"`
	Kind        string     `json:"kind"`
	Title       string     `json:"title"`
	Body        string     `json:"body" gorm:"type:text"`
	DueAt       time.Time  `gorm:"index:idx_reminder_due" json:"due_at"`
	Recurrence  string     `json:"recurrence"`
	Enabled     bool       `gorm:"index:idx_reminder_due" json:"enabled"`
	LastFiredAt *time.Time `json:"last_fired_at"`
	FireCount   int        `json:"fire_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BeforeCreate hook for Device
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = generateID("dev")
	}
	if d.Platform == "" {
		d.Platform = "android"
	}
	return nil
}

// BeforeCreate hook for Reminder
func (r *Reminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateID("rem")
	}
	if r.Kind == "" {
		r.Kind = ReminderCustom
	}
	if r.Recurrence == "" {
		r.Recurrence = RecurrenceNone
	}
	return nil
}

func toVitalRecord(v *vitals.VitalSigns) VitalRecord {
	return VitalRecord{
		ID:               v.ID,
		UserID:           v.UserID,
		Timestamp:        v.Timestamp,
		Temperature:      v.Temperature,
		HeartRate:        v.HeartRate,
		Systolic:         v.BloodPressure.Systolic,
		Diastolic:        v.BloodPressure.Diastolic,
		OxygenSaturation: v.OxygenSaturation,
		RespiratoryRate:  v.RespiratoryRate,
		BloodSugar:       v.BloodSugar,
		Weight:           v.Weight,
		Height:           v.Height,
		BMI:              v.BMI,
		Source:           string(v.Source),
		DeviceID:         v.DeviceID,
		Notes:            v.Notes,
	}
}

func (r *VitalRecord) toVitals() vitals.VitalSigns {
	return vitals.VitalSigns{
		ID:               r.ID,
		UserID:           r.UserID,
		Timestamp:        r.Timestamp,
		Temperature:      r.Temperature,
		HeartRate:        r.HeartRate,
		BloodPressure:    vitals.BloodPressure{Systolic: r.Systolic, Diastolic: r.Diastolic},
		OxygenSaturation: r.OxygenSaturation,
		RespiratoryRate:  r.RespiratoryRate,
		BloodSugar:       r.BloodSugar,
		Weight:           r.Weight,
		Height:           r.Height,
		BMI:              r.BMI,
		Source:           vitals.Source(r.Source),
		DeviceID:         r.DeviceID,
		Notes:            r.Notes,
	}
}

func toAlertRecord(a *vitals.HealthAlert) AlertRecord {
	return AlertRecord{
		ID:             a.ID,
		UserID:         a.UserID,
		VitalsID:       a.VitalsID,
		Type:           string(a.Type),
		Component:      string(a.Component),
		Severity:       string(a.Severity),
		Value:          a.Value,
		Threshold:      a.Threshold,
		Message:        a.Message,
		Timestamp:      a.Timestamp,
		Acknowledged:   a.Acknowledged,
		AcknowledgedAt: a.AcknowledgedAt,
	}
}

func (r *AlertRecord) toAlert() vitals.HealthAlert {
	return vitals.HealthAlert{
		ID:             r.ID,
		UserID:         r.UserID,
		VitalsID:       r.VitalsID,
		Type:           vitals.Metric(r.Type),
		Component:      vitals.Metric(r.Component),
		Severity:       vitals.Severity(r.Severity),
		Value:          r.Value,
		Threshold:      r.Threshold,
		Message:        r.Message,
		Timestamp:      r.Timestamp,
		Acknowledged:   r.Acknowledged,
		AcknowledgedAt: r.AcknowledgedAt,
	}
}

// generateID creates a unique ID with second precision and a random suffix
func generateID(prefix string) string {
	return prefix + "_" + time.Now().Format("20060102150405") + "_" + randomString(8)
}

// randomString generates a cryptographically secure random string
func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	rand.Read(b)
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}
