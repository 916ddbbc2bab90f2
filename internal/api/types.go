package api

import (
	"time"

	"github.com/gmsas95/vitalwatch/internal/vitals"
)

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type deviceRequest struct {
	Platform string `json:"platform"`
	Token    string `json:"token"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type reminderRequest struct {
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	DueAt      time.Time `json:"due_at"`
	Recurrence string    `json:"recurrence"`

	// medication reminders
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`

	// appointment reminders
	Doctor    string `json:"doctor"`
	Specialty string `json:"specialty"`
	Location  string `json:"location"`
}

type thresholdsResponse struct {
	Thresholds vitals.Table `json:"thresholds"`
}
