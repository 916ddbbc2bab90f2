package reminders

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/store"
)

const (
	MedicationTitle  = "Medication reminder"
	AppointmentTitle = "Appointment reminder"
)

// Medication builds a reminder to take a medication at the given time
func Medication(userID, name, dosage string, at time.Time, recurrence string) (*store.Reminder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.Because(apperrors.ErrBadRequest, "medication name is required")
	}
	r := &store.Reminder{
		UserID:     userID,
		Kind:       store.ReminderMedication,
		Title:      MedicationTitle,
		Body:       fmt.Sprintf("Take %s - %s at %s", name, dosage, at.Format("15:04")),
		DueAt:      at,
		Recurrence: recurrence,
		Enabled:    true,
	}
	return r, Validate(r)
}

// Appointment builds a one-shot reminder for a doctor's appointment
func Appointment(userID, doctor, specialty, location string, at time.Time) (*store.Reminder, error) {
	if strings.TrimSpace(doctor) == "" {
		return nil, apperrors.Because(apperrors.ErrBadRequest, "doctor is required")
	}
	r := &store.Reminder{
		UserID:     userID,
		Kind:       store.ReminderAppointment,
		Title:      AppointmentTitle,
		Body:       fmt.Sprintf("Appointment with %s (%s) - %s", doctor, specialty, location),
		DueAt:      at,
		Recurrence: store.RecurrenceNone,
		Enabled:    true,
	}
	return r, Validate(r)
}

// Validate checks a reminder before it is stored
func Validate(r *store.Reminder) error {
	if r.UserID == "" {
		return apperrors.Because(apperrors.ErrBadRequest, "user id is required")
	}
	if r.Title == "" {
		return apperrors.Because(apperrors.ErrBadRequest, "title is required")
	}
	if r.DueAt.IsZero() {
		return apperrors.Because(apperrors.ErrBadRequest, "due time is required")
	}
	switch r.Kind {
	case "", store.ReminderMedication, store.ReminderAppointment, store.ReminderCustom:
	default:
		return apperrors.Because(apperrors.ErrBadRequest, "unknown reminder kind %q", r.Kind)
	}
	if _, err := interval(r.Recurrence); err != nil {
		return err
	}
	return nil
}

func interval(recurrence string) (time.Duration, error) {
	switch recurrence {
	case "", store.RecurrenceNone:
		return 0, nil
	case store.RecurrenceDaily:
		return 24 * time.Hour, nil
	case store.RecurrenceWeekly:
		return 7 * 24 * time.Hour, nil
	case store.RecurrenceMonthly:
		return 30 * 24 * time.Hour, nil
	}
	return 0, apperrors.Because(apperrors.ErrBadRequest, "unknown recurrence %q", recurrence)
}

// NextDue advances due by the recurrence interval until it is after now.
// ok is false for one-shot reminders.
func NextDue(due time.Time, recurrence string, now time.Time) (next time.Time, ok bool) {
	step, err := interval(recurrence)
	if err != nil || step == 0 {
		return time.Time{}, false
	}
	next = due.Add(step)
	if next.After(now) {
		return next, true
	}
	// skip occurrences missed while the service was down
	missed := now.Sub(next)/step + 1
	return next.Add(missed * step), true
}
