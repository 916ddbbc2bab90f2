package api

import (
	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/reminders"
	"github.com/gmsas95/vitalwatch/internal/store"
	"github.com/gofiber/fiber/v2"
)

var errNoRegistry = apperrors.Because(apperrors.ErrStoreUnavailable, "remote store is disabled")

func (s *Server) handleRegisterDevice(c *fiber.Ctx) error {
	if s.registry == nil {
		return errNoRegistry
	}

	var req deviceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Because(apperrors.ErrBadRequest, "invalid request")
	}
	if req.Token == "" {
		return apperrors.Because(apperrors.ErrBadRequest, "token is required")
	}

	d := &store.Device{UserID: userID(c), Platform: req.Platform, Token: req.Token}
	if err := s.registry.RegisterDevice(c.UserContext(), d); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

func (s *Server) handleToggleNotifications(c *fiber.Ctx) error {
	if s.prefs == nil {
		return errNoRegistry
	}

	var req toggleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Because(apperrors.ErrBadRequest, "invalid request")
	}
	if err := s.prefs.SetNotificationsEnabled(c.UserContext(), userID(c), req.Enabled); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"enabled": s.prefs.NotificationsEnabled(c.UserContext(), userID(c))})
}

// ==================== Reminders ====================

func (s *Server) handleListReminders(c *fiber.Ctx) error {
	if s.registry == nil {
		return errNoRegistry
	}
	list, err := s.registry.ListReminders(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (s *Server) handleCreateReminder(c *fiber.Ctx) error {
	if s.registry == nil {
		return errNoRegistry
	}

	var req reminderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Because(apperrors.ErrBadRequest, "invalid request")
	}

	var (
		r   *store.Reminder
		err error
	)
	switch req.Kind {
	case store.ReminderMedication:
		r, err = reminders.Medication(userID(c), req.Medication, req.Dosage, req.DueAt, req.Recurrence)
	case store.ReminderAppointment:
		r, err = reminders.Appointment(userID(c), req.Doctor, req.Specialty, req.Location, req.DueAt)
	default:
		r = &store.Reminder{
			UserID:     userID(c),
			Kind:       req.Kind,
			Title:      req.Title,
			Body:       req.Body,
			DueAt:      req.DueAt,
			Recurrence: req.Recurrence,
			Enabled:    true,
		}
		err = reminders.Validate(r)
	}
	if err != nil {
		return err
	}

	if err := s.registry.CreateReminder(c.UserContext(), r); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func (s *Server) handleDeleteReminder(c *fiber.Ctx) error {
	if s.registry == nil {
		return errNoRegistry
	}
	if err := s.registry.DeleteReminder(c.UserContext(), userID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
