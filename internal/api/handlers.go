package api

import (
	"crypto/subtle"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleMetricsJSON(c *fiber.Ctx) error {
	return c.JSON(s.metrics.Snapshot())
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Because(apperrors.ErrBadRequest, "invalid request")
	}

	// without a configured password the instance trusts its local network
	if want := s.config.Security.AdminPassword; want != "" {
		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(want)) != 1 {
			return apperrors.Because(apperrors.ErrUnauthorized, "invalid credentials")
		}
	}

	uid := req.UserID
	if uid == "" {
		uid = s.config.User.ID
	}

	now := time.Now()
	expires := now.Add(s.config.TokenTTL())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})

	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal.Code, "failed to generate token")
	}

	return c.JSON(loginResponse{Token: tokenString, UserID: uid, ExpiresAt: expires})
}

// ==================== Vitals ====================

func (s *Server) handleRecordVitals(c *fiber.Ctx) error {
	var sample vitals.VitalSigns
	if err := c.BodyParser(&sample); err != nil {
		return apperrors.Because(apperrors.ErrInvalidVitals, "malformed body")
	}

	res, err := s.vitals.Record(c.UserContext(), userID(c), sample)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (s *Server) handleListVitals(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	list, err := s.vitals.History(c.UserContext(), userID(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (s *Server) handleLatestVitals(c *fiber.Ctx) error {
	v, err := s.vitals.Latest(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	if v == nil {
		return apperrors.Because(apperrors.ErrNotFound, "no vital signs recorded")
	}
	return c.JSON(v)
}

// ==================== Alerts ====================

func (s *Server) handleListAlerts(c *fiber.Ctx) error {
	alerts, err := s.vitals.Alerts(c.UserContext(), userID(c), c.QueryBool("all", false))
	if err != nil {
		return err
	}
	return c.JSON(alerts)
}

func (s *Server) handleAcknowledge(c *fiber.Ctx) error {
	alert, err := s.vitals.Acknowledge(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(alert)
}

// ==================== Trends & reports ====================

func (s *Server) handleTrend(c *fiber.Ctx) error {
	metric, err := vitals.ParseMetric(c.Params("metric"))
	if err != nil {
		return err
	}
	period, err := vitals.ParsePeriod(c.Query("period", string(vitals.PeriodWeekly)))
	if err != nil {
		return err
	}

	trend, err := s.vitals.Trend(c.UserContext(), userID(c), metric, period)
	if err != nil {
		return err
	}
	return c.JSON(trend)
}

func (s *Server) handleReport(c *fiber.Ctx) error {
	report, err := s.vitals.Report(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(report)
}

// ==================== Thresholds ====================

func (s *Server) handleGetThresholds(c *fiber.Ctx) error {
	return c.JSON(thresholdsResponse{Thresholds: s.vitals.Thresholds().Get()})
}

// handlePutThresholds overlays the submitted entries on the active table
func (s *Server) handlePutThresholds(c *fiber.Ctx) error {
	var overrides vitals.Table
	if err := c.BodyParser(&overrides); err != nil {
		return apperrors.Because(apperrors.ErrInvalidThreshold, "malformed body")
	}

	holder := s.vitals.Thresholds()
	table := holder.Get().Merge(overrides)
	if err := holder.Set(table); err != nil {
		return err
	}

	s.logger.Info("Threshold table updated", zap.String("user_id", userID(c)), zap.Int("entries", len(overrides)))
	return c.JSON(thresholdsResponse{Thresholds: holder.Get()})
}
