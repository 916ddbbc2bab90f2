package api

import (
	"errors"
	"strings"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const localUserID = "userID"

func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if tokenString == "" {
			// browsers cannot set headers on websocket upgrades
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return apperrors.Because(apperrors.ErrUnauthorized, "missing authorization header")
		}

		token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.config.Security.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return apperrors.Because(apperrors.ErrUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(*jwt.RegisteredClaims)
		if !ok || claims.Subject == "" {
			return apperrors.Because(apperrors.ErrUnauthorized, "token has no subject")
		}

		c.Locals(localUserID, claims.Subject)
		return c.Next()
	}
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}
		s.metrics.RecordRequest(c.Method(), status)
		s.metrics.RecordResponseTime(time.Since(start))
		return err
	}
}

// errorHandler renders every handler error as {"error", "code"}
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status := statusFor(err)

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(status).JSON(fiber.Map{"error": fe.Message, "code": "HTTP"})
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		s.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": "internal error", "code": apperrors.ErrInternal.Code})
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": appErr.Message, "code": appErr.Code})
}

func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}

	switch {
	case errors.Is(err, apperrors.ErrInvalidVitals),
		errors.Is(err, apperrors.ErrUnknownMetric),
		errors.Is(err, apperrors.ErrUnknownPeriod),
		errors.Is(err, apperrors.ErrInvalidThreshold),
		errors.Is(err, apperrors.ErrUnknownPlatform),
		errors.Is(err, apperrors.ErrBadRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, apperrors.ErrAlertNotFound),
		errors.Is(err, apperrors.ErrReminderNotFound),
		errors.Is(err, apperrors.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, apperrors.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}
