package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	s.app.Get("/api/metrics", s.handleMetricsJSON)

	api := s.app.Group("/api")

	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Post("/vitals", s.handleRecordVitals)
	protected.Get("/vitals", s.handleListVitals)
	protected.Get("/vitals/latest", s.handleLatestVitals)

	protected.Get("/alerts", s.handleListAlerts)
	protected.Post("/alerts/:id/ack", s.handleAcknowledge)

	protected.Get("/trends/:metric", s.handleTrend)
	protected.Get("/report", s.handleReport)

	protected.Get("/thresholds", s.handleGetThresholds)
	protected.Put("/thresholds", s.handlePutThresholds)

	protected.Post("/devices", s.handleRegisterDevice)
	protected.Post("/notifications/toggle", s.handleToggleNotifications)

	protected.Get("/reminders", s.handleListReminders)
	protected.Post("/reminders", s.handleCreateReminder)
	protected.Delete("/reminders/:id", s.handleDeleteReminder)

	ws := s.app.Group("/ws", s.authMiddleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/alerts", websocket.New(s.handleAlertStream))
}
