// Package api exposes the vitals service over HTTP and websockets.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gmsas95/vitalwatch/internal/config"
	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/gmsas95/vitalwatch/internal/realtime"
	"github.com/gmsas95/vitalwatch/internal/store"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint
var Version = "dev"

// Preferences stores the per-user notification toggle
type Preferences interface {
	NotificationsEnabled(ctx context.Context, userID string) bool
	SetNotificationsEnabled(ctx context.Context, userID string, enabled bool) error
}

// Registry persists devices and reminders
type Registry interface {
	RegisterDevice(ctx context.Context, d *store.Device) error
	CreateReminder(ctx context.Context, r *store.Reminder) error
	ListReminders(ctx context.Context, userID string) ([]store.Reminder, error)
	DeleteReminder(ctx context.Context, userID, id string) error
}

// Deps are the collaborators the server routes to. Registry and Hub are
// optional; their routes answer 503 when absent.
type Deps struct {
	Config      *config.Config
	Vitals      *vitals.Service
	Preferences Preferences
	Registry    Registry
	Hub         *realtime.Hub
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Server handles the HTTP API and websocket stream
type Server struct {
	app      *fiber.App
	config   *config.Config
	vitals   *vitals.Service
	prefs    Preferences
	registry Registry
	hub      *realtime.Hub
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a new API server
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	s := &Server{
		config:   deps.Config,
		vitals:   deps.Vitals,
		prefs:    deps.Preferences,
		registry: deps.Registry,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		logger:   deps.Logger.Named("api"),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "vitalwatch",
		ReadTimeout:           time.Duration(deps.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(deps.Config.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test in tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address until Shutdown
func (s *Server) Start() error {
	addr := s.config.Address()
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := s.app.Listen(addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
