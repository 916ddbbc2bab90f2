// Package notify fans notifications out to push, chat and log senders.
package notify

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Kind classifies a notification
type Kind string

const (
	KindReminder  Kind = "reminder"
	KindAlert     Kind = "alert"
	KindInfo      Kind = "info"
	KindEmergency Kind = "emergency"
)

// Priority of a notification
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Notification is one message addressed to a user
type Notification struct {
	UserID    string            `json:"user_id"`
	Kind      Kind              `json:"kind"`
	Priority  Priority          `json:"priority"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Sender delivers notifications through one backend
type Sender interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Preferences answers whether a user wants non-emergency notifications
type Preferences interface {
	NotificationsEnabled(ctx context.Context, userID string) bool
}

// Options configures a Dispatcher
type Options struct {
	RatePerMinute  int // 0 disables throttling
	Burst          int
	BreakerTimeout time.Duration
	BreakerTrips   uint32
	Preferences    Preferences
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

type guardedSender struct {
	sender  Sender
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// Dispatcher sends each notification to every registered sender. Each sender
// is guarded by its own circuit breaker. Emergencies bypass the rate limiter
// and the user's notification toggle.
type Dispatcher struct {
	mu      sync.RWMutex
	senders []*guardedSender

	limiter *rate.Limiter
	prefs   Preferences
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher with no senders
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}
	if opts.BreakerTrips == 0 {
		opts.BreakerTrips = 5
	}

	d := &Dispatcher{
		prefs:   opts.Preferences,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}

	if opts.RatePerMinute > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), burst)
	}

	return d
}

// Register adds a sender behind a fresh circuit breaker
func (d *Dispatcher) Register(s Sender) {
	trips := d.opts.BreakerTrips
	st := gobreaker.Settings{
		Name:        s.Name(),
		MaxRequests: 1,
		Timeout:     d.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("Notification sender breaker changed state",
				zap.String("sender", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			d.metrics.SetBreakerOpen(name, to == gobreaker.StateOpen)
		},
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders = append(d.senders, &guardedSender{
		sender:  s,
		breaker: gobreaker.NewCircuitBreaker[struct{}](st),
	})
}

// Senders lists the registered sender names
func (d *Dispatcher) Senders() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(d.senders))
	for i, g := range d.senders {
		names[i] = g.sender.Name()
	}
	return names
}

// Dispatch delivers n to every sender. It succeeds when at least one sender
// accepted the notification.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	d.mu.RLock()
	senders := append([]*guardedSender(nil), d.senders...)
	d.mu.RUnlock()

	if len(senders) == 0 {
		return apperrors.ErrNoSenders
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	if n.Kind != KindEmergency {
		if d.prefs != nil && !d.prefs.NotificationsEnabled(ctx, n.UserID) {
			d.logger.Debug("Notifications disabled for user", zap.String("user_id", n.UserID))
			return nil
		}
		if d.limiter != nil && !d.limiter.Allow() {
			d.metrics.RecordThrottled()
			return apperrors.ErrRateLimited
		}
	}

	var errs []error
	delivered := 0
	for _, g := range senders {
		_, err := g.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, g.sender.Send(ctx, n)
		})
		d.metrics.RecordNotification(g.sender.Name(), string(n.Kind), err == nil)
		if err != nil {
			d.logger.Warn("Notification delivery failed",
				zap.String("sender", g.sender.Name()),
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return apperrors.Wrap(stderrors.Join(errs...), apperrors.ErrDeliveryFailed.Code, apperrors.ErrDeliveryFailed.Message)
	}
	return nil
}

// HealthAlert sends an out-of-range alert
func (d *Dispatcher) HealthAlert(ctx context.Context, userID, title, body string, data map[string]string) error {
	return d.Dispatch(ctx, &Notification{
		UserID:   userID,
		Kind:     KindAlert,
		Priority: PriorityHigh,
		Title:    title,
		Body:     body,
		Data:     data,
	})
}

// Emergency sends a critical alert; it is never throttled
func (d *Dispatcher) Emergency(ctx context.Context, userID, title, body string, data map[string]string) error {
	return d.Dispatch(ctx, &Notification{
		UserID:   userID,
		Kind:     KindEmergency,
		Priority: PriorityHigh,
		Title:    title,
		Body:     body,
		Data:     data,
	})
}

// Reminder sends a medication, appointment or custom reminder
func (d *Dispatcher) Reminder(ctx context.Context, userID, title, body string, data map[string]string) error {
	return d.Dispatch(ctx, &Notification{
		UserID:   userID,
		Kind:     KindReminder,
		Priority: PriorityMedium,
		Title:    title,
		Body:     body,
		Data:     data,
	})
}

// Info sends a low priority informational message
func (d *Dispatcher) Info(ctx context.Context, userID, title, body string) error {
	return d.Dispatch(ctx, &Notification{
		UserID:   userID,
		Kind:     KindInfo,
		Priority: PriorityLow,
		Title:    title,
		Body:     body,
	})
}

// LogSender writes notifications to the structured log. It is always
// registered so alerts are never silently dropped.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, n *Notification) error {
	fields := []zap.Field{
		zap.String("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("priority", string(n.Priority)),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
	}
	if n.Kind == KindEmergency {
		s.logger.Error("EMERGENCY notification", fields...)
	} else {
		s.logger.Info("Notification", fields...)
	}
	return nil
}
