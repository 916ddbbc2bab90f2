package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vitalwatch"

// Metrics records service counters. Every method is safe on a nil receiver so
// components can run without instrumentation.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	vitalsRecorded      *prometheus.CounterVec
	alertsRaised        *prometheus.CounterVec
	alertsAcknowledged  prometheus.Counter
	notificationsSent   *prometheus.CounterVec
	notificationsDenied prometheus.Counter
	persistenceFailures *prometheus.CounterVec
	ingestMessages      *prometheus.CounterVec
	remindersFired      prometheus.Counter
	httpRequests        *prometheus.CounterVec
	responseTime        prometheus.Histogram
	activeConnections   prometheus.Gauge
	breakerOpen         *prometheus.GaugeVec

	// mirrored for the JSON snapshot
	vitalsTotal       atomic.Int64
	alertsTotal       atomic.Int64
	criticalTotal     atomic.Int64
	ackTotal          atomic.Int64
	notifyOK          atomic.Int64
	notifyFailed      atomic.Int64
	notifyThrottled   atomic.Int64
	persistFailed     atomic.Int64
	ingestOK          atomic.Int64
	ingestRejected    atomic.Int64
	remindersTotal    atomic.Int64
	requestsTotal     atomic.Int64
	requestsFailed    atomic.Int64
	activeConns       atomic.Int64
	responseTimes     []time.Duration
	responseTimesLock sync.Mutex
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide instance
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates an instance backed by its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		startTime:     time.Now(),
		registry:      reg,
		responseTimes: make([]time.Duration, 0, 1000),

		vitalsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "vitals_recorded_total",
			Help: "Vital-signs samples recorded, by source",
		}, []string{"source"}),
		alertsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_raised_total",
			Help: "Health alerts raised, by metric and severity",
		}, []string{"type", "severity"}),
		alertsAcknowledged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_acknowledged_total",
			Help: "Health alerts acknowledged",
		}),
		notificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification deliveries, by sender, kind and result",
		}, []string{"sender", "kind", "result"}),
		notificationsDenied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_throttled_total",
			Help: "Notifications dropped by the rate limiter",
		}),
		persistenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "persistence_failures_total",
			Help: "Failed writes, by target (local, sync)",
		}, []string{"target"}),
		ingestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_messages_total",
			Help: "Device messages consumed, by result",
		}, []string{"result"}),
		remindersFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_fired_total",
			Help: "Reminders delivered",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests, by method and status class",
		}, []string{"method", "status"}),
		responseTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_response_seconds",
			Help:    "HTTP response time",
			Buckets: prometheus.DefBuckets,
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realtime_connections",
			Help: "Open realtime websocket connections",
		}),
		breakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "notifier_breaker_open",
			Help: "1 when a sender's circuit breaker is open",
		}, []string{"sender"}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "uptime_seconds",
		Help: "Time since process start",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry exposes the underlying registry; nil for a nil receiver
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format. A nil receiver serves an
// empty registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordVitals(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "manual"
	}
	m.vitalsRecorded.WithLabelValues(source).Inc()
	m.vitalsTotal.Add(1)
}

func (m *Metrics) RecordAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType, severity).Inc()
	m.alertsTotal.Add(1)
	if severity == "critical" {
		m.criticalTotal.Add(1)
	}
}

func (m *Metrics) RecordAcknowledged() {
	if m == nil {
		return
	}
	m.alertsAcknowledged.Inc()
	m.ackTotal.Add(1)
}

func (m *Metrics) RecordNotification(sender, kind string, success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "failed"
		m.notifyFailed.Add(1)
	} else {
		m.notifyOK.Add(1)
	}
	m.notificationsSent.WithLabelValues(sender, kind, result).Inc()
}

func (m *Metrics) RecordThrottled() {
	if m == nil {
		return
	}
	m.notificationsDenied.Inc()
	m.notifyThrottled.Add(1)
}

func (m *Metrics) RecordPersistenceFailure(target string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(target).Inc()
	m.persistFailed.Add(1)
}

func (m *Metrics) RecordIngest(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.ingestMessages.WithLabelValues("accepted").Inc()
		m.ingestOK.Add(1)
		return
	}
	m.ingestMessages.WithLabelValues("rejected").Inc()
	m.ingestRejected.Add(1)
}

func (m *Metrics) RecordReminder() {
	if m == nil {
		return
	}
	m.remindersFired.Inc()
	m.remindersTotal.Add(1)
}

func (m *Metrics) RecordRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.requestsTotal.Add(1)
	if status >= 500 {
		m.requestsFailed.Add(1)
	}
}

func (m *Metrics) RecordResponseTime(d time.Duration) {
	if m == nil {
		return
	}
	m.responseTime.Observe(d.Seconds())

	m.responseTimesLock.Lock()
	defer m.responseTimesLock.Unlock()

	m.responseTimes = append(m.responseTimes, d)
	if len(m.responseTimes) > 1000 {
		m.responseTimes = m.responseTimes[1:]
	}
}

func (m *Metrics) IncrementActiveConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.activeConns.Add(1)
}

func (m *Metrics) DecrementActiveConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
	m.activeConns.Add(-1)
}

func (m *Metrics) SetBreakerOpen(sender string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerOpen.WithLabelValues(sender).Set(v)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

type Snapshot struct {
	Uptime                 time.Duration `json:"uptime"`
	VitalsRecorded         int64         `json:"vitals_recorded"`
	AlertsRaised           int64         `json:"alerts_raised"`
	CriticalAlerts         int64         `json:"critical_alerts"`
	AlertsAcknowledged     int64         `json:"alerts_acknowledged"`
	NotificationsSent      int64         `json:"notifications_sent"`
	NotificationsFailed    int64         `json:"notifications_failed"`
	NotificationsThrottled int64         `json:"notifications_throttled"`
	PersistenceFailures    int64         `json:"persistence_failures"`
	IngestAccepted         int64         `json:"ingest_accepted"`
	IngestRejected         int64         `json:"ingest_rejected"`
	RemindersFired         int64         `json:"reminders_fired"`
	RequestsTotal          int64         `json:"requests_total"`
	RequestsFailed         int64         `json:"requests_failed"`
	ActiveConnections      int64         `json:"active_connections"`
	AvgResponseTime        time.Duration `json:"avg_response_time"`
	P99ResponseTime        time.Duration `json:"p99_response_time"`
	SuccessRate            float64       `json:"success_rate"`
}

// Snapshot returns current counter values; zero values for a nil receiver
func (m *Metrics) Snapshot() *Snapshot {
	if m == nil {
		return &Snapshot{}
	}
	s := &Snapshot{
		Uptime:                 time.Since(m.startTime),
		VitalsRecorded:         m.vitalsTotal.Load(),
		AlertsRaised:           m.alertsTotal.Load(),
		CriticalAlerts:         m.criticalTotal.Load(),
		AlertsAcknowledged:     m.ackTotal.Load(),
		NotificationsSent:      m.notifyOK.Load(),
		NotificationsFailed:    m.notifyFailed.Load(),
		NotificationsThrottled: m.notifyThrottled.Load(),
		PersistenceFailures:    m.persistFailed.Load(),
		IngestAccepted:         m.ingestOK.Load(),
		IngestRejected:         m.ingestRejected.Load(),
		RemindersFired:         m.remindersTotal.Load(),
		RequestsTotal:          m.requestsTotal.Load(),
		RequestsFailed:         m.requestsFailed.Load(),
		ActiveConnections:      m.activeConns.Load(),
	}

	if s.RequestsTotal > 0 {
		s.SuccessRate = float64(s.RequestsTotal-s.RequestsFailed) / float64(s.RequestsTotal) * 100
	}

	m.responseTimesLock.Lock()
	if len(m.responseTimes) > 0 {
		var total time.Duration
		for _, rt := range m.responseTimes {
			total += rt
		}
		s.AvgResponseTime = total / time.Duration(len(m.responseTimes))

		sorted := make([]time.Duration, len(m.responseTimes))
		copy(sorted, m.responseTimes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		p99Index := int(float64(len(sorted)) * 0.99)
		if p99Index >= len(sorted) {
			p99Index = len(sorted) - 1
		}
		s.P99ResponseTime = sorted[p99Index]
	}
	m.responseTimesLock.Unlock()

	return s
}
