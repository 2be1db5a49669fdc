package service

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the live session domain.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	sessionsStarted  prometheus.Counter
	sessionsEnded    prometheus.Counter
	activeSessions   prometheus.Gauge
	snapshotFanout   prometheus.Counter
	snapshotDuration prometheus.Histogram
	storeWriteErrors prometheus.Counter
	meetingFailures  prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	sessionsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_sessions_started_total",
		Help: "Total live sessions started",
	})

	sessionsEnded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_sessions_ended_total",
		Help: "Total live sessions terminated",
	})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_sessions_active",
		Help: "Live sessions currently active",
	})

	snapshotFanout := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_snapshot_fanout_total",
		Help: "Total snapshots fanned out to session participants",
	})

	snapshotDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_snapshot_fanout_seconds",
		Help:    "Time spent delivering one snapshot to all participants",
		Buckets: prometheus.DefBuckets,
	})

	storeWriteErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_write_errors_total",
		Help: "Total failed document store writes",
	})

	meetingFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meeting_provision_failures_total",
		Help: "Total failed meeting provisioning attempts",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, sessionsStarted, sessionsEnded,
		activeSessions, snapshotFanout, snapshotDuration, storeWriteErrors, meetingFailures, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		sessionsStarted:  sessionsStarted,
		sessionsEnded:    sessionsEnded,
		activeSessions:   activeSessions,
		snapshotFanout:   snapshotFanout,
		snapshotDuration: snapshotDuration,
		storeWriteErrors: storeWriteErrors,
		meetingFailures:  meetingFailures,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one handled request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": httpStatusLabel(status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// SessionStarted bumps the start counter and the active gauge.
func (s *MetricsService) SessionStarted() {
	s.sessionsStarted.Inc()
	s.activeSessions.Inc()
}

// SessionEnded bumps the end counter and drops the active gauge.
func (s *MetricsService) SessionEnded() {
	s.sessionsEnded.Inc()
	s.activeSessions.Dec()
}

// SnapshotFanout records one snapshot delivery round.
func (s *MetricsService) SnapshotFanout(recipients int, duration time.Duration) {
	s.snapshotFanout.Add(float64(recipients))
	s.snapshotDuration.Observe(duration.Seconds())
}

// StoreWriteError counts a failed store write.
func (s *MetricsService) StoreWriteError() {
	s.storeWriteErrors.Inc()
}

// MeetingProvisionFailed counts a swallowed provisioning failure.
func (s *MetricsService) MeetingProvisionFailed() {
	s.meetingFailures.Inc()
}

func httpStatusLabel(status int) string {
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
