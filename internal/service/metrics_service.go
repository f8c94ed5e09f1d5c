package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the lifecycle
// workflows and the HTTP surface.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	enrollmentTransitions *prometheus.CounterVec
	gradeTransitions      *prometheus.CounterVec
	progressionsTotal     *prometheus.CounterVec
	stateConflictsTotal   *prometheus.CounterVec
	notificationsTotal    *prometheus.CounterVec
	loadRecomputeSeconds  prometheus.Observer
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

	enrollmentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_transitions_total",
		Help: "Enrollment status transitions by target state",
	}, []string{"to"})

	gradeTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_approval_transitions_total",
		Help: "Grade approval transitions by target state",
	}, []string{"to"})

	progressionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "progressions_total",
		Help: "Completed progressions by type",
	}, []string{"type"})

	stateConflictsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "state_conflicts_total",
		Help: "Rejected transitions by workflow",
	}, []string{"workflow"})

	notificationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Notifications dispatched by event",
	}, []string{"event"})

	loadRecomputeSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "faculty_load_recompute_seconds",
		Help:    "Duration of faculty load recomputations",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, enrollmentTransitions, gradeTransitions, progressionsTotal, stateConflictsTotal, notificationsTotal, loadRecomputeSeconds, goroutines)

	return &MetricsService{
		registry:              registry,
		handler:               promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:       requestDuration,
		requestTotal:          requestTotal,
		enrollmentTransitions: enrollmentTransitions,
		gradeTransitions:      gradeTransitions,
		progressionsTotal:     progressionsTotal,
		stateConflictsTotal:   stateConflictsTotal,
		notificationsTotal:    notificationsTotal,
		loadRecomputeSeconds:  loadRecomputeSeconds,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordEnrollmentTransition counts one enrollment status change.
func (m *MetricsService) RecordEnrollmentTransition(to string) {
	if m == nil {
		return
	}
	m.enrollmentTransitions.WithLabelValues(to).Inc()
}

// RecordGradeTransition counts one grade approval change.
func (m *MetricsService) RecordGradeTransition(to string) {
	if m == nil {
		return
	}
	m.gradeTransitions.WithLabelValues(to).Inc()
}

// RecordProgression counts one completed progression.
func (m *MetricsService) RecordProgression(progressionType string) {
	if m == nil {
		return
	}
	m.progressionsTotal.WithLabelValues(progressionType).Inc()
}

// RecordStateConflict counts one rejected transition.
func (m *MetricsService) RecordStateConflict(workflow string) {
	if m == nil {
		return
	}
	m.stateConflictsTotal.WithLabelValues(workflow).Inc()
}

// RecordNotification counts one dispatched notification.
func (m *MetricsService) RecordNotification(event string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(event).Inc()
}

// ObserveLoadRecompute tracks how long a faculty load rebuild took.
func (m *MetricsService) ObserveLoadRecompute(duration time.Duration) {
	if m == nil || m.loadRecomputeSeconds == nil {
		return
	}
	m.loadRecomputeSeconds.Observe(duration.Seconds())
}
