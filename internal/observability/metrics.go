package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	collabDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
)

// Metrics holds all Prometheus metric instruments for the orchestrator.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Instance lifecycle metrics
	InstanceStartsTotal      prometheus.Counter
	InstanceCompletionsTotal prometheus.Counter
	InstanceDeletionsTotal   prometheus.Counter
	ActiveInstances          prometheus.Gauge

	// Human-in-the-loop metrics
	FeedbackSubmissionsTotal *prometheus.CounterVec
	InterruptsRaisedTotal    *prometheus.CounterVec
	SectionEditsTotal        prometheus.Counter
	ResumeFailuresTotal      prometheus.Counter

	// Collaborator metrics
	GenerationDuration     prometheus.Histogram
	EvaluationDuration     prometheus.Histogram
	GenerationFailuresTotal *prometheus.CounterVec
	EvaluationFailuresTotal *prometheus.CounterVec

	// Checkpoint metrics
	CheckpointWritesTotal    prometheus.Counter
	CheckpointConflictsTotal prometheus.Counter

	// Graph metrics
	StalePropagationsTotal   prometheus.Counter
	SectionsDemotedStale     prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "draftforge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		InstanceStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_instance_starts_total",
			Help: "Total number of workflow instances created.",
		}),
		InstanceCompletionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_instance_completions_total",
			Help: "Total number of workflow instances completed.",
		}),
		InstanceDeletionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_instance_deletions_total",
			Help: "Total number of workflow instances deleted.",
		}),
		ActiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "draftforge_active_instances",
			Help: "Number of workflow instances currently active.",
		}),

		FeedbackSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_feedback_submissions_total",
			Help: "Total number of feedback submissions.",
		}, []string{"type", "outcome"}),
		InterruptsRaisedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_interrupts_raised_total",
			Help: "Total number of interrupts raised.",
		}, []string{"reason"}),
		SectionEditsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_section_edits_total",
			Help: "Total number of direct section edits.",
		}),
		ResumeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_resume_failures_total",
			Help: "Total number of failed post-feedback resumptions.",
		}),

		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "draftforge_generation_duration_seconds",
			Help:    "Generation collaborator call duration in seconds.",
			Buckets: collabDurationBuckets,
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "draftforge_evaluation_duration_seconds",
			Help:    "Evaluation collaborator call duration in seconds.",
			Buckets: collabDurationBuckets,
		}),
		GenerationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_generation_failures_total",
			Help: "Total number of failed generation calls.",
		}, []string{"code"}),
		EvaluationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_evaluation_failures_total",
			Help: "Total number of failed evaluation calls.",
		}, []string{"code"}),

		CheckpointWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_checkpoint_writes_total",
			Help: "Total number of checkpoint writes.",
		}),
		CheckpointConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_checkpoint_conflicts_total",
			Help: "Total number of checkpoint writes rejected with a stale version.",
		}),

		StalePropagationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_stale_propagations_total",
			Help: "Total number of stale propagation passes.",
		}),
		SectionsDemotedStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftforge_sections_demoted_stale_total",
			Help: "Total number of sections demoted to STALE by propagation.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InstanceStartsTotal,
		m.InstanceCompletionsTotal,
		m.InstanceDeletionsTotal,
		m.ActiveInstances,
		m.FeedbackSubmissionsTotal,
		m.InterruptsRaisedTotal,
		m.SectionEditsTotal,
		m.ResumeFailuresTotal,
		m.GenerationDuration,
		m.EvaluationDuration,
		m.GenerationFailuresTotal,
		m.EvaluationFailuresTotal,
		m.CheckpointWritesTotal,
		m.CheckpointConflictsTotal,
		m.StalePropagationsTotal,
		m.SectionsDemotedStale,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordInstanceStart records a new workflow instance.
func (m *Metrics) RecordInstanceStart() {
	m.InstanceStartsTotal.Inc()
	m.ActiveInstances.Inc()
}

// RecordInstanceCompletion records an instance reaching completed status.
func (m *Metrics) RecordInstanceCompletion() {
	m.InstanceCompletionsTotal.Inc()
	m.ActiveInstances.Dec()
}

// RecordInstanceDeletion records an instance tombstone.
func (m *Metrics) RecordInstanceDeletion(wasActive bool) {
	m.InstanceDeletionsTotal.Inc()
	if wasActive {
		m.ActiveInstances.Dec()
	}
}

// RecordFeedback records a feedback submission and its outcome.
func (m *Metrics) RecordFeedback(feedbackType, outcome string) {
	m.FeedbackSubmissionsTotal.WithLabelValues(feedbackType, outcome).Inc()
}

// RecordInterrupt records an interrupt being raised.
func (m *Metrics) RecordInterrupt(reason string) {
	m.InterruptsRaisedTotal.WithLabelValues(reason).Inc()
}

// RecordSectionEdit records a direct content edit.
func (m *Metrics) RecordSectionEdit() {
	m.SectionEditsTotal.Inc()
}

// RecordResumeFailure records a failed post-feedback resumption.
func (m *Metrics) RecordResumeFailure() {
	m.ResumeFailuresTotal.Inc()
}

// RecordGeneration records a generation call outcome. code is empty on
// success.
func (m *Metrics) RecordGeneration(duration time.Duration, code string) {
	m.GenerationDuration.Observe(duration.Seconds())
	if code != "" {
		m.GenerationFailuresTotal.WithLabelValues(code).Inc()
	}
}

// RecordEvaluation records an evaluation call outcome. code is empty on
// success.
func (m *Metrics) RecordEvaluation(duration time.Duration, code string) {
	m.EvaluationDuration.Observe(duration.Seconds())
	if code != "" {
		m.EvaluationFailuresTotal.WithLabelValues(code).Inc()
	}
}

// RecordCheckpointWrite records a checkpoint write attempt.
func (m *Metrics) RecordCheckpointWrite(conflict bool) {
	m.CheckpointWritesTotal.Inc()
	if conflict {
		m.CheckpointConflictsTotal.Inc()
	}
}

// RecordStalePropagation records one propagation pass and how many sections
// it demoted.
func (m *Metrics) RecordStalePropagation(demoted int) {
	m.StalePropagationsTotal.Inc()
	m.SectionsDemotedStale.Add(float64(demoted))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
