package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels shared by every recorder
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultNotFound = "not_found"
)

// Recorder receives SSO measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// RecordAttempt records a finished Start or Complete call
	RecordAttempt(ctx context.Context, operation, result, reason string, d time.Duration)
	// RecordProviderCall records one discovery, token or JWKS round trip
	RecordProviderCall(ctx context.Context, call, result string, d time.Duration)
	// RecordStateOp records a state store put or consume
	RecordStateOp(ctx context.Context, op, result string)
}

// Recorders fans measurements out to several recorders
type Recorders []Recorder

func (rs Recorders) RecordAttempt(ctx context.Context, operation, result, reason string, d time.Duration) {
	for _, r := range rs {
		r.RecordAttempt(ctx, operation, result, reason, d)
	}
}

func (rs Recorders) RecordProviderCall(ctx context.Context, call, result string, d time.Duration) {
	for _, r := range rs {
		r.RecordProviderCall(ctx, call, result, d)
	}
}

func (rs Recorders) RecordStateOp(ctx context.Context, op, result string) {
	for _, r := range rs {
		r.RecordStateOp(ctx, op, result)
	}
}

// NopRecorder discards all measurements
type NopRecorder struct{}

func (NopRecorder) RecordAttempt(context.Context, string, string, string, time.Duration) {}
func (NopRecorder) RecordProviderCall(context.Context, string, string, time.Duration)    {}
func (NopRecorder) RecordStateOp(context.Context, string, string)                        {}

// Metrics holds the Prometheus SSO metrics
type Metrics struct {
	AttemptsTotal        *prometheus.CounterVec
	AttemptDuration      *prometheus.HistogramVec
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	StateOperationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_attempts_total",
				Help: "Total number of SSO start and complete calls",
			},
			[]string{"operation", "result", "reason"},
		),
		AttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sso_attempt_duration_seconds",
				Help:    "SSO start and complete duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		),
		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_provider_calls_total",
				Help: "Total number of calls made to identity providers",
			},
			[]string{"call", "result"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sso_provider_call_duration_seconds",
				Help:    "Identity provider call duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"call"},
		),
		StateOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_state_operations_total",
				Help: "Total number of state store operations",
			},
			[]string{"operation", "result"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.AttemptsTotal,
			m.AttemptDuration,
			m.ProviderCallsTotal,
			m.ProviderCallDuration,
			m.StateOperationsTotal,
		)
	}

	return m
}

// RecordAttempt records a finished Start or Complete call
func (m *Metrics) RecordAttempt(_ context.Context, operation, result, reason string, d time.Duration) {
	m.AttemptsTotal.WithLabelValues(operation, result, reason).Inc()
	m.AttemptDuration.WithLabelValues(operation, result).Observe(d.Seconds())
}

// RecordProviderCall records one identity provider round trip
func (m *Metrics) RecordProviderCall(_ context.Context, call, result string, d time.Duration) {
	m.ProviderCallsTotal.WithLabelValues(call, result).Inc()
	m.ProviderCallDuration.WithLabelValues(call).Observe(d.Seconds())
}

// RecordStateOp records a state store operation
func (m *Metrics) RecordStateOp(_ context.Context, op, result string) {
	m.StateOperationsTotal.WithLabelValues(op, result).Inc()
}

// RegisterMetricsEndpoint registers the Prometheus metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
