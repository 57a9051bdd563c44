package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	attemptsTotal        metric.Int64Counter
	attemptDuration      metric.Float64Histogram
	providerCallsTotal   metric.Int64Counter
	providerCallDuration metric.Float64Histogram
	stateOperations      metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/spoke-sso"))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.attemptsTotal, err = meter.Int64Counter(
		"sso.attempts",
		metric.WithDescription("Total number of SSO start and complete calls"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sso.attempts counter: %w", err)
	}

	m.attemptDuration, err = meter.Float64Histogram(
		"sso.attempt.duration",
		metric.WithDescription("SSO start and complete duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sso.attempt.duration histogram: %w", err)
	}

	m.providerCallsTotal, err = meter.Int64Counter(
		"sso.provider.calls",
		metric.WithDescription("Total number of calls made to identity providers"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sso.provider.calls counter: %w", err)
	}

	m.providerCallDuration, err = meter.Float64Histogram(
		"sso.provider.call.duration",
		metric.WithDescription("Identity provider call duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sso.provider.call.duration histogram: %w", err)
	}

	m.stateOperations, err = meter.Int64Counter(
		"sso.state.operations",
		metric.WithDescription("Total number of state store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sso.state.operations counter: %w", err)
	}

	return m, nil
}

// RecordAttempt records a finished Start or Complete call
func (m *OTelMetrics) RecordAttempt(ctx context.Context, operation, result, reason string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("sso.operation", operation),
		attribute.String("sso.result", result),
		attribute.String("sso.reason", reason),
	)
	m.attemptsTotal.Add(ctx, 1, attrs)
	m.attemptDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordProviderCall records one identity provider round trip
func (m *OTelMetrics) RecordProviderCall(ctx context.Context, call, result string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("sso.provider_call", call),
		attribute.String("sso.result", result),
	)
	m.providerCallsTotal.Add(ctx, 1, attrs)
	m.providerCallDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStateOp records a state store operation
func (m *OTelMetrics) RecordStateOp(ctx context.Context, op, result string) {
	m.stateOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sso.state_operation", op),
		attribute.String("sso.result", result),
	))
}
