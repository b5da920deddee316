package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates the HTTP server instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("gridauth/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records one HTTP request.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route string, status int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, strconv.Itoa(status)),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)
	if status >= 500 {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// AuthMetrics holds metric instruments for the authentication dispatcher.
// A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	Challenges  metric.Int64Counter
	Validations metric.Int64Counter
	Decisions   metric.Int64Counter
	ExchangeMs  metric.Float64Histogram
}

// NewAuthMetrics creates the authentication instruments.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("gridauth/auth")

	challenges, err := meter.Int64Counter(
		"auth.challenge.count",
		metric.WithDescription("Authentication challenges issued"),
		metric.WithUnit("{challenge}"),
	)
	if err != nil {
		return nil, err
	}

	validations, err := meter.Int64Counter(
		"auth.validation.count",
		metric.WithDescription("Authentication validations by outcome"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"authz.decision.count",
		metric.WithDescription("Constraint decisions by result"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	exchange, err := meter.Float64Histogram(
		"auth.provider.exchange.duration",
		metric.WithDescription("OpenID provider code exchange duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		Challenges:  challenges,
		Validations: validations,
		Decisions:   decisions,
		ExchangeMs:  exchange,
	}, nil
}

// RecordChallenge counts a challenge issued by method.
func (a *AuthMetrics) RecordChallenge(ctx context.Context, method string) {
	if a == nil {
		return
	}
	a.Challenges.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAuthMethod, method)))
}

// RecordValidation counts a validation by method and outcome. reason is empty
// on success.
func (a *AuthMetrics) RecordValidation(ctx context.Context, method, outcome, reason string) {
	if a == nil {
		return
	}
	a.Validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuthMethod, method),
		attribute.String(AttrAuthOutcome, outcome),
		attribute.String(AttrAuthReason, reason),
	))
}

// RecordDecision counts a constraint decision.
func (a *AuthMetrics) RecordDecision(ctx context.Context, decision string) {
	if a == nil {
		return
	}
	a.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrDecision, decision)))
}

// RecordExchange records the latency of a provider code exchange.
func (a *AuthMetrics) RecordExchange(ctx context.Context, durationMs float64, success bool) {
	if a == nil {
		return
	}
	a.ExchangeMs.Record(ctx, durationMs, metric.WithAttributes(attribute.Bool("auth.success", success)))
}
