package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for an operation.
//
//	ctx, span := telemetry.StartSpan(ctx, "gridauth/auth", "openid.ExchangeCode",
//	    attribute.String(telemetry.AttrClientID, clientID),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records err on the span and marks the span failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Span and metric attribute keys.
const (
	AttrAuthMethod  = "auth.method"
	AttrAuthOutcome = "auth.outcome"
	AttrAuthReason  = "auth.reason"
	AttrClientID    = "openid.client_id"
	AttrPathPattern = "http.path_pattern"
	AttrDecision    = "authz.decision"

	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"
)
