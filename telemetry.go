package asiomysql

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AStone/AsioBased-MysqlClient"

var tracer = otel.Tracer(instrumentationName)

// EnableTelemetry toggles OTel span creation for this Pool's
// connects/statements/transactions without touching p.cfg.Telemetry,
// so it can be flipped at runtime (e.g. disabled during a burst of
// retries a caller doesn't want traced).
func (p *Pool) EnableTelemetry(enabled bool) {
	if p == nil {
		return
	}
	p.telemetryEnabled = enabled
}

// startSpan opens a span named "asiomysql.<operation>" with the
// standard db.* attributes. Returns a no-op span
// (trace.SpanFromContext) when telemetry is disabled, so callers never
// need a nil check.
func (p *Pool) startSpan(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	if p == nil || !p.telemetryEnabled {
		return ctx, trace.SpanFromContext(ctx)
	}

	spanCtx, span := tracer.Start(ctx, fmt.Sprintf("asiomysql.%s", operation))
	span.SetAttributes(
		attribute.String("db.system", "mysql"),
		attribute.String("db.operation", operation),
		attribute.String("asiomysql.pool", p.name),
	)
	if sql != "" {
		span.SetAttributes(attribute.String("db.statement", sql))
	}
	return spanCtx, span
}

// finishSpan records err (if any) onto span and ends it.
func (p *Pool) finishSpan(span trace.Span, err error) {
	if p == nil || !p.telemetryEnabled {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
