package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the VocaHire tracer.
const tracerName = "github.com/vocahire/vocahire"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// span carries the evaluation source from ctx when one is set. The caller
// must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if src := Source(ctx); src != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("evaluation.source", src)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// FailSpan records err on span and marks it failed. A nil err is a no-op.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type sourceKey struct{}

// WithSource tags ctx with the entry point that started an evaluation
// ("http", "inbox", "mcp" or "cli"). Spans and loggers derived from the
// returned context carry the tag.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// Source returns the tag set by [WithSource], or "".
func Source(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}

// CorrelationID returns the trace ID of the active span in ctx, which
// doubles as the request correlation ID. Returns "" when no active span
// with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] enriched with trace_id and
// span_id from the active span and with the evaluation source, when those
// are present in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if src := Source(ctx); src != "" {
		l = l.With(slog.String("source", src))
	}
	return l
}
