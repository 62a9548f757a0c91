package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "github.com/danmuck/marionette"

// StartCommandSpan opens a client span for one dispatched command using the
// global tracer provider (a no-op until main installs one).
func StartCommandSpan(ctx context.Context, command string, messageID uint64) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(
		ctx,
		"marionette."+command,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("marionette.command", command),
			attribute.Int64("marionette.message_id", int64(messageID)),
		),
	)
}

// EndCommandSpan records err (if any) and ends span.
func EndCommandSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
