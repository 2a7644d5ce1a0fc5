package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "flowrelay"

// StartDeliverySpan starts a span for one notification delivery.
func StartDeliverySpan(ctx context.Context, kind, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delivery",
		trace.WithAttributes(
			attribute.String("notification.kind", kind),
			attribute.String("delivery.mode", mode),
		),
	)
}

// StartUploadSpan starts a span for one file upload.
func StartUploadSpan(ctx context.Context, filename string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "upload",
		trace.WithAttributes(
			attribute.String("upload.filename", filename),
		),
	)
}
