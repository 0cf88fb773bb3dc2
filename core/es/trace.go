package es

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceContext writes the trace context of ctx into event metadata
// using the globally configured propagator. It returns nil when there is
// nothing to propagate.
func InjectTraceContext(ctx context.Context) map[string]string {
	md := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, md)
	if len(md) == 0 {
		return nil
	}
	return md
}

// ExtractTraceContext restores a trace context captured by
// InjectTraceContext onto ctx.
func ExtractTraceContext(ctx context.Context, metadata map[string]string) context.Context {
	if len(metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(metadata))
}
