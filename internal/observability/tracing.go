// Package observability holds the tracing helpers shared by the client pipeline and the
// reference server.
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	cjerrors "crewjob/internal/errors"
)

const tracerName = "crewjob"

var tracerOnce sync.Once

// InitTracing installs a no-op provider unless enabled, in which case whatever provider the
// embedding program registered through otel.SetTracerProvider is used. The returned
// shutdown is always safe to call.
func InitTracing(enabled bool) func(context.Context) error {
	tracerOnce.Do(func() {
		if !enabled {
			otel.SetTracerProvider(noop.NewTracerProvider())
		}
	})
	return func(context.Context) error { return nil }
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span failed and tags it with the error code. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.code", string(cjerrors.CodeOf(err))))
}
