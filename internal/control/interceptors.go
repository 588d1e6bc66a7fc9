package control

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
)

const tracerName = "github.com/signalsfoundry/conveyor-simulator/internal/control"

const requestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor puts a request_id on the context, taking it
// from inbound metadata when the caller supplied one, and logs the call.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRequestID(ctx, vals[0])
			}
		}
		ctx, log := logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))

		resp, err := handler(ctx, req)
		if err != nil {
			log.Debug(ctx, "grpc request failed", logging.Err(err))
		}
		return resp, err
	}
}

// TracingUnaryServerInterceptor starts a server span per RPC unless one is
// already active, and tags it with the rpc.* attributes.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := fmt.Sprintf("grpc/%s/%s", service, method)

		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			created = true
		} else {
			span.SetName(name)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		}
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			attrs = append(attrs, attribute.String("request_id", reqID))
		}
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		if created {
			span.End()
		}
		return resp, err
	}
}
