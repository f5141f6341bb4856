package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g., "executor_invoked", "superstep_completed")
//   - Attributes: runID, step, executorID, and all event.Meta fields
//   - Timestamps: Derived from span creation
//   - Status: Set to error if event.Meta["error"] exists
//
// Supports distributed tracing by:
//   - Creating spans for executor invocations and super-step boundaries
//   - Propagating trace context across service boundaries
//   - Recording checkpoint and request metadata as span attributes
//   - Capturing errors with stack traces
//
// Usage:
//
//	tracer := otel.Tracer("superstep-go")
//	emitter := emit.NewOTelEmitter(tracer)
//
//	run := workflow.NewRun(wf, workflow.WithEmitter(emitter))
//
// Integration with OpenTelemetry:
//
//	// Setup OpenTelemetry provider (application code)
//	import (
//	    "go.opentelemetry.io/otel"
//	    sdktrace "go.opentelemetry.io/otel/sdk/trace"
//	)
//
//	// Create trace provider with exporter (Jaeger, Zipkin, etc.)
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	)
//	otel.SetTracerProvider(tp)
//
//	tracer := otel.Tracer("superstep-go")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates a new OTelEmitter.
//
// Parameters:
//   - tracer: OpenTelemetry tracer from otel.Tracer("service-name")
//
// Returns an OTelEmitter that creates spans for each event.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates an OpenTelemetry span for the event.
//
// The span includes:
//   - Name: event.Msg
//   - Attributes: All event fields and metadata
//   - Status: Error if event contains error metadata
//
// For performance, the span is immediately ended (not left open). This
// is appropriate for events representing points in time rather than
// durations.
func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// EmitBatch creates multiple spans efficiently.
//
// Batching provides performance benefits by:
//   - Amortizing tracer overhead across multiple spans
//   - Enabling span processor batch optimizations
//   - Maintaining temporal locality for related events
//
// All spans are created and ended immediately. They are recorded in the
// OpenTelemetry batch span processor for efficient export.
//
// Parameters:
//   - ctx: Context for cancellation and trace propagation
//   - events: Events to emit as spans
//
// Returns error if span creation fails (rare, usually indicates
// misconfiguration).
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)

		o.addStandardAttributes(span, event)
		o.addMetadataAttributes(span, event.Meta)

		if err, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, err)
			span.RecordError(fmt.Errorf("%s", err))
		}

		// End span immediately (event is a point in time)
		span.End()
	}

	return nil
}

// Flush forces export of all pending spans.
//
// This method:
//   - Calls ForceFlush on the tracer provider if available
//   - Blocks until all spans are exported or timeout occurs
//   - Should be called before application shutdown
//   - Respects context cancellation and deadlines
//
// OpenTelemetry typically buffers spans in a batch span processor for
// efficiency. Flush ensures these buffered spans are sent to the backend
// before the application exits.
//
// Usage:
//
//	defer func() {
//	    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	    defer cancel()
//	    if err := emitter.Flush(ctx); err != nil {
//	        log.Printf("failed to flush spans: %v", err)
//	    }
//	}()
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	// Check if provider supports flushing (SDK tracer provider)
	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}

	// Provider doesn't support flushing (e.g., noop provider)
	return nil
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("superstep.run_id", event.RunID),
		attribute.Int("superstep.step", event.Step),
		attribute.String("superstep.executor_id", event.ExecutorID),
	)
}

// addMetadataAttributes converts event metadata to span attributes.
//
// Handles common types:
//   - string, int, int64, float64, bool: Direct conversion
//   - time.Duration: Convert to milliseconds
//   - Other types: Convert to string representation
//
// Well-known keys map to namespaced attribute names:
//   - checkpoint_id: superstep.checkpoint_id
//   - request_id: superstep.request_id
//   - duration_ms: superstep.duration_ms
//   - status: superstep.status
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	if meta == nil {
		return
	}

	for key, value := range meta {
		attrKey := key
		switch key {
		case "checkpoint_id":
			attrKey = "superstep.checkpoint_id"
		case "request_id":
			attrKey = "superstep.request_id"
		case "duration_ms":
			attrKey = "superstep.duration_ms"
		case "status":
			attrKey = "superstep.status"
		case "port":
			attrKey = "superstep.port"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
