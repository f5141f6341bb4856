package emit

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, NewOTelEmitter(otel.Tracer("test"))
}

func TestOTelEmitter_Emit(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		RunID:      "run-001",
		Step:       1,
		ExecutorID: "uppercase",
		Msg:        "executor_invoked",
		Meta: map[string]interface{}{
			"status":      "success",
			"duration_ms": int64(12),
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != "executor_invoked" {
		t.Errorf("span name = %q, want executor_invoked", span.Name)
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["superstep.run_id"]; got != "run-001" {
		t.Errorf("run_id = %v", got)
	}
	if got := attrs["superstep.step"]; got != int64(1) {
		t.Errorf("step = %v", got)
	}
	if got := attrs["superstep.executor_id"]; got != "uppercase" {
		t.Errorf("executor_id = %v", got)
	}
	if got := attrs["superstep.status"]; got != "success" {
		t.Errorf("status = %v", got)
	}
	if got := attrs["superstep.duration_ms"]; got != int64(12) {
		t.Errorf("duration_ms = %v", got)
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitter_ErrorStatus(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		RunID: "run-001",
		Step:  2,
		Msg:   "workflow_error",
		Meta: map[string]interface{}{
			"error": "handler failed",
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", span.Status.Code)
	}
	if span.Status.Description != "handler failed" {
		t.Errorf("status description = %q", span.Status.Description)
	}
}

func TestOTelEmitter_MetadataConversion(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		RunID: "run-001",
		Msg:   "superstep_completed",
		Meta: map[string]interface{}{
			"count":    7,
			"ratio":    0.5,
			"flagged":  true,
			"elapsed":  250 * time.Millisecond,
			"anything": struct{ A int }{A: 1},
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attributeMap(spans[0].Attributes)

	if got := attrs["count"]; got != int64(7) {
		t.Errorf("count = %v (%T)", got, got)
	}
	if got := attrs["ratio"]; got != 0.5 {
		t.Errorf("ratio = %v", got)
	}
	if got := attrs["flagged"]; got != true {
		t.Errorf("flagged = %v", got)
	}
	if got := attrs["elapsed"]; got != int64(250) {
		t.Errorf("elapsed = %v, want milliseconds as int64", got)
	}
	if _, ok := attrs["anything"].(string); !ok {
		t.Errorf("unknown types must stringify, got %T", attrs["anything"])
	}
}

func TestOTelEmitter_EmitBatch(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	events := []Event{
		{RunID: "run-001", Step: 1, Msg: "executor_invoked"},
		{RunID: "run-001", Step: 1, Msg: "superstep_completed"},
		{RunID: "run-001", Step: 2, Msg: "checkpoint_committed", Meta: map[string]interface{}{"checkpoint_id": "sha256:abc"}},
	}
	if err := emitter.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	attrs := attributeMap(spans[2].Attributes)
	if got := attrs["superstep.checkpoint_id"]; got != "sha256:abc" {
		t.Errorf("checkpoint_id = %v", got)
	}

	if err := emitter.EmitBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch must be a no-op, got %v", err)
	}
}

func TestOTelEmitter_Flush(t *testing.T) {
	_, emitter := newTestTracer(t)
	emitter.Emit(Event{RunID: "run-001", Msg: "executor_invoked"})
	if err := emitter.Flush(context.Background()); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}
