package emit

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer() (*OTelEmitter, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewOTelEmitter(provider.Tracer("soni-test")), recorder
}

func TestOTelEmitter_Emit(t *testing.T) {
	emitter, recorder := newTestTracer()

	emitter.Emit(Event{
		RunID:  "alice:1",
		Step:   3,
		NodeID: "execute_flow",
		Msg:    "node_start",
		Meta:   map[string]interface{}{"flow": "book_flight", "depth": 2},
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "node_start" {
		t.Errorf("expected span named node_start, got %s", spans[0].Name())
	}

	attrs := map[string]interface{}{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["run_id"] != "alice:1" {
		t.Errorf("expected run_id attribute, got %v", attrs["run_id"])
	}
	if attrs["flow"] != "book_flight" {
		t.Errorf("expected flow meta attribute, got %v", attrs["flow"])
	}
}

func TestOTelEmitter_ErrorStatus(t *testing.T) {
	emitter, recorder := newTestTracer()

	emitter.Emit(Event{
		RunID: "r",
		Msg:   "node_error",
		Meta:  map[string]interface{}{"error": "action failed"},
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Description != "action failed" {
		t.Errorf("expected error status, got %+v", spans[0].Status())
	}
}

func TestOTelEmitter_EmitBatch(t *testing.T) {
	emitter, recorder := newTestTracer()

	events := []Event{
		{RunID: "r", Msg: "a"},
		{RunID: "r", Msg: "b"},
	}
	if err := emitter.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch failed: %v", err)
	}
	if len(recorder.Ended()) != 2 {
		t.Errorf("expected 2 spans, got %d", len(recorder.Ended()))
	}
}
