package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTracerProvider(tp)
	return exporter, NewOTelEmitter(otel.Tracer("test"))
}

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestOTelEmitterCreatesSpan(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		ExecutionID: "run-001",
		Step:        2,
		NodeID:      "1.big.0",
		Edge:        "success",
		Msg:         NodeComplete,
		Meta: map[string]any{
			"duration_ms": int64(12),
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != NodeComplete {
		t.Errorf("span name = %q, want %q", span.Name, NodeComplete)
	}

	attrs := attributeMap(span.Attributes)
	if attrs["execution_id"] != "run-001" {
		t.Errorf("execution_id = %v", attrs["execution_id"])
	}
	if attrs["step"] != int64(2) {
		t.Errorf("step = %v", attrs["step"])
	}
	if attrs["node_id"] != "1.big.0" {
		t.Errorf("node_id = %v", attrs["node_id"])
	}
	if attrs["edge"] != "success" {
		t.Errorf("edge = %v", attrs["edge"])
	}
	if attrs["duration_ms"] != int64(12) {
		t.Errorf("duration_ms = %v", attrs["duration_ms"])
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitterErrorStatus(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		ExecutionID: "run-001",
		NodeID:      "0",
		Msg:         WorkflowFailed,
		Meta: map[string]any{
			"cause": "node",
			"error": "deliberate failure",
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Errorf("status = %v, want %v", span.Status.Code, codes.Error)
	}
	if span.Status.Description != "deliberate failure" {
		t.Errorf("description = %q", span.Status.Description)
	}

	attrs := attributeMap(span.Attributes)
	if attrs["cause"] != "node" {
		t.Errorf("cause = %v", attrs["cause"])
	}
}

func TestOTelEmitterOmitsEmptyFields(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{ExecutionID: "run-001", Msg: WorkflowStart})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	attrs := attributeMap(spans[0].Attributes)
	if _, ok := attrs["node_id"]; ok {
		t.Errorf("empty node_id attached: %v", attrs)
	}
	if _, ok := attrs["edge"]; ok {
		t.Errorf("empty edge attached: %v", attrs)
	}
}

func TestMetaAttributeTypes(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  attribute.KeyValue
	}{
		{"string", "x", attribute.String("k", "x")},
		{"bool", true, attribute.Bool("k", true)},
		{"int", 7, attribute.Int("k", 7)},
		{"int64", int64(8), attribute.Int64("k", 8)},
		{"float64", 1.5, attribute.Float64("k", 1.5)},
		{"fallback", []string{"a"}, attribute.String("k", "[a]")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := metaAttribute("k", tt.value); got != tt.want {
				t.Errorf("metaAttribute = %v, want %v", got, tt.want)
			}
		})
	}
}
