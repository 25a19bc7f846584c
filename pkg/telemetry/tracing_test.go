package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupTracingDefaults(t *testing.T) {
	ctx := context.Background()
	provider, err := SetupTracing(ctx, "trace-server", "test", Options{})
	if err != nil {
		t.Fatalf("setup tracing failed: %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider")
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestSetupTracingClampsSampleRatio(t *testing.T) {
	ctx := context.Background()
	provider, err := SetupTracing(ctx, "trace-server", "test", Options{SampleRatio: 7})
	if err != nil {
		t.Fatalf("setup tracing failed: %v", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestSpanRecorderCapturesCompletedSpans(t *testing.T) {
	recorder := NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx := context.Background()

	_, span := provider.Tracer("test").Start(ctx, "ingest-scan")
	span.End()

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if got := len(recorder.Completed()); got != 1 {
		t.Fatalf("expected 1 completed span, got %d", got)
	}
	if recorder.FirstSpanNamed("ingest-scan") == nil {
		t.Fatal("expected span by name")
	}
	if recorder.FirstSpanNamed("missing") != nil {
		t.Fatal("unexpected span for unknown name")
	}
}

func TestSetupTracingWithLogSpans(t *testing.T) {
	ctx := context.Background()
	provider, err := SetupTracing(ctx, "trace-server", "test", Options{LogSpans: true})
	if err != nil {
		t.Fatalf("setup tracing failed: %v", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
