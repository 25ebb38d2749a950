package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecordErrorMarksSpanFailed(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer("test").Start(context.Background(), "step.deploy")
	RecordError(span, errors.New("deploy blew up"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}

	got := spans[0]
	if got.Status().Code != codes.Error {
		t.Errorf("span status = %v, want error", got.Status().Code)
	}
	if got.Status().Description != "deploy blew up" {
		t.Errorf("span status description = %q", got.Status().Description)
	}
	if events := got.Events(); len(events) != 1 || events[0].Name != "exception" {
		t.Errorf("span events = %v, want one exception event", got.Events())
	}
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer("test").Start(context.Background(), "step.deploy")
	RecordError(span, nil)
	span.End()

	if got := recorder.Ended()[0]; got.Status().Code == codes.Error {
		t.Error("nil error must not mark the span failed")
	}
}
