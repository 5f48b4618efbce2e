package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracer_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr := NewTracerFromProvider(tp)

	ctx, parent := tr.Start(context.Background(), "chat.process", attribute.Int64("actor_id", 7))
	_, child := tr.Start(ctx, "tool.create_task")
	EndSpan(child, errors.New("boom"))
	EndSpan(parent, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "tool.create_task" || spans[0].Status().Code != codes.Error {
		t.Errorf("child = %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("tool span is not a child of the chat span")
	}
	if spans[1].Status().Code != codes.Ok {
		t.Errorf("parent status = %v", spans[1].Status())
	}
}

func TestNewTracer_NoEndpoint(t *testing.T) {
	tr, shutdown, err := NewTracer(context.Background(), TraceConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer shutdown(context.Background())

	_, span := tr.Start(context.Background(), "agent.invoke")
	EndSpan(span, nil)

	var nilTracer *Tracer
	_, span = nilTracer.Start(context.Background(), "agent.invoke")
	EndSpan(span, nil)
}

func TestSampler(t *testing.T) {
	for _, rate := range []float64{0, 0.25, 1, 5} {
		if sampler(rate) == nil {
			t.Errorf("sampler(%v) = nil", rate)
		}
	}
}
