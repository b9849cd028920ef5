package kafkax

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventHeaders("evt-1", "booking.confirmed.v1"))
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("traceparent not injected: %+v", headers)
	}
	if HeaderValue(headers, HeaderEventType) != "booking.confirmed.v1" {
		t.Fatalf("event_type header lost")
	}

	extracted := otel.GetTextMapPropagator().Extract(context.Background(), &headerCarrier{headers: headers})
	out := trace.SpanContextFromContext(extracted)
	if out.TraceID() != traceID {
		t.Fatalf("trace id %s, want %s", out.TraceID(), traceID)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("got %v", got)
	}
}
