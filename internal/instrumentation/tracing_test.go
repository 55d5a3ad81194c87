package instrumentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestStartCommandSpan(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartCommandSpan(context.Background(), "/sync", 42)
	assert.NotEmpty(t, GetTraceID(ctx))
	EndSpan(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "command./sync", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestStartAPISpan_Error(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartAPISpan(context.Background(), ServiceGmail, OperationList)
	EndSpan(span, errors.New("quota"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "gmail.list", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "quota", spans[0].Status().Description)
}

func TestStartSpan_Nested(t *testing.T) {
	recorder := withRecorder(t)

	ctx, parent := StartSpan(context.Background(), "poll.cycle")
	_, child := StartSpan(ctx, "poll.tenant")
	EndSpan(child, nil)
	EndSpan(parent, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
}
