package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "sfugate", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceSignalRequest(t *testing.T) {
	sr := installRecorder(t)

	ctx, span := TraceSignalRequest(context.Background(), "produce", 7, "peer-1")
	AddSpanAttributes(ctx, RoomIDKey.String("R1"))
	MeasureDuration(ctx, time.Now())
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "signal.produce", ended[0].Name())

	attrs := map[string]interface{}{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "produce", attrs["signal.method"])
	assert.Equal(t, int64(7), attrs["signal.request.id"])
	assert.Equal(t, "peer-1", attrs["sfu.peer.id"])
	assert.Equal(t, "R1", attrs["sfu.room.id"])
	assert.Contains(t, attrs, "duration_ms")
}

func TestRecordError(t *testing.T) {
	sr := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "test")
	RecordError(ctx, errors.New("boom"))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
}

func TestTraceHTTPRequest(t *testing.T) {
	sr := installRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "GET", "/health")
	span.End()

	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, "http.GET", sr.Ended()[0].Name())
}
