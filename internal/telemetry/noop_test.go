package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/jervis-ai/jervis/internal/telemetry"
)

func TestNoopImplementationsDoNotPanic(t *testing.T) {
	ctx := context.Background()

	logger := telemetry.NewNoopLogger()
	logger.Debug(ctx, "msg", "k", "v")
	logger.Info(ctx, "msg")
	logger.Warn(ctx, "msg", "k", 1)
	logger.Error(ctx, "msg", "err", "boom")

	metrics := telemetry.NewNoopMetrics()
	metrics.IncCounter("c", 1, "tag", "v")
	metrics.RecordTimer("t", time.Second)
	metrics.RecordGauge("g", 1.5)

	tracer := telemetry.NewNoopTracer()
	spanCtx, span := tracer.Start(ctx, "op")
	if spanCtx == nil {
		t.Fatal("expected non-nil context")
	}
	span.AddEvent("evt", "k", "v")
	span.RecordError(nil)
	span.End()

	if tracer.Span(ctx) == nil {
		t.Fatal("expected non-nil span")
	}
}
