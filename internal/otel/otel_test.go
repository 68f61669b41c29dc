package otel_test

import (
	"context"
	"testing"

	"github.com/parleyhq/parley/internal/otel"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	p, err := otel.Init(ctx, otel.Config{Enabled: false})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected non-nil tracer and meter even when disabled")
	}
	_, span := p.Tracer.Start(ctx, otel.SpanChatTurn)
	span.End()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	ctx := context.Background()
	p, err := otel.Init(ctx, otel.Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_, span := p.Tracer.Start(ctx, otel.SpanMemoryBuild)
	span.End()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_ConfiguredServiceAndSampling(t *testing.T) {
	ctx := context.Background()
	p, err := otel.Init(ctx, otel.Config{
		Enabled:     true,
		Exporter:    "none",
		ServiceName: "parley-test",
		SampleRate:  0.25,
		Version:     "v9.9-test",
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if p.TracerProvider == nil {
		t.Fatal("expected a real tracer provider when enabled")
	}
	// A partial sample rate must still allow spans to start and end.
	for i := 0; i < 8; i++ {
		_, span := p.Tracer.Start(ctx, otel.SpanChatTurn)
		span.End()
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_UnknownExporterFails(t *testing.T) {
	_, err := otel.Init(context.Background(), otel.Config{Enabled: true, Exporter: "jaeger"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestNewMetrics(t *testing.T) {
	p, err := otel.Init(context.Background(), otel.Config{Enabled: false})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	m, err := otel.NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	if m.Compressions == nil || m.CompressionFailures == nil || m.PromptTokens == nil {
		t.Fatal("expected all instruments constructed")
	}
	m.Compressions.Add(context.Background(), 1)
}
