package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for parley spans.
var (
	AttrSessionID     = attribute.Key("parley.session.id")
	AttrUserID        = attribute.Key("parley.user.id")
	AttrProvider      = attribute.Key("parley.llm.provider")
	AttrModel         = attribute.Key("parley.llm.model")
	AttrTokensInput   = attribute.Key("parley.llm.tokens.input")
	AttrTokensOutput  = attribute.Key("parley.llm.tokens.output")
	AttrHistoryTurns  = attribute.Key("parley.memory.history_turns")
	AttrCoveredRounds = attribute.Key("parley.memory.covered_rounds")
)

// Span names used by the engine and memory pipeline.
const (
	SpanChatTurn       = "parley.chat.turn"
	SpanMemoryBuild    = "parley.memory.build"
	SpanMemoryCompress = "parley.memory.compress"
	SpanLLMStream      = "parley.llm.stream"
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound LLM call.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
