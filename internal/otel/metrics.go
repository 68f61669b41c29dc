package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all parley metric instruments.
type Metrics struct {
	TurnDuration        metric.Float64Histogram
	LLMCallDuration     metric.Float64Histogram
	PromptTokens        metric.Int64Counter
	CompletionTokens    metric.Int64Counter
	Compressions        metric.Int64Counter
	CompressionFailures metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TurnDuration, err = meter.Float64Histogram("parley.turn.duration",
		metric.WithDescription("Chat turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("parley.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PromptTokens, err = meter.Int64Counter("parley.tokens.prompt",
		metric.WithDescription("Prompt tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.CompletionTokens, err = meter.Int64Counter("parley.tokens.completion",
		metric.WithDescription("Completion tokens produced"),
	)
	if err != nil {
		return nil, err
	}

	m.Compressions, err = meter.Int64Counter("parley.compressions.total",
		metric.WithDescription("Successful history compressions"),
	)
	if err != nil {
		return nil, err
	}

	m.CompressionFailures, err = meter.Int64Counter("parley.compression_failures.total",
		metric.WithDescription("History compressions that failed and were skipped"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
