package backend

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tarsy-eval/backend"

// Instrumented wraps a ModelBackend with usage/latency counters, the "side
// effects" named in spec.md §4.1 ("emits usage/latency counters for
// Scheduler bookkeeping; no persistence"). Grounded on the OpenTelemetry
// metrics usage found throughout the retrieved pack's agent frameworks.
type Instrumented struct {
	Backend ModelBackend
	Role    Role

	latency tokensHistogram
	tokens  metric.Int64Counter
}

type tokensHistogram = metric.Float64Histogram

// NewInstrumented wraps backend with metrics recorded against meter.
func NewInstrumented(backend ModelBackend, role Role, meter metric.Meter) (*Instrumented, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	latency, err := meter.Float64Histogram(
		"tarsy_eval_backend_call_latency_ms",
		metric.WithDescription("Model backend call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	tokens, err := meter.Int64Counter(
		"tarsy_eval_backend_tokens_total",
		metric.WithDescription("Tokens consumed by model backend calls"),
	)
	if err != nil {
		return nil, err
	}

	return &Instrumented{Backend: backend, Role: role, latency: latency, tokens: tokens}, nil
}

func (i *Instrumented) Call(ctx context.Context, provider, model, systemPrompt string, messages []Message, limits Limits) (*Result, error) {
	res, err := i.Backend.Call(ctx, provider, model, systemPrompt, messages, limits)

	attrs := attribute.NewSet(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("role", string(i.Role)),
	)

	if err != nil {
		return nil, err
	}

	i.latency.Record(ctx, float64(res.LatencyMS), metric.WithAttributeSet(attrs))
	i.tokens.Add(ctx, res.Usage.InputTokens, metric.WithAttributeSet(attrs), metric.WithAttributes(attribute.String("direction", "input")))
	i.tokens.Add(ctx, res.Usage.OutputTokens, metric.WithAttributeSet(attrs), metric.WithAttributes(attribute.String("direction", "output")))

	return res, nil
}
