package backend

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic is a ModelBackend backed by the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic builds an Anthropic-backed ModelBackend using apiKey, or the
// ANTHROPIC_API_KEY environment variable when apiKey is empty.
func NewAnthropic(apiKey string) *Anthropic {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

func (a *Anthropic) Call(ctx context.Context, provider, model, systemPrompt string, messages []Message, limits Limits) (*Result, error) {
	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(limits.MaxTokens),
		Messages:    toAnthropicMessages(messages),
		Temperature: anthropic.Float(limits.Temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return nil, classifyAnthropicError(provider, model, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, &Error{
			Class:    ErrClassParse,
			Provider: provider,
			Model:    model,
			Err:      errors.New("anthropic response had no text content block"),
		}
	}

	return &Result{
		Content: text,
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
		LatencyMS: latency,
	}, nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// classifyAnthropicError maps the SDK's error surface onto the harness's
// transport/rate_limit/abort taxonomy. Context deadline/cancellation maps
// to abort; everything else the SDK itself raised as an API error maps to
// transport unless it carries a 429 status, which maps to rate_limit.
func classifyAnthropicError(provider, model string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Class: ErrClassAbort, Provider: provider, Model: model, Err: err}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return &Error{
			Class:      ErrClassRateLimit,
			Provider:   provider,
			Model:      model,
			Err:        err,
			RetryAfter: rateLimitRetryAfter(apiErr),
		}
	}

	return &Error{Class: ErrClassTransport, Provider: provider, Model: model, Err: err}
}

func rateLimitRetryAfter(apiErr *anthropic.Error) time.Duration {
	if apiErr == nil || apiErr.Response == nil {
		return 0
	}
	if v := apiErr.Response.Header.Get("retry-after"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}
