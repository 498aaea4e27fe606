package backend

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
)

// OpenAI is a ModelBackend backed by the OpenAI Chat Completions API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI builds an OpenAI-backed ModelBackend using apiKey, or the
// OPENAI_API_KEY environment variable when apiKey is empty.
func NewOpenAI(apiKey string) *OpenAI {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

func (o *OpenAI) Call(ctx context.Context, provider, model, systemPrompt string, messages []Message, limits Limits) (*Result, error) {
	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	chatMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			chatMessages = append(chatMessages, openai.AssistantMessage(m.Content))
		default:
			chatMessages = append(chatMessages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    chatMessages,
		Temperature: param.NewOpt(limits.Temperature),
	}
	if limits.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(limits.MaxTokens))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return nil, classifyOpenAIError(provider, model, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &Error{
			Class:    ErrClassParse,
			Provider: provider,
			Model:    model,
			Err:      errors.New("openai response had no choices"),
		}
	}

	return &Result{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		LatencyMS: latency,
	}, nil
}

func classifyOpenAIError(provider, model string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Class: ErrClassAbort, Provider: provider, Model: model, Err: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return &Error{Class: ErrClassRateLimit, Provider: provider, Model: model, Err: err}
	}

	return &Error{Class: ErrClassTransport, Provider: provider, Model: model, Err: err}
}
