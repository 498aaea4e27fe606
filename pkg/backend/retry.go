package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxTransportRetries bounds the transport/rate_limit retry loop: spec.md
// §4.1 calls for "a small bounded count (e.g. 2 retries, jittered)".
const maxTransportRetries = 2

// Retrying wraps a ModelBackend so transport and rate_limit failures are
// retried with jittered exponential backoff; parse and abort errors pass
// straight through untouched, matching the teacher's pattern of retrying
// only at the transport layer (pkg/agent/llm_grpc.go's stream reconnect
// loop) and leaving shape errors to the caller.
type Retrying struct {
	Backend ModelBackend
}

// NewRetrying wraps backend with the harness's default retry policy.
func NewRetrying(backend ModelBackend) *Retrying {
	return &Retrying{Backend: backend}
}

func (r *Retrying) Call(ctx context.Context, provider, model, systemPrompt string, messages []Message, limits Limits) (*Result, error) {
	policy := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(250*time.Millisecond),
			backoff.WithMaxInterval(4*time.Second),
			backoff.WithMaxElapsedTime(0),
		),
		maxTransportRetries,
	)

	var result *Result
	attempts := 0

	operation := func() error {
		attempts++
		res, err := r.Backend.Call(ctx, provider, model, systemPrompt, messages, limits)
		if err == nil {
			result = res
			return nil
		}

		var backendErr *Error
		if !errors.As(err, &backendErr) {
			// Unclassified error: treat as non-retryable rather than retry blind.
			return backoff.Permanent(err)
		}

		if !backendErr.IsRetryable() {
			return backoff.Permanent(err)
		}

		if backendErr.Class == ErrClassRateLimit && backendErr.RetryAfter > 0 {
			select {
			case <-time.After(backendErr.RetryAfter):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}

		slog.Warn("retrying model backend call",
			"provider", provider, "model", model, "class", backendErr.Class, "attempt", attempts)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}
