package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrying_succeedsAfterRateLimitFailures(t *testing.T) {
	stub := NewFlakyStub(2, ErrClassRateLimit, "final answer")
	r := NewRetrying(stub)

	res, err := r.Call(context.Background(), "anthropic", "claude-test", "sys",
		[]Message{{Role: "user", Content: "hi"}}, Limits{MaxTokens: 100})

	require.NoError(t, err)
	assert.Equal(t, "final answer", res.Content)
	assert.Equal(t, 3, stub.CallCount())
}

func TestRetrying_parseErrorsAreNotRetried(t *testing.T) {
	stub := NewFlakyStub(1, ErrClassParse, "unused")
	r := NewRetrying(stub)

	_, err := r.Call(context.Background(), "openai", "gpt-test", "sys",
		[]Message{{Role: "user", Content: "hi"}}, Limits{MaxTokens: 100})

	require.Error(t, err)
	assert.Equal(t, 1, stub.CallCount())
}

func TestRetrying_exhaustsBoundedRetries(t *testing.T) {
	stub := NewFlakyStub(10, ErrClassTransport, "unused")
	r := NewRetrying(stub)

	_, err := r.Call(context.Background(), "anthropic", "claude-test", "sys",
		[]Message{{Role: "user", Content: "hi"}}, Limits{MaxTokens: 100})

	require.Error(t, err)
	assert.Equal(t, maxTransportRetries+1, stub.CallCount())
}
