package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_DispatchesByProvider(t *testing.T) {
	anthropic := NewStub("from anthropic")
	openai := NewStub("from openai")
	router := NewRouter().Register("anthropic", anthropic).Register("openai", openai)

	res, err := router.Call(context.Background(), "openai", "gpt", "", nil, Limits{})
	require.NoError(t, err)
	assert.Equal(t, "from openai", res.Content)
	assert.Equal(t, 0, anthropic.CallCount())
	assert.Equal(t, 1, openai.CallCount())
}

func TestRouter_UnknownProviderReturnsAbortError(t *testing.T) {
	router := NewRouter()
	_, err := router.Call(context.Background(), "mystery", "m", "", nil, Limits{})

	var backendErr *Error
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, ErrClassAbort, backendErr.Class)
}
