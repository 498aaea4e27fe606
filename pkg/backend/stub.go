package backend

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Stub is a dependency-free ModelBackend test double. It can be configured
// to fail a fixed number of times with a given error class before
// succeeding, exactly as spec.md §8 Test Scenario 6 requires, and records
// every call it receives for assertions.
type Stub struct {
	mu sync.Mutex

	// FailTimes is how many calls fail before a call succeeds.
	FailTimes int
	FailClass ErrorClass

	// Response is returned (after any configured failures) unless
	// ResponseFunc is set, which takes priority and lets a test vary the
	// response per call.
	Response     string
	ResponseFunc func(callIndex int, messages []Message) string

	calls int
}

// NewStub returns a Stub that always succeeds with response.
func NewStub(response string) *Stub {
	return &Stub{Response: response}
}

// NewFlakyStub returns a Stub that fails failTimes times with class before
// succeeding with response.
func NewFlakyStub(failTimes int, class ErrorClass, response string) *Stub {
	return &Stub{FailTimes: failTimes, FailClass: class, Response: response}
}

func (s *Stub) Call(ctx context.Context, provider, model, systemPrompt string, messages []Message, limits Limits) (*Result, error) {
	s.mu.Lock()
	callIndex := s.calls
	s.calls++
	s.mu.Unlock()

	if ctx.Err() != nil {
		return nil, &Error{Class: ErrClassAbort, Provider: provider, Model: model, Err: ctx.Err()}
	}

	if callIndex < s.FailTimes {
		class := s.FailClass
		if class == "" {
			class = ErrClassTransport
		}
		return nil, &Error{
			Class:    class,
			Provider: provider,
			Model:    model,
			Err:      fmt.Errorf("stub: injected %s failure (attempt %d/%d)", class, callIndex+1, s.FailTimes),
		}
	}

	content := s.Response
	if s.ResponseFunc != nil {
		content = s.ResponseFunc(callIndex, messages)
	}

	return &Result{
		Content:   content,
		Usage:     Usage{InputTokens: int64(len(systemPrompt) + len(content)), OutputTokens: int64(len(content))},
		LatencyMS: time.Millisecond.Milliseconds(),
	}, nil
}

// CallCount returns how many times Call has been invoked.
func (s *Stub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
