// Package backend implements the ModelBackend capability: a uniform async
// call to a named model that returns completion text, token usage, and
// latency, with a small retried error taxonomy surfaced to callers.
package backend

import (
	"context"
	"fmt"
	"time"
)

// Role names the conversational part a call plays. It picks default
// timeouts, labels telemetry, and keys per-role model overrides; the
// backend itself is otherwise role-agnostic.
type Role string

// Roles with distinct default timeouts (spec.md §4.1: "120-180s depending
// on role").
const (
	RoleEgo      Role = "ego"
	RoleSuperego Role = "superego"
	RoleLearner  Role = "learner"
	RoleJudge    Role = "judge"
)

// DefaultTimeout returns the hard wall-clock timeout for a role absent an
// explicit override.
func (r Role) DefaultTimeout() time.Duration {
	switch r {
	case RoleJudge:
		return 180 * time.Second
	default:
		return 120 * time.Second
	}
}

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Limits bounds a single call.
type Limits struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Usage is token accounting for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Result is the outcome of a successful call.
type Result struct {
	Content   string
	Usage     Usage
	LatencyMS int64
}

// ModelBackend is the single contract the rest of the harness depends on:
// call(provider, model, system_prompt, messages, limits) -> completion.
type ModelBackend interface {
	Call(ctx context.Context, provider, model, systemPrompt string, messages []Message, limits Limits) (*Result, error)
}

// ErrorClass is the taxonomy surfaced upward by a ModelBackend, per
// spec.md §4.1.
type ErrorClass string

// Error classes.
const (
	ErrClassTransport ErrorClass = "transport"
	ErrClassRateLimit ErrorClass = "rate_limit"
	ErrClassParse     ErrorClass = "parse"
	ErrClassAbort     ErrorClass = "abort"
)

// Error is the typed error every ModelBackend implementation returns so
// callers (retry.go, the dialogue engine, the judge) can dispatch on Class
// with errors.As instead of string matching.
type Error struct {
	Class      ErrorClass
	Provider   string
	Model      string
	RetryAfter time.Duration // honoured rate-limit hint, zero if absent
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s/%s call failed: %v", e.Class, e.Provider, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the transport-layer retry loop in retry.go
// should attempt this call again.
func (e *Error) IsRetryable() bool {
	return e.Class == ErrClassTransport || e.Class == ErrClassRateLimit
}
