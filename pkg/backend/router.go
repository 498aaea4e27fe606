package backend

import "context"

// Router dispatches a call to the ModelBackend registered for its provider
// name. Engine and Judge each hold exactly one ModelBackend, but a profile
// or a rejudge request names its provider independently of any other
// trial's, so cmd/evalctl wires every configured provider into one Router
// and passes that as the shared backend.
type Router struct {
	backends map[string]ModelBackend
}

// NewRouter builds a Router with no providers registered; use Register to
// add them.
func NewRouter() *Router {
	return &Router{backends: make(map[string]ModelBackend)}
}

// Register adds or replaces the backend used for provider.
func (r *Router) Register(provider string, b ModelBackend) *Router {
	r.backends[provider] = b
	return r
}

// Call implements ModelBackend by dispatching to the backend registered
// for provider.
func (r *Router) Call(ctx context.Context, provider, model, systemPrompt string, messages []Message, limits Limits) (*Result, error) {
	b, ok := r.backends[provider]
	if !ok {
		return nil, &Error{Class: ErrClassAbort, Provider: provider, Model: model, Err: errUnknownProvider(provider)}
	}
	return b.Call(ctx, provider, model, systemPrompt, messages, limits)
}

type unknownProviderError string

func (e unknownProviderError) Error() string { return "backend: no provider registered for " + string(e) }

func errUnknownProvider(provider string) error { return unknownProviderError(provider) }
