package resilience

import (
	"context"

	"github.com/MrWong99/cashierchat/pkg/provider/llm"
)

// GuardedProvider is an [llm.Provider] whose calls pass through a
// [CircuitBreaker].
type GuardedProvider struct {
	inner   llm.Provider
	breaker *CircuitBreaker
}

var _ llm.Provider = (*GuardedProvider)(nil)

// GuardProvider wraps p with cb.
func GuardProvider(p llm.Provider, cb *CircuitBreaker) *GuardedProvider {
	return &GuardedProvider{inner: p, breaker: cb}
}

// Complete forwards to the wrapped provider unless the breaker is open, in
// which case it returns [ErrCircuitOpen] without contacting the upstream.
func (g *GuardedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.breaker.Execute(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Breaker returns the guarding breaker, e.g. for readiness checks.
func (g *GuardedProvider) Breaker() *CircuitBreaker { return g.breaker }
