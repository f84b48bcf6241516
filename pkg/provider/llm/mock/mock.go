// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to inspect the CompletionRequests a component
// sends and to feed it controlled replies without a live LLM backend.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "Hello!"},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cashierchat/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// A nil CompleteResponse with a nil CompleteErr yields an empty reply.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// CompleteFunc, if set, takes precedence over the static fields.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.CompletionResponse{}, nil
	}
	out := *resp
	return &out, nil
}

// Calls returns a copy of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
