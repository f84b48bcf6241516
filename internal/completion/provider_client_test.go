package completion_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/cashierchat/internal/catalog"
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/internal/resilience"
	"github.com/MrWong99/cashierchat/pkg/provider/llm"
	"github.com/MrWong99/cashierchat/pkg/provider/llm/mock"
	"github.com/MrWong99/cashierchat/pkg/types"
)

// TestProviderClient_Plain checks the plain request shape.
func TestProviderClient_Plain(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello there!"}}
	c := completion.NewProviderClient(p)

	res := c.Complete(context.Background(), completion.Payload{Prompt: "Hi"}, testModel)
	if !res.OK() || res.Text != "Hello there!" {
		t.Fatalf("result = %v", res)
	}
	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "" || len(req.Messages) != 1 || req.Messages[0].Content != "Hi" || req.Messages[0].Role != llm.RoleUser {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.Model != testModel.Model || req.Temperature != 0.7 || req.MaxTokens != 150 {
		t.Errorf("model config not forwarded: %+v", req)
	}
}

// TestProviderClient_Catalog checks that products become a system instruction.
func TestProviderClient_Catalog(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	c := completion.NewProviderClient(p, completion.WithCatalog(catalog.NewNormalizer(nil)))

	res := c.Complete(context.Background(), completion.Payload{
		Prompt:   "I want tomatoes",
		Products: []types.ProductEntry{{Name: "Tomate", Price: 0.5}, {Name: "Tomate", Price: 9}},
	}, testModel)
	if !res.OK() {
		t.Fatalf("result = %v", res)
	}
	sys := p.Calls()[0].Req.SystemPrompt
	if !strings.Contains(sys, "- Tomato: $0.50") || strings.Contains(sys, "$9.00") {
		t.Errorf("system prompt products wrong:\n%s", sys)
	}

	res = c.Complete(context.Background(), completion.Payload{
		Prompt:   "hi",
		Products: []types.ProductEntry{{Name: "Milk", Price: -1}},
	}, testModel)
	if res.OK() || res.Failure.Kind != completion.KindValidation {
		t.Errorf("negative price: result = %v", res)
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("invalid products reached the provider: %d calls", n)
	}
}

// TestProviderClient_Failures checks error classification.
func TestProviderClient_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want completion.Kind
	}{
		{"deadline", context.DeadlineExceeded, completion.KindTransport},
		{"breaker open", resilience.ErrCircuitOpen, completion.KindTransport},
		{"upstream error", errors.New("anyllm: completion: 500 internal"), completion.KindProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mock.Provider{CompleteErr: tt.err}
			res := completion.NewProviderClient(p).Complete(context.Background(), completion.Payload{Prompt: "x"}, testModel)
			if res.OK() || res.Failure.Kind != tt.want {
				t.Errorf("result = %v, want %s", res, tt.want)
			}
		})
	}
}

// TestProviderClient_NilProvider checks the missing-credential path.
func TestProviderClient_NilProvider(t *testing.T) {
	t.Parallel()

	res := completion.NewProviderClient(nil).Complete(context.Background(), completion.Payload{Prompt: "x"}, testModel)
	if res.OK() || res.Failure.Kind != completion.KindConfiguration {
		t.Errorf("result = %v", res)
	}
}

// TestProviderClient_EmptyReplyFallback checks the fallback text and observer.
func TestProviderClient_EmptyReplyFallback(t *testing.T) {
	t.Parallel()

	var observed []completion.Result
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}
	c := completion.NewProviderClient(p,
		completion.WithProviderFallbackReply("Sorry, I couldn't get a response."),
		completion.WithObserver(func(_ time.Duration, r completion.Result) { observed = append(observed, r) }),
	)
	res := c.Complete(context.Background(), completion.Payload{Prompt: "x"}, testModel)
	if !res.OK() || res.Text != "Sorry, I couldn't get a response." {
		t.Errorf("result = %v", res)
	}
	if len(observed) != 1 || !observed[0].OK() {
		t.Errorf("observer saw %v", observed)
	}
}
