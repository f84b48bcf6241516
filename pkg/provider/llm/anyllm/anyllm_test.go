package anyllm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/cashierchat/pkg/provider/llm"
)

// TestBuildParams_SystemPromptFirst checks that the system prompt leads the
// message list and sampling settings are copied.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "llama-3.3-70b-versatile"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a cashier.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
		Temperature:  0.7,
		MaxTokens:    150,
	})

	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You are a cashier." {
		t.Errorf("unexpected system message: %+v", params.Messages[0])
	}
	if params.Messages[1].Role != "user" || params.Messages[1].ContentString() != "Hello" {
		t.Errorf("unexpected user message: %+v", params.Messages[1])
	}
	if params.Model != "llama-3.3-70b-versatile" {
		t.Errorf("model = %q", params.Model)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

// TestBuildParams_ZeroTemperatureIsSent checks that an explicit zero
// temperature is not dropped.
func TestBuildParams_ZeroTemperatureIsSent(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if params.Temperature == nil || *params.Temperature != 0 {
		t.Errorf("temperature = %v, want pointer to 0", params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("max tokens = %v, want nil", *params.MaxTokens)
	}
	if len(params.Messages) != 1 {
		t.Errorf("expected no system message, got %d messages", len(params.Messages))
	}
}

// TestBuildParams_ModelOverride checks the per-request model override.
func TestBuildParams_ModelOverride(t *testing.T) {
	p := &Provider{model: "llama3-8b-8192"}
	params := p.buildParams(llm.CompletionRequest{Model: "llama-3.3-70b-versatile"})
	if params.Model != "llama-3.3-70b-versatile" {
		t.Errorf("model = %q", params.Model)
	}
}

// TestNew_Validation checks constructor argument validation.
func TestNew_Validation(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("carrier-pigeon", "m"); err == nil {
		t.Error("expected error for unsupported provider")
	}
	// OpenAI-compatible backends are served by package openai.
	if _, err := New("groq", "m"); err == nil {
		t.Error("expected groq to be rejected")
	}
}

// TestComplete_OllamaSingleRequest checks that a failing ollama server is
// called exactly once per completion.
func TestComplete_OllamaSingleRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model crashed"}`))
	}))
	defer srv.Close()

	p, err := New("ollama", "llama3", anyllmlib.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Name = %q", p.Name())
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error from 500 upstream")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}
}
