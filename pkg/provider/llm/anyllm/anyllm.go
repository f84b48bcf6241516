// Package anyllm provides an LLM provider backed by
// github.com/mozilla-ai/any-llm-go for the backends that do not speak the
// OpenAI wire format (Gemini and Ollama). OpenAI-compatible backends go
// through package openai, which disables SDK retries.
//
// Usage:
//
//	p, err := anyllm.New("gemini", "gemini-2.0-flash", anyllmlib.WithAPIKey("..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"

	"github.com/MrWong99/cashierchat/pkg/provider/llm"
)

// SupportedProviders lists the backend names accepted by [New].
// Both issue a single HTTP request per completion.
var SupportedProviders = []string{"gemini", "ollama"}

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider for the named backend and default model.
//
// opts are any-llm-go options such as anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL. Without an API key option the backend falls back to
// its environment variable (GEMINI_API_KEY for gemini).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, name: strings.ToLower(providerName), model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(SupportedProviders, ", "))
	}
}

// Name returns the backend name, e.g. "ollama".
func (p *Provider) Name() string { return p.name }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		// An answer with no choices is treated as an empty reply.
		return &llm.CompletionResponse{}, nil
	}

	result := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// buildParams converts a CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	t := req.Temperature
	params := anyllmlib.CompletionParams{
		Model:       model,
		Messages:    messages,
		Temperature: &t,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
