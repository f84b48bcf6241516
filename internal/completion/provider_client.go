package completion

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/MrWong99/cashierchat/internal/catalog"
	"github.com/MrWong99/cashierchat/internal/prompt"
	"github.com/MrWong99/cashierchat/internal/resilience"
	"github.com/MrWong99/cashierchat/pkg/provider/llm"
)

// ProviderClient is a [Client] that calls an [llm.Provider] directly.
//
// In plain mode the prompt is sent as the only user message. In catalog mode
// (see [WithCatalog]) the request products are normalized and rendered into a
// product-aware system instruction that precedes the prompt.
type ProviderClient struct {
	provider   llm.Provider
	normalizer *catalog.Normalizer
	fallback   string
	log        *slog.Logger
	observe    func(time.Duration, Result)
}

var _ Client = (*ProviderClient)(nil)

// ProviderOption configures a [ProviderClient].
type ProviderOption func(*ProviderClient)

// WithCatalog enables the product-aware system instruction, translating
// product labels with n.
func WithCatalog(n *catalog.Normalizer) ProviderOption {
	return func(pc *ProviderClient) { pc.normalizer = n }
}

// WithProviderFallbackReply overrides [DefaultFallbackReply].
func WithProviderFallbackReply(s string) ProviderOption {
	return func(pc *ProviderClient) {
		if s != "" {
			pc.fallback = s
		}
	}
}

// WithProviderLogger sets the logger. Defaults to slog.Default().
func WithProviderLogger(l *slog.Logger) ProviderOption {
	return func(pc *ProviderClient) { pc.log = l }
}

// WithObserver registers fn to be called with the duration and outcome of
// every request that reached the provider.
func WithObserver(fn func(time.Duration, Result)) ProviderOption {
	return func(pc *ProviderClient) { pc.observe = fn }
}

// NewProviderClient returns a client backed by p. A nil p is allowed: every
// call then fails with [KindConfiguration], which is how a missing API key
// surfaces.
func NewProviderClient(p llm.Provider, opts ...ProviderOption) *ProviderClient {
	pc := &ProviderClient{
		provider: p,
		fallback: DefaultFallbackReply,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(pc)
	}
	return pc
}

// Complete implements [Client].
func (pc *ProviderClient) Complete(ctx context.Context, p Payload, cfg ModelConfig) Result {
	if pc.provider == nil {
		return Fail(KindConfiguration, "language model API key is not configured")
	}
	if err := cfg.Validate(); err != nil {
		return Fail(KindConfiguration, "invalid model config: %v", err)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return Fail(KindValidation, "prompt is required")
	}

	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: p.Prompt}},
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxOutputTokens,
	}
	if pc.normalizer != nil {
		products, err := pc.normalizer.Normalize(p.Products)
		if err != nil {
			return Fail(KindValidation, "%v", err)
		}
		sys, err := prompt.CatalogSystemPrompt(products)
		if err != nil {
			return Fail(KindValidation, "%v", err)
		}
		req.SystemPrompt = sys
	}

	start := time.Now()
	resp, err := pc.provider.Complete(ctx, req)
	elapsed := time.Since(start)

	var res Result
	switch {
	case err != nil:
		res = Fail(classify(err), "%v", err)
		pc.log.Warn("completion failed", "kind", res.Failure.Kind, "err", err, "elapsed", elapsed)
	case resp == nil || strings.TrimSpace(resp.Content) == "":
		res = Success(pc.fallback)
		pc.log.Debug("completion returned no content, using fallback", "elapsed", elapsed)
	default:
		res = Success(resp.Content)
		pc.log.Debug("completion succeeded", "chars", len(resp.Content), "elapsed", elapsed)
	}
	if pc.observe != nil {
		pc.observe(elapsed, res)
	}
	return res
}

// classify maps a provider error to a failure kind. Network-level faults,
// deadlines and an open breaker are transport failures; everything the
// upstream actually answered with is a provider failure.
func classify(err error) Kind {
	var netErr net.Error
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return KindTransport
	default:
		return KindProvider
	}
}
