// Package relay serves the completion relay: a stateless HTTP JSON endpoint
// that forwards one prompt to the hosted language model and answers with the
// reply.
//
// Wire contract:
//
//	POST {"prompt": "...", "products": [{"name": "...", "price": 1.5}]}
//	200  {"response": "..."}
//	4xx/5xx {"error": "...", "code": "configuration|validation|transport|provider"}
//
// The relay never retries and keeps no state between requests.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/cashierchat/internal/catalog"
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/internal/observe"
	"github.com/MrWong99/cashierchat/pkg/provider/llm"
	"github.com/MrWong99/cashierchat/pkg/types"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 1 << 20

// Error texts returned to callers.
const (
	MsgMissingKey       = "Groq API key is not configured. Please check your .env file."
	MsgPromptRequired   = "Prompt is required."
	MsgMethodNotAllowed = "Method Not Allowed"
	MsgUpstreamFailed   = "Failed to get response from Groq API."
	MsgInvalidBody      = "Request body must be a JSON object."
	MsgInvalidModel     = "Invalid model configuration."
)

// Variant names.
const (
	VariantPlain   = "plain"
	VariantCatalog = "catalog"
)

// Config holds the hot-reloadable relay settings.
type Config struct {
	// Variant is [VariantPlain] or [VariantCatalog].
	Variant string

	// Model is the server-side model configuration.
	Model completion.ModelConfig

	// AllowClientOverrides lets a request body override Model.
	AllowClientOverrides bool

	// FallbackReply replaces an empty model answer.
	FallbackReply string

	// Translations extends the default product label table.
	Translations map[string]string

	// Products are used by the catalog variant when a request carries none.
	Products []types.ProductEntry
}

// Handler serves the relay endpoint. It is safe for concurrent use.
type Handler struct {
	provider     llm.Provider
	providerName string
	log          *slog.Logger
	metrics      *observe.Metrics

	mu     sync.RWMutex
	cfg    Config
	client *completion.ProviderClient
}

// Option configures a [Handler].
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithMetrics records relay metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithProviderName labels provider error metrics. Defaults to "llm".
func WithProviderName(name string) Option {
	return func(h *Handler) { h.providerName = name }
}

// New creates a Handler. A nil p means no credential is configured; every
// request is then answered with 400 [MsgMissingKey].
func New(cfg Config, p llm.Provider, opts ...Option) *Handler {
	h := &Handler{
		provider:     p,
		providerName: "llm",
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	h.Update(cfg)
	return h
}

// Update swaps the relay settings. In-flight requests finish with the old ones.
func (h *Handler) Update(cfg Config) {
	if cfg.Variant == "" {
		cfg.Variant = VariantCatalog
	}
	opts := []completion.ProviderOption{
		completion.WithProviderFallbackReply(cfg.FallbackReply),
		completion.WithProviderLogger(h.log),
	}
	if cfg.Variant == VariantCatalog {
		opts = append(opts, completion.WithCatalog(catalog.NewNormalizer(cfg.Translations)))
	}
	if h.metrics != nil {
		m := h.metrics
		opts = append(opts, completion.WithObserver(func(elapsed time.Duration, res completion.Result) {
			kind := "success"
			if !res.OK() {
				kind = string(res.Failure.Kind)
			}
			m.RecordCompletion(context.Background(), "relay", kind, elapsed)
		}))
	}

	client := completion.NewProviderClient(h.provider, opts...)

	h.mu.Lock()
	h.cfg = cfg
	h.client = client
	h.mu.Unlock()
}

// Configured reports whether a provider credential is present.
func (h *Handler) Configured() bool { return h.provider != nil }

// Routes mounts the relay at path. Every method is routed here so that
// non-POST requests get the JSON 405 body.
func (h *Handler) Routes(r chi.Router, path string) {
	r.Handle(path, h)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	cfg, client := h.cfg, h.client
	h.mu.RUnlock()

	status := h.serve(w, r, cfg, client)
	if h.metrics != nil {
		h.metrics.RecordRelayRequest(r.Context(), cfg.Variant, status)
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, cfg Config, client *completion.ProviderClient) int {
	log := observe.Logger(r.Context())

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return writeError(w, http.StatusMethodNotAllowed, MsgMethodNotAllowed, "")
	}
	if h.provider == nil {
		log.Warn("relay: rejecting request, no API key configured")
		return writeError(w, http.StatusBadRequest, MsgMissingKey, completion.KindConfiguration)
	}

	var req completion.RelayRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		log.Debug("relay: bad request body", "err", err)
		return writeError(w, http.StatusBadRequest, MsgInvalidBody, completion.KindValidation)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return writeError(w, http.StatusBadRequest, MsgPromptRequired, completion.KindValidation)
	}

	model := cfg.Model
	if cfg.AllowClientOverrides {
		model = mergeOverrides(model, req)
	}
	if err := model.Validate(); err != nil {
		log.Warn("relay: invalid model configuration", "err", err)
		return writeError(w, http.StatusBadRequest, MsgInvalidModel, completion.KindConfiguration)
	}

	payload := req.Payload
	if cfg.Variant == VariantPlain {
		payload.Products = nil
	} else if len(payload.Products) == 0 {
		payload.Products = cfg.Products
	}

	ctx, span := observe.StartSpan(r.Context(), "relay.complete", trace.WithAttributes(
		attribute.String("relay.variant", cfg.Variant),
		attribute.String("llm.model", model.Model),
		attribute.Int("relay.products", len(payload.Products)),
	))
	res := client.Complete(ctx, payload, model)
	if !res.OK() {
		span.SetStatus(codes.Error, string(res.Failure.Kind))
	}
	span.End()

	if res.OK() {
		writeJSON(w, http.StatusOK, completion.RelayResponse{Response: res.Text})
		return http.StatusOK
	}

	f := res.Failure
	switch f.Kind {
	case completion.KindValidation:
		return writeError(w, http.StatusBadRequest, f.Message, f.Kind)
	case completion.KindConfiguration:
		return writeError(w, http.StatusBadRequest, MsgInvalidModel, f.Kind)
	default:
		log.Error("relay: completion failed", "kind", f.Kind, "err", f.Message)
		if h.metrics != nil {
			h.metrics.RecordProviderError(ctx, h.providerName, string(f.Kind))
		}
		return writeError(w, http.StatusInternalServerError, MsgUpstreamFailed, f.Kind)
	}
}

// mergeOverrides applies the request's model fields that are set.
func mergeOverrides(m completion.ModelConfig, req completion.RelayRequest) completion.ModelConfig {
	if req.Model != "" {
		m.Model = req.Model
	}
	if req.Temperature != nil {
		m.Temperature = *req.Temperature
	}
	if req.MaxTokens != 0 {
		m.MaxOutputTokens = req.MaxTokens
	}
	return m
}

func writeError(w http.ResponseWriter, status int, msg string, kind completion.Kind) int {
	writeJSON(w, status, completion.RelayError{Error: msg, Code: kind})
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
