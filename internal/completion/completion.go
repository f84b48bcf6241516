// Package completion sends one prompt to the hosted language model and
// returns the reply as a [Result].
//
// A [Client] never panics and never returns a Go error: every transport,
// provider or credential fault is folded into a [Failure] with a [Kind], so
// the caller always gets exactly one outcome per call. Clients make exactly
// one outbound request per call and never retry or cache.
//
// Two implementations exist. [RelayClient] speaks the relay's HTTP JSON
// contract and is what a presentation layer uses. [ProviderClient] talks to an
// [llm.Provider] in-process and is what the relay itself uses.
package completion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/cashierchat/pkg/types"
)

// DefaultFallbackReply is returned as a successful reply when the model
// answers with no content.
const DefaultFallbackReply = "Sorry, I couldn't get a response."

// Kind classifies a completion failure.
type Kind string

const (
	// KindConfiguration means a credential or model setting is missing or
	// invalid. The request is never sent or retried.
	KindConfiguration Kind = "configuration"

	// KindTransport means the endpoint could not be reached or timed out.
	KindTransport Kind = "transport"

	// KindProvider means the endpoint answered with an error or an
	// unreadable body.
	KindProvider Kind = "provider"

	// KindValidation means the request content itself was malformed.
	KindValidation Kind = "validation"
)

// Failure describes why a completion produced no reply.
type Failure struct {
	Kind    Kind
	Message string
}

// Error implements error so a Failure can be logged or wrapped like one.
func (f *Failure) Error() string {
	return fmt.Sprintf("completion: %s: %s", f.Kind, f.Message)
}

// Result is the outcome of one completion: either reply text or a failure,
// never both and never partial.
type Result struct {
	// Text is the reply. Only meaningful when Failure is nil.
	Text string

	// Failure is non-nil when the completion failed.
	Failure *Failure
}

// Success returns a successful Result.
func Success(text string) Result { return Result{Text: text} }

// Fail returns a failed Result.
func Fail(kind Kind, format string, args ...any) Result {
	return Result{Failure: &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// OK reports whether the completion succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// ModelConfig selects the model and sampling settings. Every field must be
// set explicitly; there are no implicit defaults.
type ModelConfig struct {
	Model           string  `yaml:"model" json:"model"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	MaxOutputTokens int     `yaml:"max_tokens" json:"max_tokens"`
}

// Validate reports every invalid field.
func (m ModelConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(m.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if math.IsNaN(m.Temperature) || m.Temperature < 0 || m.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %v outside [0, 2]", m.Temperature))
	}
	if m.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be positive, got %d", m.MaxOutputTokens))
	}
	return errors.Join(errs...)
}

// Payload is the content of one completion request.
type Payload struct {
	// Prompt is the fully built prompt text.
	Prompt string `json:"prompt"`

	// Products optionally carries the raw storefront products for endpoints
	// that render their own product-aware system instruction.
	Products []types.ProductEntry `json:"products,omitempty"`
}

// Client performs completions.
type Client interface {
	// Complete blocks until the single outbound request resolves and returns
	// exactly one Result.
	Complete(ctx context.Context, p Payload, cfg ModelConfig) Result
}
