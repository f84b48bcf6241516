package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes bounds how much of a relay reply body is read.
const maxResponseBytes = 1 << 20

// RelayRequest is the JSON body posted to the relay.
type RelayRequest struct {
	Payload
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// RelayResponse is the JSON body returned by the relay on success.
type RelayResponse struct {
	Response string `json:"response"`
}

// RelayError is the JSON body returned by the relay on failure. Code carries
// the failure [Kind] when the relay knows it.
type RelayError struct {
	Error string `json:"error"`
	Code  Kind   `json:"code,omitempty"`
}

// RelayClient is a [Client] that posts to a relay endpoint.
//
// It is safe for concurrent use.
type RelayClient struct {
	endpoint string
	http     *http.Client
	fallback string
	log      *slog.Logger
}

var _ Client = (*RelayClient)(nil)

// RelayOption configures a [RelayClient].
type RelayOption func(*RelayClient)

// WithHTTPClient replaces the HTTP client. The default has a 30 second timeout.
func WithHTTPClient(c *http.Client) RelayOption {
	return func(rc *RelayClient) { rc.http = c }
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) RelayOption {
	return func(rc *RelayClient) {
		if d > 0 {
			rc.http = newHTTPClient(d)
		}
	}
}

// WithFallbackReply overrides [DefaultFallbackReply].
func WithFallbackReply(s string) RelayOption {
	return func(rc *RelayClient) {
		if s != "" {
			rc.fallback = s
		}
	}
}

// WithRelayLogger sets the logger. Defaults to slog.Default().
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(rc *RelayClient) { rc.log = l }
}

// NewRelayClient creates a client for the relay at endpoint, e.g.
// "http://localhost:3001/api/chat".
func NewRelayClient(endpoint string, opts ...RelayOption) *RelayClient {
	rc := &RelayClient{
		endpoint: strings.TrimSpace(endpoint),
		http:     newHTTPClient(30 * time.Second),
		fallback: DefaultFallbackReply,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(rc)
	}
	return rc
}

// newHTTPClient returns a client that propagates the caller's trace context
// to the relay.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Complete implements [Client].
func (rc *RelayClient) Complete(ctx context.Context, p Payload, cfg ModelConfig) Result {
	if rc.endpoint == "" {
		return Fail(KindConfiguration, "relay endpoint is not configured")
	}
	if err := cfg.Validate(); err != nil {
		return Fail(KindConfiguration, "invalid model config: %v", err)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return Fail(KindValidation, "prompt is empty")
	}

	temp := cfg.Temperature
	body, err := json.Marshal(RelayRequest{
		Payload:     p,
		Model:       cfg.Model,
		Temperature: &temp,
		MaxTokens:   cfg.MaxOutputTokens,
	})
	if err != nil {
		return Fail(KindValidation, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.endpoint, bytes.NewReader(body))
	if err != nil {
		return Fail(KindConfiguration, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := rc.http.Do(req)
	if err != nil {
		rc.log.Warn("relay request failed", "err", err, "elapsed", time.Since(start))
		return Fail(KindTransport, "reach relay: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Fail(KindTransport, "read relay response: %v", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ok RelayResponse
		if err := json.Unmarshal(raw, &ok); err != nil {
			return Fail(KindProvider, "malformed relay response: %v", err)
		}
		if strings.TrimSpace(ok.Response) == "" {
			return Success(rc.fallback)
		}
		return Success(ok.Response)
	}

	return rc.failureFromStatus(resp.StatusCode, raw)
}

// failureFromStatus maps a non-2xx relay answer to a failed Result.
func (rc *RelayClient) failureFromStatus(status int, raw []byte) Result {
	var re RelayError
	if err := json.Unmarshal(raw, &re); err != nil || re.Error == "" {
		re.Error = http.StatusText(status)
	}
	rc.log.Warn("relay returned error", "status", status, "code", re.Code)

	switch re.Code {
	case KindConfiguration, KindTransport, KindProvider, KindValidation:
		return Fail(re.Code, "%s", re.Error)
	}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusNotFound, status == http.StatusMethodNotAllowed:
		return Fail(KindConfiguration, "%s", re.Error)
	case status == http.StatusBadRequest:
		return Fail(KindValidation, "%s", re.Error)
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return Fail(KindTransport, "%s", re.Error)
	default:
		return Fail(KindProvider, "%s", re.Error)
	}
}

// String renders the result for logs without its text.
func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("success(%d chars)", len(r.Text))
	}
	return r.Failure.Error()
}
