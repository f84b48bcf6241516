package completion_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/pkg/types"
)

var testModel = completion.ModelConfig{Model: "llama3-8b-8192", Temperature: 0.7, MaxOutputTokens: 150}

// relayStub answers every request with status and body and counts calls.
func relayStub(t *testing.T, status int, body string, seen *completion.RelayRequest) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// TestRelayClient_Success checks the request body and a normal reply.
func TestRelayClient_Success(t *testing.T) {
	t.Parallel()

	var seen completion.RelayRequest
	srv, calls := relayStub(t, http.StatusOK, `{"response":"Sure, milk is in aisle two."}`, &seen)

	c := completion.NewRelayClient(srv.URL)
	res := c.Complete(context.Background(), completion.Payload{
		Prompt:   "Customer: I want milk\nSarah:",
		Products: []types.ProductEntry{{Name: "Lechuga", Price: 1}},
	}, testModel)

	if !res.OK() || res.Text != "Sure, milk is in aisle two." {
		t.Fatalf("result = %v", res)
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d, want 1", calls.Load())
	}
	if seen.Prompt != "Customer: I want milk\nSarah:" || len(seen.Products) != 1 {
		t.Errorf("unexpected payload: %+v", seen)
	}
	if seen.Model != "llama3-8b-8192" || seen.Temperature == nil || *seen.Temperature != 0.7 || seen.MaxTokens != 150 {
		t.Errorf("unexpected model config: %+v", seen)
	}
}

// TestRelayClient_EmptyResponseUsesFallback checks that 200 {} succeeds with
// the fallback text.
func TestRelayClient_EmptyResponseUsesFallback(t *testing.T) {
	t.Parallel()

	srv, _ := relayStub(t, http.StatusOK, `{}`, nil)
	res := completion.NewRelayClient(srv.URL).Complete(context.Background(), completion.Payload{Prompt: "hi"}, testModel)
	if !res.OK() || res.Text != completion.DefaultFallbackReply {
		t.Errorf("result = %v, text %q", res, res.Text)
	}
}

// TestRelayClient_StatusMapping checks how relay failures are classified.
func TestRelayClient_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   completion.Kind
	}{
		{"missing key", http.StatusBadRequest, `{"error":"Groq API key is not configured.","code":"configuration"}`, completion.KindConfiguration},
		{"missing prompt", http.StatusBadRequest, `{"error":"Prompt is required."}`, completion.KindValidation},
		{"wrong method", http.StatusMethodNotAllowed, `{"error":"Method Not Allowed"}`, completion.KindConfiguration},
		{"provider failure", http.StatusInternalServerError, `{"error":"Failed to get response from Groq API."}`, completion.KindProvider},
		{"upstream unreachable", http.StatusInternalServerError, `{"error":"dial tcp","code":"transport"}`, completion.KindTransport},
		{"non-json error", http.StatusBadGateway, `<html>bad gateway</html>`, completion.KindTransport},
		{"malformed success", http.StatusOK, `not json`, completion.KindProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := relayStub(t, tt.status, tt.body, nil)
			res := completion.NewRelayClient(srv.URL).Complete(context.Background(), completion.Payload{Prompt: "hi"}, testModel)
			if res.OK() {
				t.Fatalf("expected failure, got %v", res)
			}
			if res.Failure.Kind != tt.want {
				t.Errorf("kind = %q, want %q (message %q)", res.Failure.Kind, tt.want, res.Failure.Message)
			}
			if calls.Load() != 1 {
				t.Errorf("requests = %d, want exactly 1", calls.Load())
			}
		})
	}
}

// TestRelayClient_TransportError checks that an unreachable relay yields a
// transport failure.
func TestRelayClient_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := completion.NewRelayClient(url, completion.WithTimeout(time.Second)).
		Complete(context.Background(), completion.Payload{Prompt: "hi"}, testModel)
	if res.OK() || res.Failure.Kind != completion.KindTransport {
		t.Errorf("result = %v, want transport failure", res)
	}
}

// TestRelayClient_Timeout checks that a slow relay yields a transport failure.
func TestRelayClient_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := completion.NewRelayClient(srv.URL, completion.WithTimeout(50*time.Millisecond)).
		Complete(context.Background(), completion.Payload{Prompt: "hi"}, testModel)
	if res.OK() || res.Failure.Kind != completion.KindTransport {
		t.Errorf("result = %v, want transport failure", res)
	}
}

// TestRelayClient_ConfigurationNeverSends checks that invalid settings fail
// before any request is made.
func TestRelayClient_ConfigurationNeverSends(t *testing.T) {
	t.Parallel()

	srv, calls := relayStub(t, http.StatusOK, `{"response":"x"}`, nil)

	bad := []completion.ModelConfig{
		{Model: "", Temperature: 0.7, MaxOutputTokens: 150},
		{Model: "m", Temperature: 2.5, MaxOutputTokens: 150},
		{Model: "m", Temperature: 0.7, MaxOutputTokens: 0},
	}
	for _, cfg := range bad {
		res := completion.NewRelayClient(srv.URL).Complete(context.Background(), completion.Payload{Prompt: "hi"}, cfg)
		if res.OK() || res.Failure.Kind != completion.KindConfiguration {
			t.Errorf("cfg %+v: result = %v, want configuration failure", cfg, res)
		}
	}
	res := completion.NewRelayClient("").Complete(context.Background(), completion.Payload{Prompt: "hi"}, testModel)
	if res.OK() || res.Failure.Kind != completion.KindConfiguration {
		t.Errorf("empty endpoint: result = %v", res)
	}
	if calls.Load() != 0 {
		t.Errorf("requests = %d, want 0", calls.Load())
	}
}

// TestModelConfig_Validate checks the boundaries of the temperature range.
func TestModelConfig_Validate(t *testing.T) {
	t.Parallel()

	for _, temp := range []float64{0, 2} {
		if err := (completion.ModelConfig{Model: "m", Temperature: temp, MaxOutputTokens: 1}).Validate(); err != nil {
			t.Errorf("temperature %v rejected: %v", temp, err)
		}
	}
	if err := (completion.ModelConfig{Temperature: -0.1}).Validate(); err == nil {
		t.Error("expected error")
	}
}
