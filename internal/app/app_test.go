package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/cashierchat/internal/app"
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/internal/config"
	"github.com/MrWong99/cashierchat/internal/observe"
	"github.com/MrWong99/cashierchat/internal/relay"
	"github.com/MrWong99/cashierchat/pkg/provider/llm"
	llmmock "github.com/MrWong99/cashierchat/pkg/provider/llm/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, p llm.Provider, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, &app.Providers{LLM: p}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestApp_RelayRoute checks that the default config mounts the catalog relay
// at /api/chat with the default model settings.
func TestApp_RelayRoute(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "That'll be two dollars."}}
	a := newApp(t, config.Default(), p)

	rec := do(t, a.Handler(), http.MethodPost, "/api/chat",
		`{"prompt":"How much are the apples?","products":[{"name":"Apples","price":2}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	var resp completion.RelayResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != "That'll be two dollars." {
		t.Errorf("response = %q", resp.Response)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Model != config.DefaultCatalogModel {
		t.Errorf("model = %q, want %q", req.Model, config.DefaultCatalogModel)
	}
	if !strings.Contains(req.SystemPrompt, "Apples") {
		t.Errorf("system prompt does not list the product: %q", req.SystemPrompt)
	}
}

// TestApp_MethodNotAllowed checks the relay route rejects non-POST requests.
func TestApp_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default(), &llmmock.Provider{})
	rec := do(t, a.Handler(), http.MethodGet, "/api/chat", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	var body completion.RelayError
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error != relay.MsgMethodNotAllowed {
		t.Errorf("error = %q, want %q", body.Error, relay.MsgMethodNotAllowed)
	}
}

// TestApp_MissingKey checks that a server without a provider still starts,
// rejects relay calls and reports not ready.
func TestApp_MissingKey(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default(), nil)

	rec := do(t, a.Handler(), http.MethodPost, "/api/chat", `{"prompt":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("relay status = %d, want 400", rec.Code)
	}
	var body completion.RelayError
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error != relay.MsgMissingKey {
		t.Errorf("error = %q, want %q", body.Error, relay.MsgMissingKey)
	}

	if rec := do(t, a.Handler(), http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", rec.Code)
	}
	if rec := do(t, a.Handler(), http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

// TestApp_Readyz checks that a configured provider with a closed breaker is
// ready.
func TestApp_Readyz(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default(), &llmmock.Provider{})
	rec := do(t, a.Handler(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, name := range []string{"llm_provider", "llm_breaker"} {
		if body.Checks[name] != "ok" {
			t.Errorf("check %s = %q, want ok", name, body.Checks[name])
		}
	}
}

// TestApp_CORSPreflight checks that the configured dev origin may call the
// relay from a browser.
func TestApp_CORSPreflight(t *testing.T) {
	t.Parallel()

	a := newApp(t, config.Default(), &llmmock.Provider{})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", config.DefaultCORSOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != config.DefaultCORSOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, config.DefaultCORSOrigin)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

// TestApp_ApplyConfig checks that a reloaded relay model is used by the next
// request without restarting.
func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	old := config.Default()
	a := newApp(t, old, p)

	updated := config.Default()
	updated.Relay.Model = "llama-3.1-8b-instant"
	updated.Server.ListenAddr = ":4000"
	a.ApplyConfig(old, updated)

	if a.Config() != updated {
		t.Error("Config() does not return the applied config")
	}
	if rec := do(t, a.Handler(), http.MethodPost, "/api/chat", `{"prompt":"hi"}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if got := p.Calls()[0].Req.Model; got != "llama-3.1-8b-instant" {
		t.Errorf("model = %q, want the reloaded one", got)
	}
}

// TestApp_ApplyConfigLogLevel checks that a reloaded log level reaches the
// process level variable.
func TestApp_ApplyConfigLogLevel(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	old := config.Default()
	a := newApp(t, old, &llmmock.Provider{}, app.WithLevelVar(&level))

	updated := config.Default()
	updated.Server.LogLevel = config.LogDebug
	a.ApplyConfig(old, updated)

	if got := level.Level(); got != config.LogDebug.SlogLevel() {
		t.Errorf("level = %v, want %v", got, config.LogDebug.SlogLevel())
	}
}

// TestApp_RunAndShutdown checks that Run serves on the injected listener and
// returns nil once its context is cancelled.
func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := newApp(t, config.Default(), &llmmock.Provider{}, app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("healthz status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
