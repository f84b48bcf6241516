// Package app wires the relay, the practice hub and the operational endpoints
// into one HTTP server.
//
// New builds every subsystem from the config, Run serves until the context is
// cancelled, and Shutdown tears everything down in order. For tests, inject a
// listener or a metrics instance via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cashierchat/internal/catalog"
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/internal/config"
	"github.com/MrWong99/cashierchat/internal/health"
	"github.com/MrWong99/cashierchat/internal/observe"
	"github.com/MrWong99/cashierchat/internal/practice"
	"github.com/MrWong99/cashierchat/internal/relay"
	"github.com/MrWong99/cashierchat/internal/resilience"
	"github.com/MrWong99/cashierchat/pkg/provider/llm"
	"github.com/MrWong99/cashierchat/pkg/types"
)

// PracticePath is the websocket route of the practice hub.
const PracticePath = "/ws/practice"

// Providers holds the configured provider instances. A nil LLM means no API
// key is configured; the server still starts and reports not ready.
type Providers struct {
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar
	listener  net.Listener
	watcher   *config.Watcher

	mu  sync.Mutex
	cfg *config.Config

	breaker *resilience.CircuitBreaker
	relay   *relay.Handler
	hub     *practice.Hub
	router  chi.Router
	server  *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the process logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigWatcher runs w during Run. Wire its callback to [App.ApplyConfig].
func WithConfigWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the providers built by main.
func New(_ context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Guarded provider ──────────────────────────────────────────────
	var provider llm.Provider
	if providers.LLM != nil {
		name := "llm:" + cfg.Providers.LLM.Name
		a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         name,
			MaxFailures:  cfg.Relay.Breaker.MaxFailures,
			ResetTimeout: cfg.Relay.Breaker.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		})
		provider = resilience.GuardProvider(providers.LLM, a.breaker)
	}

	// ── 2. Relay ─────────────────────────────────────────────────────────
	a.relay = relay.New(relayConfig(cfg), provider,
		relay.WithMetrics(a.metrics),
		relay.WithProviderName(cfg.Providers.LLM.Name),
	)

	// ── 3. Practice hub ──────────────────────────────────────────────────
	// Sessions build the full prompt themselves, so the hub completes in
	// plain mode against the same guarded provider.
	hubClient := completion.NewProviderClient(provider,
		completion.WithProviderFallbackReply(cfg.Relay.FallbackReply),
		completion.WithObserver(func(elapsed time.Duration, res completion.Result) {
			kind := "success"
			if !res.OK() {
				kind = string(res.Failure.Kind)
			}
			a.metrics.RecordCompletion(context.Background(), "practice", kind, elapsed)
		}),
	)
	a.hub = practice.NewHub(practiceConfig(cfg), hubClient, practice.WithMetrics(a.metrics))

	// ── 4. Router ────────────────────────────────────────────────────────
	a.router = a.buildRouter(cfg)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) buildRouter(cfg *config.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Relay.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Traceparent"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))

	a.relay.Routes(r, cfg.Relay.Path)
	r.Handle(PracticePath, a.hub)

	checks := []health.Checker{health.ProviderCheck(a.relay.Configured)}
	if a.breaker != nil {
		checks = append(checks, health.BreakerCheck(a.breaker))
	}
	health.New(checks...).Register(r)
	r.Handle("/metrics", observe.Handler())
	return r
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.router }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and, when configured, polls the config file until ctx is
// cancelled. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ApplyConfig hot-applies the reloadable parts of updated. It is the
// callback for [config.NewWatcher].
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CatalogChanged || d.RelayModelChanged {
		a.relay.Update(relayConfig(updated))
	}
	if d.SceneChanged || d.CatalogChanged || d.RelayModelChanged {
		a.hub.Update(practiceConfig(updated))
		slog.Info("practice settings updated; new sessions use them",
			"scene", d.SceneChanged, "catalog", d.CatalogChanged, "model", d.RelayModelChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = updated
	a.mu.Unlock()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes practice sessions and stops the HTTP server. It respects
// the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.hub.Sessions())
		a.hub.Close()
		if e := a.server.Shutdown(ctx); e != nil {
			slog.Warn("http shutdown error", "err", e)
			err = e
		}
		slog.Info("shutdown complete")
	})
	return err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// shelf returns the configured products or the default store seed.
func shelf(cfg *config.Config) []types.ProductEntry {
	if len(cfg.Catalog.Products) > 0 {
		return cfg.Catalog.Products
	}
	return catalog.Seed(nil)
}

func relayConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		Variant:              string(cfg.Relay.Variant),
		Model:                cfg.Relay.ModelConfig(),
		AllowClientOverrides: cfg.Relay.AllowClientOverrides,
		FallbackReply:        cfg.Relay.FallbackReply,
		Translations:         cfg.Catalog.Translations,
		Products:             shelf(cfg),
	}
}

func practiceConfig(cfg *config.Config) practice.Config {
	return practice.Config{
		Scene:          cfg.SceneOrDefault(),
		Model:          cfg.Relay.ModelConfig(),
		Translations:   cfg.Catalog.Translations,
		Products:       shelf(cfg),
		OriginPatterns: originHosts(cfg.Relay.CORSOrigins),
	}
}

// originHosts converts CORS origins such as "http://localhost:5173" into the
// host patterns the websocket handshake checks.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			slog.Warn("ignoring unparsable CORS origin for websocket checks", "origin", o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
