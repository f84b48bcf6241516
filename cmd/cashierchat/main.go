// Command cashierchat runs the supermarket cashier practice server, or a
// console practice session against a running server.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/cashierchat/internal/app"
	"github.com/MrWong99/cashierchat/internal/catalog"
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/internal/config"
	"github.com/MrWong99/cashierchat/internal/observe"
	"github.com/MrWong99/cashierchat/internal/turn"
	"github.com/MrWong99/cashierchat/pkg/capability"
	"github.com/MrWong99/cashierchat/pkg/capability/console"
	"github.com/MrWong99/cashierchat/pkg/provider/llm"
	"github.com/MrWong99/cashierchat/pkg/provider/llm/anyllm"
	"github.com/MrWong99/cashierchat/pkg/provider/llm/openai"
)

// keylessProviders run locally and need no API key.
var keylessProviders = []string{"ollama", "llamacpp", "llamafile"}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	mode := flag.String("mode", "serve", `"serve" runs the HTTP server, "practice" chats on the console`)
	flag.Parse()

	// A missing .env is normal in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "cashierchat: .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "cashierchat: config file %q not found; copy configs/cashierchat.example.yaml to get started\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "cashierchat: %v\n", err)
			}
			return 1
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg, os.LookupEnv)

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "serve":
		return serve(ctx, cfg, *configPath, &level)
	case "practice":
		return practice(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "cashierchat: unknown mode %q\n", *mode)
		return 2
	}
}

// ── Serve ─────────────────────────────────────────────────────────────────────

func serve(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) int {
	slog.Info("cashierchat starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"relay_path", cfg.Relay.Path,
		"variant", cfg.Relay.Variant,
		"log_level", cfg.Server.LogLevel,
	)

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "cashierchat"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	opts := []app.Option{app.WithLevelVar(level)}
	var application *app.App
	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(old, updated *config.Config) {
			application.ApplyConfig(old, updated)
		}, config.WithEnv(os.LookupEnv))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		opts = append(opts, app.WithConfigWatcher(w))
	}

	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every provider factory into reg. The
// any-llm-go backends share one pattern: optional APIKey and BaseURL.
// "openai-compatible" talks to any OpenAI-style endpoint through the official
// SDK, which needs BaseURL set.
func registerBuiltinProviders(reg *config.Registry) {
	// OpenAI-compatible backends use the openai-go adapter so that each
	// completion is a single upstream request.
	for providerName, defaultURL := range openai.Endpoints {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			baseURL := cmp.Or(entry.BaseURL, defaultURL)
			var opts []openai.Option
			if baseURL != "" {
				opts = append(opts, openai.WithBaseURL(baseURL))
			}
			return openai.New(entry.APIKey, entry.Model, opts...)
		})
	}

	for _, providerName := range anyllm.SupportedProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the configured LLM. Without a usable API key
// the server still starts; the relay then answers every call with the
// missing-key error.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	entry := cfg.Providers.LLM
	if !cfg.HasAPIKey() && !slices.Contains(keylessProviders, entry.Name) {
		slog.Warn("language model API key not set", "provider", entry.Name,
			"env", []string{config.EnvAPIKey, config.EnvGroqAPIKey})
		return ps, nil
	}
	if entry.Model == "" {
		entry.Model = cfg.Relay.ModelConfig().Model
	}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	ps.LLM = p
	slog.Info("provider created", "kind", "llm", "name", entry.Name)
	return ps, nil
}

// ── Console practice ──────────────────────────────────────────────────────────

// eofWatcher notes when the console input is exhausted.
type eofWatcher struct {
	capability.Capturer
	done atomic.Bool
}

func (e *eofWatcher) RequestCapture(ctx context.Context, req capability.CaptureRequest) (string, error) {
	text, err := e.Capturer.RequestCapture(ctx, req)
	if errors.Is(err, io.EOF) {
		e.done.Store(true)
	}
	return text, err
}

func practice(ctx context.Context, cfg *config.Config) int {
	scene := cfg.SceneOrDefault()
	term := console.New(os.Stdin, os.Stdout, "You: ", scene.Persona)
	capturer := &eofWatcher{Capturer: term}

	client := completion.NewRelayClient(cfg.Client.Endpoint,
		completion.WithTimeout(cfg.Client.Timeout),
		completion.WithFallbackReply(cfg.Relay.FallbackReply),
	)
	products := cfg.Catalog.Products
	if len(products) == 0 {
		products = catalog.Seed(nil)
	}

	idle := make(chan struct{}, 1)
	ctrl, err := turn.New(turn.Config{
		Capturer:     capturer,
		Speaker:      capability.NewSerial(term),
		Client:       client,
		Scene:        scene,
		Model:        cfg.Client.ModelConfig(),
		Normalizer:   catalog.NewNormalizer(cfg.Catalog.Translations),
		Products:     products,
		SendProducts: true,
	}, turn.WithObserver(func(ev turn.Event) {
		switch ev.Kind {
		case turn.EventStatus:
			if ev.State == turn.Idle && ev.Status != turn.StatusReady {
				term.Say(ev.Status)
			}
		case turn.EventState:
			if ev.State == turn.Idle {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		}
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cashierchat: %v\n", err)
		return 1
	}
	defer ctrl.Close()

	term.Say("Practice at the checkout. Type what you would say; an empty line skips, Ctrl+D quits.")
	if history := ctrl.Snapshot(); len(history) > 0 {
		_ = term.Speak(ctx, history[0].Text)
	}

	for !capturer.done.Load() {
		if err := ctrl.StartTurn(); err != nil {
			fmt.Fprintf(os.Stderr, "cashierchat: %v\n", err)
			return 1
		}
		select {
		case <-idle:
		case <-ctx.Done():
			ctrl.CancelTurn()
			return 0
		}
	}
	return 0
}
