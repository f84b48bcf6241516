package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/cashierchat/pkg/provider/llm/anyllm"
	"github.com/MrWong99/cashierchat/pkg/provider/llm/openai"
)

// API key environment variables, in lookup order.
const (
	EnvAPIKey      = "CASHIER_LLM_API_KEY"
	EnvGroqAPIKey  = "GROQ_API_KEY"
	PlaceholderKey = "YOUR_GROQ_API_KEY"
)

// ValidProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names.
var ValidProviderNames = slices.Concat(openai.EndpointNames(), anyllm.SupportedProviders, []string{"openai-compatible"})

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName(cfg.Providers.LLM.Name)

	// Relay
	if cfg.Relay.Variant != "" && !cfg.Relay.Variant.IsValid() {
		errs = append(errs, fmt.Errorf("relay.variant %q is invalid; valid values: plain, catalog", cfg.Relay.Variant))
	}
	if cfg.Relay.Path != "" && !strings.HasPrefix(cfg.Relay.Path, "/") {
		errs = append(errs, fmt.Errorf("relay.path %q must start with /", cfg.Relay.Path))
	}
	if err := cfg.Relay.ModelConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("relay: %w", err))
	}
	if cfg.Relay.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("relay.breaker.max_failures %d must not be negative", cfg.Relay.Breaker.MaxFailures))
	}
	if cfg.Relay.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("relay.breaker.reset_timeout %s must not be negative", cfg.Relay.Breaker.ResetTimeout))
	}

	// Scene
	if cfg.Scene != nil {
		if err := cfg.Scene.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scene: %w", err))
		}
	}

	// Catalog
	for raw, english := range cfg.Catalog.Translations {
		if strings.TrimSpace(raw) == "" || strings.TrimSpace(english) == "" {
			errs = append(errs, fmt.Errorf("catalog.translations: %q → %q must not be blank", raw, english))
		}
	}
	for i, p := range cfg.Catalog.Products {
		prefix := fmt.Sprintf("catalog.products[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			errs = append(errs, fmt.Errorf("%s.price %v must be a finite non-negative number", prefix, p.Price))
		}
	}

	// Client
	if err := cfg.Client.ModelConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("client: %w", err))
	}
	if cfg.Client.Timeout < 0 {
		errs = append(errs, fmt.Errorf("client.timeout %s must not be negative", cfg.Client.Timeout))
	}

	return errors.Join(errs...)
}

// ApplyEnv overlays credentials from the environment onto cfg. lookup is
// usually os.LookupEnv. The placeholder key counts as missing.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, name := range []string{EnvAPIKey, EnvGroqAPIKey} {
		if v, ok := lookup(name); ok && usableKey(v) {
			cfg.Providers.LLM.APIKey = strings.TrimSpace(v)
			return
		}
	}
	if !usableKey(cfg.Providers.LLM.APIKey) {
		cfg.Providers.LLM.APIKey = ""
	}
}

// HasAPIKey reports whether a usable LLM credential is configured.
func (c *Config) HasAPIKey() bool {
	return usableKey(c.Providers.LLM.APIKey)
}

func usableKey(k string) bool {
	k = strings.TrimSpace(k)
	return k != "" && k != PlaceholderKey
}

// validateProviderName logs a warning if name is non-empty and unknown.
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", "llm",
		"name", name,
		"known", ValidProviderNames,
	)
}
