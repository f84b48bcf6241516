// Package config provides the configuration schema, loader, and provider
// registry for the cashier practice server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/internal/prompt"
	"github.com/MrWong99/cashierchat/pkg/types"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Variant selects how the relay builds the model request.
type Variant string

const (
	// VariantPlain forwards the prompt as the only user message.
	VariantPlain Variant = "plain"

	// VariantCatalog adds a product-aware system instruction built from the
	// request's products.
	VariantCatalog Variant = "catalog"
)

// IsValid reports whether v is a recognised relay variant.
func (v Variant) IsValid() bool {
	return v == VariantPlain || v == VariantCatalog
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Relay     RelayConfig     `yaml:"relay"`
	Scene     *prompt.Scene   `yaml:"scene"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Client    ClientConfig    `yaml:"client"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":3001".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the provider implementation used by the relay.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the configuration block for one provider. Name is used to
// look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "groq", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. Usually supplied through the
	// environment instead, see [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the provider's default model.
	Model string `yaml:"model"`
}

// RelayConfig configures the completion relay endpoint.
type RelayConfig struct {
	// Path is the HTTP route. Default "/api/chat".
	Path string `yaml:"path"`

	// Variant is plain or catalog. Default catalog.
	Variant Variant `yaml:"variant"`

	// Model, Temperature and MaxTokens are the server-side model settings.
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	// AllowClientOverrides lets a request body override the model settings
	// above. Off by default.
	AllowClientOverrides bool `yaml:"allow_client_overrides"`

	// CORSOrigins lists the browser origins allowed to call the relay.
	CORSOrigins []string `yaml:"cors_origins"`

	// FallbackReply replaces an empty model answer.
	FallbackReply string `yaml:"fallback_reply"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding the provider.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CatalogConfig holds the product translation table and shelf prices.
type CatalogConfig struct {
	// Translations extends the built-in local-label → English table.
	Translations map[string]string `yaml:"translations"`

	// Products is the shelf. When empty the default store seed is used.
	Products []types.ProductEntry `yaml:"products"`
}

// ClientConfig configures the console practice mode's relay client.
type ClientConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default model settings.
const (
	DefaultListenAddr   = ":3001"
	DefaultRelayPath    = "/api/chat"
	DefaultPlainModel   = "llama3-8b-8192"
	DefaultCatalogModel = "llama-3.3-70b-versatile"
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 150
	DefaultCORSOrigin   = "http://localhost:5173"
)

// ModelConfig returns the relay's effective model settings.
func (r RelayConfig) ModelConfig() completion.ModelConfig {
	mc := completion.ModelConfig{
		Model:           r.Model,
		Temperature:     DefaultTemperature,
		MaxOutputTokens: r.MaxTokens,
	}
	if mc.Model == "" {
		mc.Model = DefaultCatalogModel
		if r.Variant == VariantPlain {
			mc.Model = DefaultPlainModel
		}
	}
	if r.Temperature != nil {
		mc.Temperature = *r.Temperature
	}
	if mc.MaxOutputTokens == 0 {
		mc.MaxOutputTokens = DefaultMaxTokens
	}
	return mc
}

// ModelConfig returns the console client's model settings.
func (c ClientConfig) ModelConfig() completion.ModelConfig {
	mc := completion.ModelConfig{
		Model:           c.Model,
		Temperature:     DefaultTemperature,
		MaxOutputTokens: c.MaxTokens,
	}
	if mc.Model == "" {
		mc.Model = DefaultCatalogModel
	}
	if c.Temperature != nil {
		mc.Temperature = *c.Temperature
	}
	if mc.MaxOutputTokens == 0 {
		mc.MaxOutputTokens = DefaultMaxTokens
	}
	return mc
}

// SceneOrDefault returns the configured scene or [prompt.DefaultScene].
func (c *Config) SceneOrDefault() prompt.Scene {
	if c.Scene == nil {
		return prompt.DefaultScene()
	}
	return *c.Scene
}

// applyDefaults fills unset fields in place.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "groq"
	}
	if cfg.Relay.Path == "" {
		cfg.Relay.Path = DefaultRelayPath
	}
	if cfg.Relay.Variant == "" {
		cfg.Relay.Variant = VariantCatalog
	}
	if len(cfg.Relay.CORSOrigins) == 0 {
		cfg.Relay.CORSOrigins = []string{DefaultCORSOrigin}
	}
	if cfg.Relay.FallbackReply == "" {
		cfg.Relay.FallbackReply = completion.DefaultFallbackReply
	}
	if cfg.Client.Endpoint == "" {
		cfg.Client.Endpoint = "http://localhost" + DefaultListenAddr + DefaultRelayPath
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = 30 * time.Second
	}
}
