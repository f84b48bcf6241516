package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; server address and
// provider changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SceneChanged is true when the persona, rules, greeting or labels changed.
	// Only new practice sessions pick it up.
	SceneChanged bool

	// CatalogChanged is true when translations or shelf products changed.
	CatalogChanged bool

	// RelayModelChanged is true when the relay's effective model settings or
	// fallback reply changed.
	RelayModelChanged bool

	// RestartRequired lists sections that changed but cannot be hot-applied.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SceneChanged || d.CatalogChanged || d.RelayModelChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.SceneOrDefault(), new.SceneOrDefault()) {
		d.SceneChanged = true
	}

	if !reflect.DeepEqual(old.Catalog, new.Catalog) {
		d.CatalogChanged = true
	}

	if old.Relay.ModelConfig() != new.Relay.ModelConfig() || old.Relay.FallbackReply != new.Relay.FallbackReply {
		d.RelayModelChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Relay.Path != new.Relay.Path || old.Relay.Variant != new.Relay.Variant ||
		old.Relay.AllowClientOverrides != new.Relay.AllowClientOverrides ||
		!slices.Equal(old.Relay.CORSOrigins, new.Relay.CORSOrigins) ||
		old.Relay.Breaker != new.Relay.Breaker {
		d.RestartRequired = append(d.RestartRequired, "relay")
	}

	return d
}
