package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/cashierchat/internal/config"
	"github.com/MrWong99/cashierchat/internal/prompt"
	"github.com/MrWong99/cashierchat/pkg/types"
)

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()

	d := config.Diff(config.Default(), config.Default())
	if d.Changed() || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected diff: %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old := config.Default()
	updated := config.Default()
	updated.Server.LogLevel = config.LogDebug
	scene := prompt.DefaultScene()
	scene.Greeting = "Hello!"
	updated.Scene = &scene
	updated.Catalog.Products = []types.ProductEntry{{Name: "Leche", Price: 1}}
	updated.Relay.MaxTokens = 200

	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.SceneChanged {
		t.Error("scene change not detected")
	}
	if !d.CatalogChanged {
		t.Error("catalog change not detected")
	}
	if !d.RelayModelChanged {
		t.Error("relay model change not detected")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("restart required = %v", d.RestartRequired)
	}
}

func TestDiff_ExplicitDefaultSceneIsNoChange(t *testing.T) {
	t.Parallel()

	updated := config.Default()
	scene := prompt.DefaultScene()
	updated.Scene = &scene

	if d := config.Diff(config.Default(), updated); d.SceneChanged {
		t.Error("spelling out the default scene was reported as a change")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old := config.Default()
	updated := config.Default()
	updated.Server.ListenAddr = ":9000"
	updated.Providers.LLM.Name = "openai"
	updated.Relay.Variant = config.VariantPlain

	d := config.Diff(old, updated)
	for _, want := range []string{"server.listen_addr", "providers", "relay"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired %v missing %q", d.RestartRequired, want)
		}
	}
	// The plain variant also switches the default model.
	if !d.RelayModelChanged {
		t.Error("variant switch should change the effective model")
	}
}
