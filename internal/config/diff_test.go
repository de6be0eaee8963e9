package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/scribe/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)
	d := config.Diff(cfg, mustLoad(t, sampleYAML))
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level should be hot-reloadable, got restart %v", d.RestartRequired)
	}
}

func TestDiff_RepairChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Transcript.RepairTimestamps = false

	d := config.Diff(old, new)
	if !d.RepairChanged || d.NewRepair {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiff_SpeakersChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	old.Transcript.Speakers = []config.SpeakerConfig{{Name: "Alice"}}

	hints := config.Default()
	hints.Transcript.Speakers = []config.SpeakerConfig{{Name: "Alice", Hints: "host"}}
	if !config.Diff(old, hints).SpeakersChanged {
		t.Error("hint change not detected")
	}

	mode := config.Default()
	mode.Transcript.Speakers = old.Transcript.Speakers
	mode.Transcript.SeedMatching = config.SeedMatchingPhonetic
	if !config.Diff(old, mode).SpeakersChanged {
		t.Error("seed matching change not detected")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9999"
	new.Providers.LLM = config.ProviderEntry{Name: "openai", Options: map[string]any{"x": 1}}
	new.Store = config.StoreConfig{Driver: config.StoreSQLite, DSN: "a.db"}

	d := config.Diff(old, new)
	for _, want := range []string{"server", "providers", "store"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired %v missing %q", d.RestartRequired, want)
		}
	}
	if slices.Contains(d.RestartRequired, "batch") || slices.Contains(d.RestartRequired, "telemetry") {
		t.Errorf("unexpected sections in %v", d.RestartRequired)
	}
}
