package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are applied by the running server; the rest are
// reported so the operator knows a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RepairChanged is set when transcript.repair_timestamps flipped. The new
	// value applies from the next assembly call on.
	RepairChanged bool
	NewRepair     bool

	// SpeakersChanged is set when the seed speakers or the matching mode
	// changed. Only sessions started afterwards see the new seeds.
	SpeakersChanged bool

	// RestartRequired lists top-level sections that changed but are only read
	// at startup.
	RestartRequired []string
}

// Changed reports whether d records any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RepairChanged || d.SpeakersChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Transcript.RepairTimestamps != new.Transcript.RepairTimestamps {
		d.RepairChanged = true
		d.NewRepair = new.Transcript.RepairTimestamps
	}

	if old.Transcript.SeedMatching != new.Transcript.SeedMatching ||
		!slices.Equal(old.Transcript.Speakers, new.Transcript.Speakers) {
		d.SpeakersChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Batch != new.Batch {
		d.RestartRequired = append(d.RestartRequired, "batch")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.STT, b.STT) &&
		slices.EqualFunc(a.Fallbacks.LLM, b.Fallbacks.LLM, entryEqual) &&
		slices.EqualFunc(a.Fallbacks.STT, b.Fallbacks.STT, entryEqual)
}

// entryEqual ignores Options, which cannot be compared with ==.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
