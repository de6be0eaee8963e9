// Package config provides the configuration schema, loader, hot-reload
// watcher, and provider registry for scribe.
package config

import (
	"time"

	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/internal/transcript/phonetic"
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

// SeedMatching selects how observed labels are matched against seed speakers.
type SeedMatching string

const (
	// SeedMatchingExact requires the label to equal the seed name.
	SeedMatchingExact SeedMatching = "exact"

	// SeedMatchingPhonetic also accepts respellings ("Alyce" for "Alice").
	SeedMatchingPhonetic SeedMatching = "phonetic"
)

// IsValid reports whether m is a recognised matching mode.
func (m SeedMatching) IsValid() bool {
	return m == SeedMatchingExact || m == SeedMatchingPhonetic
}

// BatchSource selects where batch units get their raw diarized text.
type BatchSource string

const (
	// SourceText reads pre-obtained model output from text files.
	SourceText BatchSource = "text"

	// SourceAudio transcribes audio files through the STT provider and the
	// LLM diarization pass.
	SourceAudio BatchSource = "audio"
)

// IsValid reports whether s is a recognised batch source.
func (s BatchSource) IsValid() bool {
	return s == SourceText || s == SourceAudio
}

// StoreDriver selects the session archive backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for scribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Batch      BatchConfig      `yaml:"batch"`
	Store      StoreConfig      `yaml:"store"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// Default returns a Config with every default applied. [LoadFromReader]
// decodes on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Transcript: TranscriptConfig{
			RepairTimestamps: true,
			SeedMatching:     SeedMatchingExact,
		},
		Batch: BatchConfig{
			Source: SourceText,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
		},
		Telemetry: TelemetryConfig{
			ServiceName:      "scribe",
			Metrics:          true,
			TraceSampleRatio: 1,
		},
	}
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation backs each external
// call. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM runs the diarization pass for audio batches.
	LLM ProviderEntry `yaml:"llm"`

	// STT transcribes audio units.
	STT ProviderEntry `yaml:"stt"`

	// Fallbacks are tried in order when the primary provider fails.
	Fallbacks FallbacksConfig `yaml:"fallbacks"`
}

// FallbacksConfig lists secondary providers per kind.
type FallbacksConfig struct {
	LLM []ProviderEntry `yaml:"llm"`
	STT []ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// TranscriptConfig controls the transcript engine.
type TranscriptConfig struct {
	// RepairTimestamps canonicalises timestamps to "mm:ss" and fills in
	// missing ones from the last good value. Default true. Hot-reloadable.
	RepairTimestamps bool `yaml:"repair_timestamps"`

	// SeedMatching selects exact or phonetic seed lookup. Default "exact".
	SeedMatching SeedMatching `yaml:"seed_matching"`

	// Speakers are known participants. Their hints and colors are applied
	// when a matching label is first observed.
	Speakers []SpeakerConfig `yaml:"speakers"`

	// SpeakersFile names a YAML file with a top-level "speakers" list. A
	// relative path is resolved against the config file's directory. Its
	// entries are appended to Speakers.
	SpeakersFile string `yaml:"speakers_file"`
}

// SpeakerConfig seeds one known speaker.
type SpeakerConfig struct {
	Name  string `yaml:"name"`
	Hints string `yaml:"hints"`
	Color string `yaml:"color"`
}

// Options returns the per-call engine options for this config.
func (c TranscriptConfig) Options() transcript.Options {
	return transcript.Options{RepairTimestamps: c.RepairTimestamps}
}

// Seeds converts the configured speakers into registry seeds.
func (c TranscriptConfig) Seeds() []transcript.SeedSpeaker {
	if len(c.Speakers) == 0 {
		return nil
	}
	out := make([]transcript.SeedSpeaker, 0, len(c.Speakers))
	for _, sp := range c.Speakers {
		out = append(out, transcript.SeedSpeaker{Name: sp.Name, Hints: sp.Hints, Color: sp.Color})
	}
	return out
}

// RegistryOptions returns the speaker registry options for new sessions: the
// seeds and, with phonetic seed matching, a [phonetic.Matcher].
func (c TranscriptConfig) RegistryOptions() []transcript.RegistryOption {
	opts := []transcript.RegistryOption{transcript.WithSeeds(c.Seeds())}
	if c.SeedMatching == SeedMatchingPhonetic {
		opts = append(opts, transcript.WithSeedMatcher(phonetic.New()))
	}
	return opts
}

// BatchConfig controls how batch units are transcribed.
type BatchConfig struct {
	// Source selects text files or audio. Default "text".
	Source BatchSource `yaml:"source"`

	// Language is the BCP-47 hint passed to the STT provider for audio units.
	Language string `yaml:"language"`

	// UnitTimeout bounds one unit's transcription. Zero means no limit.
	UnitTimeout time.Duration `yaml:"unit_timeout"`

	// Root confines unit paths to one directory. Unit paths are then
	// interpreted relative to Root and may not escape it. Empty means unit
	// paths are ordinary file system paths, which only the CLI accepts; the
	// HTTP batch endpoint refuses to run without a Root.
	Root string `yaml:"root"`
}

// StoreConfig selects the session archive.
type StoreConfig struct {
	// Driver is "memory", "sqlite", or "postgres". Default "memory".
	Driver StoreDriver `yaml:"driver"`

	// DSN is the database file path for sqlite or the connection string for
	// postgres. Ignored for memory.
	DSN string `yaml:"dsn"`

	// MaxConns caps the postgres pool. Zero keeps the pgx default.
	MaxConns int32 `yaml:"max_conns"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported as the OpenTelemetry service name.
	ServiceName string `yaml:"service_name"`

	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`

	// RuntimeMetrics adds Go runtime and process collectors.
	RuntimeMetrics bool `yaml:"runtime_metrics"`

	// TraceSampleRatio is the fraction of root spans sampled, in [0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}
