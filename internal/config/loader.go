package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A speakers_file reference is resolved relative to path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. A relative speakers_file is resolved against the
// working directory. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, "")
}

func parse(data []byte, baseDir string) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if cfg.Transcript.SpeakersFile != "" {
		path := cfg.Transcript.SpeakersFile
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		extra, err := LoadSpeakers(path)
		if err != nil {
			return nil, err
		}
		cfg.Transcript.Speakers = append(cfg.Transcript.Speakers, extra...)
	}
	if root := cfg.Batch.Root; root != "" && !filepath.IsAbs(root) && baseDir != "" {
		cfg.Batch.Root = filepath.Join(baseDir, root)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// speakersFile is the on-disk shape of a speakers file.
type speakersFile struct {
	Speakers []SpeakerConfig `yaml:"speakers"`
}

// LoadSpeakers reads a YAML file with a top-level "speakers" list.
func LoadSpeakers(path string) ([]SpeakerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open speakers file %q: %w", path, err)
	}
	defer f.Close()

	var sf speakersFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode speakers file %q: %w", path, err)
	}
	return sf.Speakers, nil
}

// Validate checks cfg section by section and joins every problem found.
// Provider names are not checked here; the [Registry] knows which exist.
func Validate(cfg *Config) error {
	var errs []error
	for _, check := range []func(*Config) []error{
		checkServer, checkProviders, checkTranscript, checkBatch, checkStore, checkTelemetry,
	} {
		errs = append(errs, check(cfg)...)
	}
	return errors.Join(errs...)
}

func checkServer(cfg *Config) (errs []error) {
	if lvl := cfg.Server.LogLevel; lvl != "" && !lvl.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", lvl))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	return errs
}

func checkProviders(cfg *Config) (errs []error) {
	fb := cfg.Providers.Fallbacks
	for i, e := range fb.LLM {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks.llm[%d].name is required", i))
		}
	}
	for i, e := range fb.STT {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks.stt[%d].name is required", i))
		}
	}
	return errs
}

func checkTranscript(cfg *Config) (errs []error) {
	tc := cfg.Transcript
	if tc.SeedMatching != "" && !tc.SeedMatching.IsValid() {
		errs = append(errs, fmt.Errorf("transcript.seed_matching %q is invalid; valid values: exact, phonetic", tc.SeedMatching))
	}
	first := make(map[string]int, len(tc.Speakers))
	for i, sp := range tc.Speakers {
		field := fmt.Sprintf("transcript.speakers[%d]", i)
		switch prev, dup := first[sp.Name]; {
		case sp.Name == "":
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		case dup:
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of transcript.speakers[%d]", field, sp.Name, prev))
		default:
			first[sp.Name] = i
		}
		if sp.Color != "" && !colorRe.MatchString(sp.Color) {
			errs = append(errs, fmt.Errorf("%s.color %q is invalid; want #rrggbb", field, sp.Color))
		}
	}
	return errs
}

func checkBatch(cfg *Config) (errs []error) {
	b := cfg.Batch
	if b.Source != "" && !b.Source.IsValid() {
		errs = append(errs, fmt.Errorf("batch.source %q is invalid; valid values: text, audio", b.Source))
	}
	if b.UnitTimeout < 0 {
		errs = append(errs, fmt.Errorf("batch.unit_timeout %s must not be negative", b.UnitTimeout))
	}
	if b.Root != "" {
		if fi, err := os.Stat(b.Root); err != nil {
			errs = append(errs, fmt.Errorf("batch.root: %w", err))
		} else if !fi.IsDir() {
			errs = append(errs, fmt.Errorf("batch.root %q is not a directory", b.Root))
		}
	}
	if b.Source == SourceAudio {
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("batch.source audio requires providers.stt"))
		}
		if cfg.Providers.LLM.Name == "" {
			slog.Warn("config: batch.source is audio without providers.llm; units stay unlabelled unless the STT provider diarizes")
		}
	}
	return errs
}

func checkStore(cfg *Config) (errs []error) {
	st := cfg.Store
	if st.Driver != "" && !st.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, sqlite, postgres", st.Driver))
	}
	if (st.Driver == StoreSQLite || st.Driver == StorePostgres) && st.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", st.Driver))
	}
	if st.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("store.max_conns %d must not be negative", st.MaxConns))
	}
	return errs
}

func checkTelemetry(cfg *Config) (errs []error) {
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}
	return errs
}
