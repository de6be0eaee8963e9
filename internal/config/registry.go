package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned when a config names a provider no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories holds the constructors of one provider kind.
type factories[P any] struct {
	kind   string
	byName map[string]func(ProviderEntry) (P, error)
}

func newFactories[P any](kind string) factories[P] {
	return factories[P]{kind: kind, byName: make(map[string]func(ProviderEntry) (P, error))}
}

func (f factories[P]) lookup(name string) (func(ProviderEntry) (P, error), error) {
	mk, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q (known: %s)", ErrProviderNotRegistered, f.kind, name, strings.Join(f.names(), ", "))
	}
	return mk, nil
}

func (f factories[P]) names() []string { return slices.Sorted(maps.Keys(f.byName)) }

// Registry maps provider names from the config to constructors. main
// registers the built-in providers; tests register fakes. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[llm.Provider]("llm"),
		stt: newFactories[stt.Provider]("stt"),
	}
}

// RegisterLLM registers an LLM constructor under name, replacing any
// earlier one.
func (r *Registry) RegisterLLM(name string, mk func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.byName[name] = mk
}

// RegisterSTT registers an STT constructor under name, replacing any
// earlier one.
func (r *Registry) RegisterSTT(name string, mk func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byName[name] = mk
}

// CreateLLM builds the LLM provider entry.Name refers to.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	mk, err := r.llm.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return mk(entry)
}

// CreateSTT builds the STT provider entry.Name refers to.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	mk, err := r.stt.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return mk(entry)
}

// Check reports every provider in cfg, primaries and fallbacks, that has no
// registered constructor. Empty names are skipped.
func (r *Registry) Check(cfg ProvidersConfig) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, e := range append([]ProviderEntry{cfg.LLM}, cfg.Fallbacks.LLM...) {
		if e.Name == "" {
			continue
		}
		if _, err := r.llm.lookup(e.Name); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range append([]ProviderEntry{cfg.STT}, cfg.Fallbacks.STT...) {
		if e.Name == "" {
			continue
		}
		if _, err := r.stt.lookup(e.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LLMNames returns the registered LLM names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.names()
}

// STTNames returns the registered STT names, sorted.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.names()
}
