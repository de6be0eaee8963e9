package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via [BuildProviders].
type Providers struct {
	LLM llm.Provider
	STT stt.Provider

	// LLMName and STTName label metrics and logs. When fallbacks are
	// configured they name the primary.
	LLMName string
	STTName string
}

// BuildProviders creates the configured providers through reg. A slot with
// fallbacks is wrapped in a [resilience.LLMFallback] or
// [resilience.STTFallback] so that every entry gets its own circuit breaker.
//
// Every unknown provider name is reported before anything is constructed.
func BuildProviders(reg *config.Registry, cfg config.ProvidersConfig) (*Providers, error) {
	if err := reg.Check(cfg); err != nil {
		return nil, fmt.Errorf("app: providers: %w", err)
	}
	p := &Providers{LLMName: cfg.LLM.Name, STTName: cfg.STT.Name}

	if cfg.LLM.Name != "" {
		primary, err := reg.CreateLLM(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("app: create llm %q: %w", cfg.LLM.Name, err)
		}
		p.LLM = primary
		if len(cfg.Fallbacks.LLM) > 0 {
			fb := resilience.NewLLMFallback(primary, cfg.LLM.Name, resilience.FallbackConfig{})
			for _, entry := range cfg.Fallbacks.LLM {
				prov, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("app: create llm fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, prov)
			}
			p.LLM = fb
			slog.Info("llm failover enabled", "primary", cfg.LLM.Name, "fallbacks", len(cfg.Fallbacks.LLM))
		}
	}

	if cfg.STT.Name != "" {
		primary, err := reg.CreateSTT(cfg.STT)
		if err != nil {
			return nil, fmt.Errorf("app: create stt %q: %w", cfg.STT.Name, err)
		}
		p.STT = primary
		if len(cfg.Fallbacks.STT) > 0 {
			fb := resilience.NewSTTFallback(primary, cfg.STT.Name, resilience.FallbackConfig{})
			for _, entry := range cfg.Fallbacks.STT {
				prov, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("app: create stt fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, prov)
			}
			p.STT = fb
			slog.Info("stt failover enabled", "primary", cfg.STT.Name, "fallbacks", len(cfg.Fallbacks.STT))
		}
	}

	return p, nil
}

// checkers returns readiness checks for providers that report circuit
// breaker state.
func (p *Providers) checkers() []health.Checker {
	var out []health.Checker
	if r, ok := p.LLM.(health.BreakerReporter); ok {
		out = append(out, health.Breakers("llm", r))
	}
	if r, ok := p.STT.(health.BreakerReporter); ok {
		out = append(out, health.Breakers("stt", r))
	}
	return out
}
