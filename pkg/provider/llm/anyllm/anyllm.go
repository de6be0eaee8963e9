// Package anyllm implements [llm.Provider] on github.com/mozilla-ai/any-llm-go,
// which puts Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp,
// llamafile, and OpenAI behind one completion API.
//
//	p, err := anyllm.New("anthropic", "claude-sonnet-4-5", anyllm.WithAPIKey(key))
//	p, err := anyllm.New("ollama", "llama3.1", anyllm.WithBaseURL("http://gpu-box:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/types"
)

type factory func(...anyllmlib.Option) (anyllmlib.Provider, error)

var factories = map[string]factory{
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the backend names accepted by [New], sorted.
func Backends() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provider sends completions to one model on one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
	caps    types.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)

type settings struct {
	lib    []anyllmlib.Option
	window int
}

// Option configures a [Provider].
type Option func(*settings)

// WithAPIKey sets the backend API key. Without it the backend reads its
// usual environment variable (ANTHROPIC_API_KEY and so on).
func WithAPIKey(key string) Option {
	return func(s *settings) { s.lib = append(s.lib, anyllmlib.WithAPIKey(key)) }
}

// WithBaseURL points the backend at another address, typically a local
// Ollama or llama.cpp server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.lib = append(s.lib, anyllmlib.WithBaseURL(url)) }
}

// WithContextWindow overrides the context window looked up from the model
// name.
func WithContextWindow(tokens int) Option {
	return func(s *settings) { s.window = tokens }
}

// New returns a Provider for model on the named backend (see [Backends]).
func New(backend, model string, opts ...Option) (*Provider, error) {
	switch {
	case backend == "":
		return nil, errors.New("anyllm: backend must not be empty")
	case model == "":
		return nil, errors.New("anyllm: model must not be empty")
	}
	mk, ok := factories[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backend, strings.Join(Backends(), ", "))
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}
	b, err := mk(s.lib...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backend, err)
	}

	caps := llm.LookupCapabilities(model)
	if s.window > 0 {
		caps.ContextWindow = s.window
	}
	return &Provider{backend: b, model: model, caps: caps}, nil
}

// Complete runs one completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %w", llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:   choice.Message.ContentString(),
		Truncated: string(choice.FinishReason) == llm.FinishLength,
	}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens estimates with [llm.EstimateTokens].
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities reports the model's limits.
func (p *Provider) Capabilities() types.ModelCapabilities { return p.caps }

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		params.MaxTokens = &n
	}
	return params
}
