package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/types"
)

func TestParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "claude-sonnet-4-5"}
	params := p.params(llm.CompletionRequest{
		SystemPrompt: "label speakers",
		Messages: []types.Message{
			{Role: "user", Content: "hello there", Name: "unit-1"},
			{Role: "assistant", Content: "[Alice] hello there"},
		},
		Temperature: 0.1,
		MaxTokens:   8192,
	})

	if params.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 3 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v, want system + 2", params.Messages)
	}
	if m := params.Messages[1]; m.Role != "user" || m.ContentString() != "hello there" || m.Name != "unit-1" {
		t.Errorf("user message = %+v", m)
	}
	if params.Temperature == nil || *params.Temperature != 0.1 {
		t.Errorf("Temperature = %v, want 0.1", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %v, want 8192", params.MaxTokens)
	}

	bare := p.params(llm.CompletionRequest{Messages: []types.Message{{Role: "user", Content: "hi"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil || len(bare.Messages) != 1 {
		t.Errorf("zero request fields leaked into params: %+v", bare)
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "gemini", "ollama", "openai", "llamacpp"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() missing %q", want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty backend")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Capabilities(t *testing.T) {
	tests := []struct {
		name       string
		backend    string
		model      string
		opts       []Option
		wantWindow int
	}{
		{"anthropic lookup", "anthropic", "claude-sonnet-4-5", []Option{WithAPIKey("sk-ant-test")}, 200_000},
		{"gemini lookup", "Gemini", "gemini-2.0-flash", []Option{WithAPIKey("g-test")}, 1_048_576},
		{"ollama override", "ollama", "my-finetune", []Option{WithBaseURL("http://localhost:11434"), WithContextWindow(16_384)}, 16_384},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Capabilities().ContextWindow; got != tt.wantWindow {
				t.Errorf("ContextWindow = %d, want %d", got, tt.wantWindow)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1"}
	if n, _ := p.CountTokens(nil); n != 0 {
		t.Errorf("CountTokens(nil) = %d, want 0", n)
	}
	one, _ := p.CountTokens([]types.Message{{Content: "[Alice] Hello"}})
	two, _ := p.CountTokens([]types.Message{{Content: "[Alice] Hello"}, {Content: "[Bob] Hi there, good to see you."}})
	if two <= one {
		t.Errorf("two messages = %d tokens, not more than one message = %d", two, one)
	}
}
