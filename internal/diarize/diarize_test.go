package diarize_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/scribe/internal/diarize"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/llm/mock"
	"github.com/MrWong99/scribe/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(metric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestDiarize_PromptCarriesKnownSpeakers(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "[00:01] [Anna] hi\n[Ben] welcome back"},
	}
	d := diarize.New(provider, diarize.WithMetrics(testMetrics(t)))

	known := []types.Speaker{
		{ID: "spk-1", DisplayName: "Anna", Hints: "host, low voice"},
		{ID: "spk-2", DisplayName: "Unknown"},
		{ID: "spk-3", DisplayName: "Ben"},
	}
	out, err := d.Diarize(context.Background(), "hi welcome back", known)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if out != "[00:01] [Anna] hi\n[Ben] welcome back" {
		t.Errorf("output = %q", out)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if !strings.Contains(req.SystemPrompt, "- Anna: host, low voice") {
		t.Errorf("system prompt missing Anna with hints:\n%s", req.SystemPrompt)
	}
	if !strings.Contains(req.SystemPrompt, "- Ben\n") {
		t.Errorf("system prompt missing Ben:\n%s", req.SystemPrompt)
	}
	if strings.Contains(req.SystemPrompt, "- Unknown") {
		t.Errorf("system prompt lists the Unknown sentinel:\n%s", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi welcome back" {
		t.Errorf("messages = %+v, want the plain transcript", req.Messages)
	}
}

func TestBuildSystemPrompt_NoKnownSpeakers(t *testing.T) {
	t.Parallel()

	p := diarize.BuildSystemPrompt(nil)
	if !strings.Contains(p, "No speakers are known yet") {
		t.Errorf("prompt without speakers lacks fallback guidance:\n%s", p)
	}
}

func TestDiarize_StripsMarkdownFence(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "```text\n[00:01] [Anna] hi\n[Ben] hello\n```"},
	}
	d := diarize.New(provider, diarize.WithMetrics(testMetrics(t)))

	out, err := d.Diarize(context.Background(), "hi hello", nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if out != "[00:01] [Anna] hi\n[Ben] hello" {
		t.Errorf("output = %q", out)
	}
}

func TestDiarize_EmptyOutputKeepsInput(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "```\n```"}}
	d := diarize.New(provider, diarize.WithMetrics(testMetrics(t)))

	out, err := d.Diarize(context.Background(), "plain words", nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if out != "plain words" {
		t.Errorf("output = %q, want input unchanged", out)
	}
}

func TestDiarize_TruncatedOutputKeepsInput(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "[Anna] we should ship the", Truncated: true},
		ModelCapabilities: types.ModelCapabilities{MaxOutputTokens: 2048},
	}
	d := diarize.New(provider, diarize.WithMetrics(testMetrics(t)))

	in := "we should ship the release on friday"
	out, err := d.Diarize(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if out != in {
		t.Errorf("output = %q, want input kept", out)
	}
	if got := provider.Calls()[0].Req.MaxTokens; got != 2048 {
		t.Errorf("MaxTokens = %d, want model output limit 2048", got)
	}
}

func TestDiarize_BlankInputSkipsLLM(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	d := diarize.New(provider, diarize.WithMetrics(testMetrics(t)))

	if _, err := d.Diarize(context.Background(), "  \n ", nil); err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if n := len(provider.Calls()); n != 0 {
		t.Errorf("Complete calls = %d, want 0", n)
	}
}

func TestDiarize_ProviderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	provider := &mock.Provider{CompleteErr: boom}
	d := diarize.New(provider, diarize.WithMetrics(testMetrics(t)))

	_, err := d.Diarize(context.Background(), "words", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped provider error", err)
	}
}

func TestDiarize_PromptTooLarge(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		TokenCount:        900,
		ModelCapabilities: types.ModelCapabilities{ContextWindow: 1000},
	}
	d := diarize.New(provider, diarize.WithMetrics(testMetrics(t)))

	_, err := d.Diarize(context.Background(), "a long unit", nil)
	if !errors.Is(err, diarize.ErrPromptTooLarge) {
		t.Fatalf("error = %v, want ErrPromptTooLarge", err)
	}
	if n := len(provider.Calls()); n != 0 {
		t.Errorf("Complete calls = %d, want 0 after budget rejection", n)
	}
}

func TestDiarize_LowCoverageKeepsInput(t *testing.T) {
	t.Parallel()

	provider := mock.Returning("[Anna] Summary: they talked.")
	d := diarize.New(provider, diarize.WithMetrics(testMetrics(t)))

	in := "we should ship the release on friday after the final review"
	out, err := d.Diarize(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if out != in {
		t.Errorf("output = %q, want input kept", out)
	}

	lenient := diarize.New(provider, diarize.WithMetrics(testMetrics(t)), diarize.WithMinCoverage(0))
	if out, _ := lenient.Diarize(context.Background(), in, nil); out == in {
		t.Error("coverage check disabled but input was kept")
	}
}

func TestDiarize_TimestampedInputKeepsLabels(t *testing.T) {
	t.Parallel()

	labelled := "[00:01] [Alice] Hi there.\n[00:03] [Bob] Yes.\n[00:04] [Alice] Okay, thanks."
	d := diarize.New(mock.Returning(labelled), diarize.WithMetrics(testMetrics(t)))

	out, err := d.Diarize(context.Background(), "[00:01] Hi there.\n[00:03] Yes.\n[00:04] Okay, thanks.", nil)
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if out != labelled {
		t.Errorf("output = %q, want the labelled transcript", out)
	}
}

func TestCoverage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		out  string
		want float64
	}{
		{"empty input", "", "[Anna] hi", 1},
		{"labels ignored", "Hi there. Welcome back!", "[00:01] [Speaker 1] hi there\n[00:03] [Ben Smith] welcome back", 1},
		{"half dropped", "one two three four", "[A] one two", 0.5},
		{"nothing kept", "alpha beta", "[A] gamma", 0},
		{"timestamped input", "[00:01] Hi there.\n[00:03] Yes.\n[00:04] Okay, thanks.", "[00:01] [Alice] Hi there.\n[00:03] [Bob] Yes.\n[00:04] [Alice] Okay, thanks.", 1},
		{"speaker-tagged input", "[00:02] [Speaker 0] good morning\n[00:05] [Speaker 1] morning", "[00:02] [Anna] good morning\n[00:05] [Ben] morning", 1},
		{"only timestamps in input", "[00:01] [00:02]", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := diarize.Coverage(tt.in, tt.out); got != tt.want {
				t.Errorf("Coverage = %v, want %v", got, tt.want)
			}
		})
	}
}
