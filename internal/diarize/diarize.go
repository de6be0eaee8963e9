// Package diarize implements the language-model pass that turns a plain STT
// transcript into speaker-labelled lines of the form
//
//	[mm:ss] [Speaker] text
//
// The [Diarizer] primes the model with the speakers already known to the
// session (display names and hints) so that the same voice keeps the same
// label across independently transcribed units of one recording. The output
// is not trusted: it is handed to the transcript engine, which tolerates
// malformed lines.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/types"
)

const (
	defaultTemperature = 0.1
	defaultMinCoverage = 0.8

	// outputReserve is the share of the context window kept free for the
	// labelled transcript, which is about as long as the input.
	outputReserve = 0.5
)

// ErrPromptTooLarge is returned when a unit's transcript does not fit the
// model's context window together with its labelled output.
var ErrPromptTooLarge = errors.New("diarize: prompt exceeds model context window")

const systemPromptHeader = `You label speakers in meeting and interview transcripts.

Rewrite the transcript you receive as one line per utterance, in exactly this format:
[mm:ss] [Speaker name] utterance text

Rules:
- Keep the original wording. Do not summarise, translate or drop content.
- Start a new line whenever the speaker changes.
- Use a timestamp only when the input provides one; otherwise write [Speaker name] text.
- Respond with the labelled lines only, no commentary and no markdown.`

// Option is a functional option for configuring a [Diarizer].
type Option func(*Diarizer)

// WithTemperature sets the LLM sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(d *Diarizer) {
		d.temperature = temp
	}
}

// WithMinCoverage sets the minimum share of input words the labelled output
// must keep (see [Coverage]). Below it the plain transcript is returned
// instead. Zero disables the check. Default: 0.8.
func WithMinCoverage(ratio float64) Option {
	return func(d *Diarizer) {
		d.minCoverage = ratio
	}
}

// WithMetrics records LLM latency on m instead of the global metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Diarizer) {
		d.metrics = m
	}
}

// WithProviderName sets the provider attribute on recorded metrics.
func WithProviderName(name string) Option {
	return func(d *Diarizer) {
		d.providerName = name
	}
}

// Diarizer labels speakers with an [llm.Provider]. It is safe for concurrent
// use.
type Diarizer struct {
	llm          llm.Provider
	temperature  float64
	minCoverage  float64
	metrics      *observe.Metrics
	providerName string
}

// New returns a [Diarizer] backed by provider.
func New(provider llm.Provider, opts ...Option) *Diarizer {
	d := &Diarizer{
		llm:          provider,
		temperature:  defaultTemperature,
		minCoverage:  defaultMinCoverage,
		providerName: "llm",
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Diarize labels the speakers in text. known lists the session's current
// speakers in creation order; their display names are offered as preferred
// labels.
//
// Blank input is returned unchanged without an LLM call. When the model
// answers with nothing usable, or drops too many words, the input is returned
// unchanged so the engine still records every word as Unknown-speaker lines.
// Output cut off at the token limit is treated the same way.
func (d *Diarizer) Diarize(ctx context.Context, text string, known []types.Speaker) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: BuildSystemPrompt(known),
		Temperature:  d.temperature,
		Messages: []types.Message{
			{Role: "user", Content: text},
		},
		MaxTokens: d.llm.Capabilities().MaxOutputTokens,
	}

	if err := d.checkBudget(req); err != nil {
		return "", err
	}

	ctx, span := observe.StartSpan(ctx, "diarize.llm")
	defer span.End()

	start := time.Now()
	resp, err := d.llm.Complete(ctx, req)
	d.metrics.RecordProviderCall(ctx, d.providerName, observe.KindLLM, time.Since(start), err)
	if err != nil {
		observe.FailSpan(span, err)
		return "", fmt.Errorf("diarize: complete: %w", err)
	}

	if resp.Truncated {
		observe.Logger(ctx).Warn("diarize: model output truncated, keeping plain transcript",
			"completion_tokens", resp.Usage.CompletionTokens)
		d.metrics.RecordDiarizeFallback(ctx, "truncated")
		return text, nil
	}
	out := stripMarkdown(resp.Content)
	if out == "" {
		observe.Logger(ctx).Warn("diarize: empty model output, keeping plain transcript")
		d.metrics.RecordDiarizeFallback(ctx, "empty")
		return text, nil
	}
	if d.minCoverage > 0 {
		if cov := Coverage(text, out); cov < d.minCoverage {
			observe.Logger(ctx).Warn("diarize: model output dropped content, keeping plain transcript",
				"coverage", cov, "min_coverage", d.minCoverage)
			d.metrics.RecordDiarizeFallback(ctx, "coverage")
			return text, nil
		}
	}
	return out, nil
}

// checkBudget rejects requests whose prompt leaves too little room for the
// answer. Providers reporting no context window are not checked.
func (d *Diarizer) checkBudget(req llm.CompletionRequest) error {
	window := d.llm.Capabilities().ContextWindow
	if window <= 0 {
		return nil
	}
	msgs := append([]types.Message{{Role: "system", Content: req.SystemPrompt}}, req.Messages...)
	n, err := d.llm.CountTokens(msgs)
	if err != nil {
		return fmt.Errorf("diarize: count tokens: %w", err)
	}
	if limit := int(float64(window) * (1 - outputReserve)); n > limit {
		return fmt.Errorf("%w: %d tokens, limit %d", ErrPromptTooLarge, n, limit)
	}
	return nil
}

// BuildSystemPrompt returns the system prompt listing known speakers.
func BuildSystemPrompt(known []types.Speaker) string {
	var sb strings.Builder
	sb.WriteString(systemPromptHeader)

	var listed int
	for _, sp := range known {
		name := strings.TrimSpace(sp.DisplayName)
		if name == "" || name == transcript.UnknownSpeaker {
			continue
		}
		if listed == 0 {
			sb.WriteString("\n\nSpeakers already identified in earlier parts of this recording. Reuse these exact labels for the same people:\n")
		}
		listed++
		sb.WriteString("- ")
		sb.WriteString(name)
		if hints := strings.TrimSpace(sp.Hints); hints != "" {
			sb.WriteString(": ")
			sb.WriteString(hints)
		}
		sb.WriteByte('\n')
	}
	if listed == 0 {
		sb.WriteString("\n\nNo speakers are known yet. Use real names when the conversation reveals them, otherwise Speaker 1, Speaker 2, and so on.\n")
	}
	return sb.String()
}

// stripMarkdown removes optional markdown code fences that some models wrap
// around plain-text output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```text", "```plaintext", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
