// Package transcriber provides the [batch.Transcriber] implementations used
// by scribe: [TextFiles] replays model output that was obtained earlier and
// stored on disk, [Audio] transcribes audio units with an STT provider and an
// optional LLM diarization pass.
package transcriber

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/MrWong99/scribe/internal/batch"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	"github.com/MrWong99/scribe/pkg/types"
)

var (
	_ batch.Transcriber = (*TextFiles)(nil)
	_ batch.Transcriber = (*Audio)(nil)
)

// TextFiles reads each unit's raw model output from Unit.Path.
type TextFiles struct {
	fsys fs.FS
}

// NewTextFiles returns a TextFiles reading from fsys. A nil fsys reads from
// the operating system, accepting absolute paths.
func NewTextFiles(fsys fs.FS) *TextFiles {
	return &TextFiles{fsys: fsys}
}

// Transcribe implements batch.Transcriber.
func (t *TextFiles) Transcribe(ctx context.Context, unit batch.Unit, _ []types.Speaker) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		data []byte
		err  error
	)
	if t.fsys != nil {
		data, err = fs.ReadFile(t.fsys, unit.Path)
	} else {
		data, err = os.ReadFile(unit.Path)
	}
	if err != nil {
		return "", fmt.Errorf("transcriber: read %s: %w", unit.Path, err)
	}
	return string(data), nil
}

// Diarizer labels speakers in a plain transcript. *diarize.Diarizer
// satisfies it.
type Diarizer interface {
	Diarize(ctx context.Context, text string, known []types.Speaker) (string, error)
}

// AudioOption configures [Audio].
type AudioOption func(*Audio)

// WithDiarizer runs d over every STT result.
func WithDiarizer(d Diarizer) AudioOption {
	return func(a *Audio) {
		a.diarizer = d
	}
}

// WithLanguage sets the language hint passed to the STT provider.
func WithLanguage(lang string) AudioOption {
	return func(a *Audio) {
		a.language = lang
	}
}

// WithOpener replaces the function used to open unit audio.
func WithOpener(open func(path string) (io.ReadCloser, error)) AudioOption {
	return func(a *Audio) {
		a.open = open
	}
}

// WithMetrics records STT latency on m instead of the global metrics.
func WithMetrics(m *observe.Metrics) AudioOption {
	return func(a *Audio) {
		a.metrics = m
	}
}

// WithProviderName sets the provider attribute on recorded metrics.
func WithProviderName(name string) AudioOption {
	return func(a *Audio) {
		a.providerName = name
	}
}

// Audio transcribes audio units. The session's known speaker names prime the
// STT provider, and the diarizer (if any) turns the plain transcript into
// speaker-labelled lines.
type Audio struct {
	stt          stt.Provider
	diarizer     Diarizer
	language     string
	open         func(path string) (io.ReadCloser, error)
	metrics      *observe.Metrics
	providerName string
}

// NewAudio returns an Audio transcriber using provider.
func NewAudio(provider stt.Provider, opts ...AudioOption) *Audio {
	a := &Audio{
		stt:          provider,
		open:         func(path string) (io.ReadCloser, error) { return os.Open(path) },
		providerName: "stt",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Transcribe implements batch.Transcriber.
func (a *Audio) Transcribe(ctx context.Context, unit batch.Unit, known []types.Speaker) (string, error) {
	f, err := a.open(unit.Path)
	if err != nil {
		return "", fmt.Errorf("transcriber: open %s: %w", unit.Path, err)
	}
	defer f.Close()

	names := speakerNames(known)

	sttCtx, span := observe.StartSpan(ctx, "transcriber.stt")
	start := time.Now()
	res, err := a.stt.Transcribe(sttCtx, stt.Request{
		Audio:      f,
		Filename:   unit.Path,
		Language:   a.language,
		Prompt:     stt.PromptFromNames(names),
		Vocabulary: names,
	})
	a.metrics.RecordProviderCall(ctx, a.providerName, observe.KindSTT, time.Since(start), err)
	if err != nil {
		observe.FailSpan(span, err)
		span.End()
		return "", fmt.Errorf("transcriber: stt: %w", err)
	}
	span.End()

	if a.diarizer == nil {
		return res.Text, nil
	}
	labelled, err := a.diarizer.Diarize(ctx, res.Text, known)
	if err != nil {
		return "", fmt.Errorf("transcriber: %w", err)
	}
	return labelled, nil
}

func speakerNames(known []types.Speaker) []string {
	names := make([]string, 0, len(known))
	for _, sp := range known {
		if sp.DisplayName != "" && sp.DisplayName != transcript.UnknownSpeaker {
			names = append(names, sp.DisplayName)
		}
	}
	return names
}
