package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several STT
// backends. The audio is buffered once so every attempt reads the full file.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// Unless cfg sets Permanent, [stt.ErrEmptyAudio] is treated as permanent:
// no backend can transcribe a silent unit.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, stt.ErrEmptyAudio) }
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []BreakerStatus { return f.group.Status() }

// Transcribe sends the audio to the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	audio, err := io.ReadAll(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("resilience: read audio: %w", err)
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (*stt.Result, error) {
		attempt := req
		attempt.Audio = bytes.NewReader(audio)
		return p.Transcribe(ctx, attempt)
	})
}
