// Package stt defines the Provider interface for batch Speech-to-Text
// backends.
//
// A provider receives one complete audio unit (a split part of a longer
// recording) and returns its plain transcript. Speaker attribution is not the
// provider's job; the diarize package labels speakers afterwards.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ErrEmptyAudio is returned when a request carries no audio data.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request describes one audio unit to transcribe.
type Request struct {
	// Audio is the encoded audio stream (wav, mp3, m4a, ...) or raw 16-bit
	// little-endian PCM when Filename ends in ".pcm" or ".raw".
	Audio io.Reader

	// Filename is the unit's base name. Providers use its extension to infer
	// the container format.
	Filename string

	// Language is the ISO-639-1 language hint (e.g. "en", "de"). Empty lets
	// the provider auto-detect.
	Language string

	// Prompt is free text that primes recognition, typically the names of
	// speakers already known to the session.
	Prompt string

	// Vocabulary lists rare words (speaker names, jargon) for providers that
	// support keyword boosting instead of a free-text prompt.
	Vocabulary []string
}

// Result is the transcript of one audio unit.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the provider detected or was told to use.
	Language string

	// Diarized reports that Text already consists of bracketed
	// "[mm:ss] [Speaker] text" lines.
	Diarized bool

	// Duration is the wall-clock time the provider took.
	Duration time.Duration
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe converts the audio in req into text. The reader is consumed
	// but not closed.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// IsRawPCM reports whether filename names a headerless PCM file.
func IsRawPCM(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pcm", ".raw":
		return true
	}
	return false
}

// ContentType guesses the MIME type of an audio file from its extension.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav", ".pcm", ".raw":
		return "audio/wav"
	case ".mp3", ".mpga", ".mpeg":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

// PromptFromNames builds a recognition prompt listing speaker names.
func PromptFromNames(names []string) string {
	var kept []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return "Speakers: " + strings.Join(kept, ", ") + "."
}

// Offset renders a position in seconds as a transcript timestamp token,
// "MM:SS" or "H:MM:SS" past the first hour. Negative offsets clamp to zero.
func Offset(seconds float64) string {
	total := max(int(seconds), 0)
	h, m, s := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
