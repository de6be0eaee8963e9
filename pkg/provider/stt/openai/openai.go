// Package openai provides a batch STT provider backed by the OpenAI audio
// transcription API ("whisper-1", "gpt-4o-transcribe", ...). Any compatible
// server works through [WithBaseURL].
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// DefaultModel is used when New receives an empty model.
const DefaultModel = oai.AudioModelWhisper1

const defaultSampleRate = 16000

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      oai.AudioModel
	sampleRate int
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	sampleRate int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries failed requests. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithSampleRate sets the sample rate in Hz assumed for raw PCM units.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// New constructs an OpenAI STT Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1, sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      oai.AudioModel(model),
		sampleRate: cfg.sampleRate,
	}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if req.Audio == nil {
		return nil, stt.ErrEmptyAudio
	}

	filename := filepath.Base(req.Filename)
	if filename == "." || filename == "/" {
		filename = "audio.wav"
	}

	audio := req.Audio
	if stt.IsRawPCM(filename) {
		pcm, err := io.ReadAll(req.Audio)
		if err != nil {
			return nil, fmt.Errorf("openai stt: read audio: %w", err)
		}
		if len(pcm) == 0 {
			return nil, stt.ErrEmptyAudio
		}
		audio = bytes.NewReader(stt.EncodeWAV(pcm, p.sampleRate, 1))
		filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".wav"
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(audio, filename, stt.ContentType(filename)),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	start := time.Now()
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcription: %w", err)
	}
	return &stt.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: req.Language,
		Duration: time.Since(start),
	}, nil
}
