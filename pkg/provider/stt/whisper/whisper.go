// Package whisper implements [stt.Provider] against a whisper.cpp server
// (the whisper-server binary and its POST /inference endpoint).
//
// Each unit is uploaded as one multipart request. Headerless PCM units
// (".pcm", ".raw") are wrapped in WAV first, and skipped entirely when their
// energy stays below the silence threshold. With timestamps on (the default)
// the server's segments come back as "[mm:ss] text" lines, which gives the
// diarization pass real offsets to keep.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("de"))
//	res, err := p.Transcribe(ctx, stt.Request{Audio: f, Filename: "part-01.wav"})
package whisper

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/scribe/pkg/provider/stt"
)

const (
	// silenceRMS is in 16-bit PCM units.
	silenceRMS = 300.0

	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 5 * time.Minute
)

var _ stt.Provider = (*Provider)(nil)

// Provider transcribes units on one whisper.cpp server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	silenceRMS float64
	timestamps bool
	client     *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use ("base.en", "small").
// Empty keeps the model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language sent when a request has none. Default: en.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the rate assumed for raw PCM units. Default: 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThreshold sets the RMS below which raw PCM units are skipped.
// Zero disables the check.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) { p.silenceRMS = rms }
}

// WithTimestamps toggles "[mm:ss]" segment lines. Default: on.
func WithTimestamps(on bool) Option {
	return func(p *Provider) { p.timestamps = on }
}

// WithHTTPClient replaces the HTTP client. The default times out after five
// minutes, enough for a long unit on CPU inference.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		silenceRMS: silenceRMS,
		timestamps: true,
		client:     &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads one unit and returns its transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if req.Audio == nil {
		return nil, stt.ErrEmptyAudio
	}
	audio, err := io.ReadAll(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("whisper: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}

	lang := cmp.Or(req.Language, p.language)
	name := filepath.Base(req.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "audio.wav"
	}
	if stt.IsRawPCM(name) {
		if p.silenceRMS > 0 && stt.RMS(audio) < p.silenceRMS {
			return &stt.Result{Language: lang}, nil
		}
		audio = stt.EncodeWAV(audio, p.sampleRate, 1)
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".wav"
	}

	form := map[string]string{
		"response_format": "json",
		"language":        lang,
		"model":           p.model,
		"prompt":          req.Prompt,
	}
	if p.timestamps {
		form["response_format"] = "verbose_json"
	}

	start := time.Now()
	out, err := p.inference(ctx, name, audio, form)
	if err != nil {
		return nil, err
	}
	return &stt.Result{
		Text:     out.render(p.timestamps),
		Language: lang,
		Duration: time.Since(start),
	}, nil
}

// inferenceResponse covers both the json and verbose_json formats.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (r inferenceResponse) render(timestamps bool) string {
	if !timestamps || len(r.Segments) == 0 {
		return strings.TrimSpace(r.Text)
	}
	lines := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			lines = append(lines, "["+stt.Offset(seg.Start)+"] "+text)
		}
	}
	return strings.Join(lines, "\n")
}

func (p *Provider) inference(ctx context.Context, filename string, audio []byte, form map[string]string) (*inferenceResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err == nil {
		_, err = fw.Write(audio)
	}
	for k, v := range form {
		if err == nil && v != "" {
			err = mw.WriteField(k, v)
		}
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("whisper: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: decode response: %w", err)
	}
	return &out, nil
}
