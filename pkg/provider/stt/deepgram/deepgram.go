// Package deepgram provides a batch STT provider backed by the Deepgram
// pre-recorded audio API. With diarization enabled (the default) the result
// text is already line-oriented: one "[mm:ss] [Speaker N] text" line per
// utterance.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/scribe/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "https://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultBoost      = 2
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the sample rate in Hz declared for raw PCM units.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithDiarize toggles Deepgram's speaker diarization. Default: true.
func WithDiarize(on bool) Option {
	return func(p *Provider) {
		p.diarize = on
	}
}

// WithEndpoint overrides the API endpoint, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram REST API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
	diarize    bool
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		diarize:    true,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if req.Audio == nil {
		return nil, stt.ErrEmptyAudio
	}

	endpoint, err := p.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, req.Audio)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", stt.ContentType(req.Filename))
	if stt.IsRawPCM(req.Filename) {
		httpReq.Header.Set("Content-Type", "audio/l16")
	}

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var body listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}

	res := &stt.Result{
		Language: p.languageFor(req),
		Duration: time.Since(start),
	}
	if p.diarize && len(body.Results.Utterances) > 0 {
		res.Text = renderUtterances(body.Results.Utterances)
		res.Diarized = true
		return res, nil
	}
	if len(body.Results.Channels) > 0 && len(body.Results.Channels[0].Alternatives) > 0 {
		res.Text = strings.TrimSpace(body.Results.Channels[0].Alternatives[0].Transcript)
	}
	return res, nil
}

func (p *Provider) languageFor(req stt.Request) string {
	if req.Language != "" {
		return req.Language
	}
	return p.language
}

// buildURL constructs the listen endpoint URL for one request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.languageFor(req))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if p.diarize {
		q.Set("diarize", "true")
		q.Set("utterances", "true")
	}
	if stt.IsRawPCM(filepath.Base(req.Filename)) {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(p.sampleRate))
		q.Set("channels", "1")
	}
	for _, kw := range req.Vocabulary {
		if kw = strings.TrimSpace(kw); kw != "" {
			// Deepgram keyword format: word:boost (e.g., "Marguerite:2").
			q.Add("keywords", fmt.Sprintf("%s:%d", kw, defaultBoost))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// listenResponse is the subset of the pre-recorded response used here.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []utterance `json:"utterances"`
	} `json:"results"`
}

type utterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    int     `json:"speaker"`
	Transcript string  `json:"transcript"`
}

// renderUtterances formats utterances as bracketed transcript lines.
// Speakers are numbered from 1.
func renderUtterances(us []utterance) string {
	var b strings.Builder
	for _, u := range us {
		text := strings.TrimSpace(u.Transcript)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] [Speaker %d] %s", stt.Offset(u.Start), u.Speaker+1, text)
	}
	return b.String()
}
