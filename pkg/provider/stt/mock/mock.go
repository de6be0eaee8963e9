// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Texts: map[string]string{"part-01.wav": "hello"}}
//	res, _ := p.Transcribe(ctx, stt.Request{Filename: "part-01.wav", Audio: r})
package mock

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Ctx context.Context
	// Req is the request with Audio replaced by nil; the consumed bytes are
	// in Audio.
	Req   stt.Request
	Audio []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeFunc, when set, takes precedence over all other fields.
	TranscribeFunc func(ctx context.Context, req stt.Request) (*stt.Result, error)

	// Texts maps a request's base filename to the transcript returned for it.
	Texts map[string]string

	// Text is returned for filenames missing from Texts.
	Text string

	// Errs maps a base filename to an error returned for it.
	Errs map[string]error

	// Err, if non-nil, is returned for every request not covered by Errs.
	Err error

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	var audio []byte
	if req.Audio != nil {
		audio, _ = io.ReadAll(req.Audio)
	}

	p.mu.Lock()
	recorded := req
	recorded.Audio = nil
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: recorded, Audio: audio})
	fn := p.TranscribeFunc
	name := filepath.Base(req.Filename)
	err, hasErr := p.Errs[name]
	if !hasErr {
		err = p.Err
	}
	text, ok := p.Texts[name]
	if !ok {
		text = p.Text
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &stt.Result{Text: text, Language: req.Language}, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}

var _ stt.Provider = (*Provider)(nil)
