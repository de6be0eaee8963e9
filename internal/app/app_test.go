package app_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scribe/internal/app"
	"github.com/MrWong99/scribe/internal/batch"
	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/export"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/pkg/memory"
	memorymock "github.com/MrWong99/scribe/pkg/memory/mock"
	"github.com/MrWong99/scribe/pkg/memory/sqlite"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/scribe/pkg/provider/llm/mock"
	"github.com/MrWong99/scribe/pkg/types"
)

// unitsByPath serves raw model output keyed by unit path. A missing path
// fails the unit.
func unitsByPath(raw map[string]string) batch.Transcriber {
	return batch.TranscriberFunc(func(_ context.Context, u batch.Unit, _ []types.Speaker) (string, error) {
		out, ok := raw[u.Path]
		if !ok {
			return "", errors.New("no such unit")
		}
		return out, nil
	})
}

// newTestApp builds an app on an in-memory SQLite archive and returns its
// test server.
func newTestApp(t *testing.T, opts ...app.Option) (*app.App, *httptest.Server) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	opts = append([]app.Option{app.WithSessionStore(store)}, opts...)
	a, err := app.New(context.Background(), config.Default(), nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func do(t *testing.T, method, url, contentType, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(data)
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return v
}

func TestNew_DefaultStore(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), config.Default(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/readyz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, `"store":"ok"`) {
		t.Errorf("readyz body %s does not report the store check", body)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNew_AudioRequiresSTT(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Batch.Source = config.SourceAudio
	_, err := app.New(context.Background(), cfg, nil, app.WithSessionStore(&memorymock.SessionStore{}))
	if err == nil || !strings.Contains(err.Error(), "stt") {
		t.Fatalf("New: err = %v, want stt error", err)
	}
}

func TestAPI_SessionLifecycle(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t)
	base := srv.URL + "/v1/notes/standup/session"

	resp, body := do(t, http.MethodPost, base, "", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start = %d %s", resp.StatusCode, body)
	}
	started := decode[app.SessionInfo](t, body)

	resp, body = do(t, http.MethodPost, base+"/text?unit=part-1", "text/plain",
		"[0:05] [Alice] Good morning\n[Bob] Morning!\nno structure here\n")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("text = %d %s", resp.StatusCode, body)
	}
	text := decode[struct {
		SessionID   string           `json:"session_id"`
		Segments    []export.Segment `json:"segments"`
		Speakers    []types.Speaker  `json:"speakers_created"`
		Diagnostics []struct {
			Line int    `json:"line"`
			Kind string `json:"kind"`
		} `json:"diagnostics"`
	}](t, body)
	if text.SessionID != started.SessionID {
		t.Errorf("text went to session %q, want %q", text.SessionID, started.SessionID)
	}
	if len(text.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(text.Segments))
	}
	if got := text.Segments[0]; got.Timestamp != "00:05" || got.Speaker != "Alice" || got.UnitID != "part-1" {
		t.Errorf("segment 0 = %+v", got)
	}
	if got := text.Segments[1]; got.Timestamp != "00:05" || got.Speaker != "Bob" {
		t.Errorf("segment 1 = %+v", got)
	}
	if got := text.Segments[2]; got.Speaker != "Unknown" || got.Text != "no structure here" {
		t.Errorf("segment 2 = %+v", got)
	}
	if len(text.Speakers) != 3 {
		t.Errorf("speakers created = %d, want 3", len(text.Speakers))
	}
	if len(text.Diagnostics) != 2 {
		t.Errorf("diagnostics = %+v, want 2", text.Diagnostics)
	}

	aliceID := text.Segments[0].SpeakerID
	resp, body = do(t, http.MethodPatch, base+"/speakers/"+aliceID, "application/json",
		`{"display_name":"Alice Smith","hints":"team lead"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename = %d %s", resp.StatusCode, body)
	}
	if sp := decode[types.Speaker](t, body); sp.DisplayName != "Alice Smith" || sp.Hints != "team lead" {
		t.Errorf("renamed speaker = %+v", sp)
	}

	resp, body = do(t, http.MethodGet, base+"/export?format=text", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export = %d %s", resp.StatusCode, body)
	}
	if !strings.HasPrefix(body, "[00:05] Alice Smith: Good morning\n") {
		t.Errorf("export text = %q", body)
	}

	resp, body = do(t, http.MethodGet, base, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d %s", resp.StatusCode, body)
	}
	if doc := decode[export.Document](t, body); doc.SessionID != started.SessionID || len(doc.Segments) != 3 {
		t.Errorf("document = %+v", doc)
	}

	resp, body = do(t, http.MethodDelete, base, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end = %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/sessions?note=standup", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d %s", resp.StatusCode, body)
	}
	list := decode[[]memory.SessionSummary](t, body)
	if len(list) != 1 || list[0].ID != started.SessionID || list[0].Segments != 3 {
		t.Fatalf("archived = %+v", list)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/sessions/"+started.SessionID+"/export?format=markdown&title=Standup", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archived export = %d %s", resp.StatusCode, body)
	}
	if !strings.HasPrefix(body, "# Standup\n") || !strings.Contains(body, "**Alice Smith:** Good morning") {
		t.Errorf("archived markdown = %q", body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/search?q=morning&note=standup", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search = %d %s", resp.StatusCode, body)
	}
	if hits := decode[[]memory.SearchHit](t, body); len(hits) != 2 || hits[0].SpeakerName != "Alice Smith" {
		t.Errorf("search hits = %+v", hits)
	}
}

func TestAPI_Errors(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t)
	base := srv.URL + "/v1/notes/n/session"

	// A live session with two speakers for the conflict cases.
	if resp, body := do(t, http.MethodPost, srv.URL+"/v1/notes/live/session/text", "text/plain",
		"[00:01] [Alice] a\n[00:02] [Bob] b"); resp.StatusCode != http.StatusOK {
		t.Fatalf("seed text = %d %s", resp.StatusCode, body)
	}

	tests := []struct {
		name, method, url, body string
		want                    int
	}{
		{"get missing session", http.MethodGet, base, "", http.StatusNotFound},
		{"end missing session", http.MethodDelete, base, "", http.StatusNotFound},
		{"export missing session", http.MethodGet, base + "/export", "", http.StatusNotFound},
		{"rename on missing session", http.MethodPatch, base + "/speakers/spk-1", `{"display_name":"X"}`, http.StatusNotFound},
		{"rename missing speaker", http.MethodPatch, srv.URL + "/v1/notes/live/session/speakers/spk-9", `{"display_name":"X"}`, http.StatusNotFound},
		{"rename collision", http.MethodPatch, srv.URL + "/v1/notes/live/session/speakers/spk-1", `{"display_name":"Bob"}`, http.StatusConflict},
		{"rename empty body", http.MethodPatch, srv.URL + "/v1/notes/live/session/speakers/spk-1", `{}`, http.StatusBadRequest},
		{"rename unknown field", http.MethodPatch, srv.URL + "/v1/notes/live/session/speakers/spk-1", `{"name":"X"}`, http.StatusBadRequest},
		{"bad export format", http.MethodGet, srv.URL + "/v1/notes/live/session/export?format=pdf", "", http.StatusBadRequest},
		{"batch without units", http.MethodPost, base + "/batch", `{"units":[]}`, http.StatusBadRequest},
		{"batch unit without path", http.MethodPost, base + "/batch", `{"units":[{"id":"1"}]}`, http.StatusBadRequest},
		{"batch malformed json", http.MethodPost, base + "/batch", `{`, http.StatusBadRequest},
		{"batch absolute path", http.MethodPost, base + "/batch", `{"units":[{"path":"/etc/passwd"}]}`, http.StatusBadRequest},
		{"batch path escaping", http.MethodPost, base + "/batch", `{"units":[{"path":"../secret.txt"}]}`, http.StatusBadRequest},
		{"batch without root", http.MethodPost, base + "/batch", `{"units":[{"path":"notes.txt"}]}`, http.StatusForbidden},
		{"search without query", http.MethodGet, srv.URL + "/v1/search", "", http.StatusBadRequest},
		{"search bad limit", http.MethodGet, srv.URL + "/v1/search?q=a&limit=x", "", http.StatusBadRequest},
		{"archived session missing", http.MethodGet, srv.URL + "/v1/sessions/nope", "", http.StatusNotFound},
		{"resume missing", http.MethodPost, base + "?resume=nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, tt.url, "application/json", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
			if !strings.Contains(body, `"error"`) {
				t.Errorf("body %q has no error field", body)
			}
		})
	}
}

func TestAPI_Batch(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t, app.WithTranscriber(unitsByPath(map[string]string{
		"a.txt": "[00:01] [Alice] first\n[00:09] [Bob] second",
		"c.txt": "[Alice] third",
	})))
	base := srv.URL + "/v1/notes/n/session"

	resp, body := do(t, http.MethodPost, base+"/batch", "application/json",
		`{"units":[{"path":"a.txt"},{"path":"b.txt"},{"id":"z","path":"c.txt"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch = %d %s", resp.StatusCode, body)
	}
	report := decode[batch.Report](t, body)
	if report.Status != batch.StatusComplete || report.Units != 3 || report.Succeeded != 2 || report.Segments != 3 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Failed) != 1 || report.Failed[0].Unit.Path != "b.txt" || report.Failed[0].Unit.ID != "2" {
		t.Errorf("failed = %+v", report.Failed)
	}

	_, body = do(t, http.MethodGet, base, "", "")
	doc := decode[export.Document](t, body)
	if len(doc.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(doc.Segments))
	}
	last := doc.Segments[2]
	if last.UnitID != "z" || last.Speaker != "Alice" || last.Timestamp != "00:09" {
		t.Errorf("continuity across units broken: %+v", last)
	}
}

func TestAPI_BatchReadsBelowRoot(t *testing.T) {
	t.Parallel()

	root, outside := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("[00:01] [Alice] inside"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("db_password=hunter2"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Batch.Root = root
	a, err := app.New(context.Background(), cfg, nil, app.WithSessionStore(&memorymock.SessionStore{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	base := srv.URL + "/v1/notes/n/session"

	resp, body := do(t, http.MethodPost, base+"/batch", "application/json", `{"units":[{"path":"a.txt"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch = %d %s", resp.StatusCode, body)
	}
	if report := decode[batch.Report](t, body); report.Succeeded != 1 || report.Segments != 1 {
		t.Errorf("report = %+v", report)
	}

	escape, err := filepath.Rel(root, filepath.Join(outside, "secret.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{escape, filepath.Join(outside, "secret.txt")} {
		resp, body := do(t, http.MethodPost, base+"/batch", "application/json",
			`{"units":[{"path":`+strconv.Quote(filepath.ToSlash(path))+`}]}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("batch %q = %d %s, want 400", path, resp.StatusCode, body)
		}
	}

	_, body = do(t, http.MethodGet, base+"/export?format=text", "", "")
	if strings.Contains(body, "hunter2") {
		t.Errorf("export leaked a file outside batch.root: %q", body)
	}
}

func TestAPI_BatchStream(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t, app.WithTranscriber(unitsByPath(map[string]string{
		"a.txt": "[00:01] [Alice] one",
	})))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/notes/n/session/batch",
		strings.NewReader(`{"units":[{"path":"a.txt"},{"path":"missing.txt"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	// started, done, started, failed, batch_complete, report
	if len(lines) != 6 {
		t.Fatalf("got %d lines, want 6:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if !strings.Contains(lines[3], `"kind":"unit_failed"`) || !strings.Contains(lines[3], `"error":`) {
		t.Errorf("failure line = %s", lines[3])
	}
	report := decode[batch.Report](t, lines[5])
	if report.Succeeded != 1 || len(report.Failed) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestAPI_BusySession(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	slow := batch.TranscriberFunc(func(ctx context.Context, _ batch.Unit, _ []types.Speaker) (string, error) {
		close(entered)
		select {
		case <-unblock:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "[00:01] [Alice] done", nil
	})
	_, srv := newTestApp(t, app.WithTranscriber(slow))
	base := srv.URL + "/v1/notes/n/session"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.Post(base+"/batch", "application/json", strings.NewReader(`{"units":[{"path":"x"}]}`))
		if err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("batch never reached the transcriber")
	}

	if resp, body := do(t, http.MethodPost, base+"/text", "text/plain", "[Bob] hi"); resp.StatusCode != http.StatusConflict {
		t.Errorf("text during batch = %d %s, want 409", resp.StatusCode, body)
	}
	if resp, body := do(t, http.MethodDelete, base, "", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("end during batch = %d %s, want 409", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodGet, base, "", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("get during batch = %d, want 200", resp.StatusCode)
	}

	close(unblock)
	wg.Wait()

	if resp, body := do(t, http.MethodPost, base+"/text", "text/plain", "[Bob] hi"); resp.StatusCode != http.StatusOK {
		t.Errorf("text after batch = %d %s", resp.StatusCode, body)
	}
}

func TestAPI_Resume(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t)
	base := srv.URL + "/v1/notes/n/session"

	_, body := do(t, http.MethodPost, base+"/text", "text/plain", "[01:00] [Alice] before")
	id := decode[struct {
		SessionID string `json:"session_id"`
	}](t, body).SessionID
	do(t, http.MethodDelete, base, "", "")

	resp, body := do(t, http.MethodPost, base+"?resume="+id, "", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("resume = %d %s", resp.StatusCode, body)
	}
	if info := decode[app.SessionInfo](t, body); info.SessionID != id || info.Segments != 1 {
		t.Errorf("resume info = %+v", info)
	}
}

func TestShutdown_ArchivesActiveSessions(t *testing.T) {
	t.Parallel()

	store := &memorymock.SessionStore{}
	a, err := app.New(context.Background(), config.Default(), nil, app.WithSessionStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := a.RunBatch(context.Background(), "n", nil, nil); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	sess, release, err := a.Sessions().Acquire(context.Background(), "n")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	sess.Process(context.Background(), "[00:01] [Alice] hi", config.Default().Transcript.Options())
	release()

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if got := store.CallCount("SaveSession"); got != 1 {
		t.Errorf("SaveSession calls = %d, want 1", got)
	}
	if store.Closed() {
		t.Error("injected store was closed")
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	t.Run("single provider is used directly", func(t *testing.T) {
		p, err := app.BuildProviders(reg, config.ProvidersConfig{LLM: config.ProviderEntry{Name: "primary"}})
		if err != nil {
			t.Fatalf("BuildProviders: %v", err)
		}
		if _, ok := p.LLM.(*llmmock.Provider); !ok {
			t.Errorf("LLM = %T, want *mock.Provider", p.LLM)
		}
		if p.STT != nil {
			t.Errorf("STT = %T, want nil", p.STT)
		}
	})

	t.Run("fallbacks wrap the primary", func(t *testing.T) {
		cfg := config.ProvidersConfig{LLM: config.ProviderEntry{Name: "primary"}}
		cfg.Fallbacks.LLM = []config.ProviderEntry{{Name: "backup"}}
		p, err := app.BuildProviders(reg, cfg)
		if err != nil {
			t.Fatalf("BuildProviders: %v", err)
		}
		fb, ok := p.LLM.(*resilience.LLMFallback)
		if !ok {
			t.Fatalf("LLM = %T, want *resilience.LLMFallback", p.LLM)
		}
		if got := fb.Status(); len(got) != 2 || got[0].Name != "primary" || got[1].Name != "backup" {
			t.Errorf("Status() = %+v", got)
		}
		if p.LLMName != "primary" {
			t.Errorf("LLMName = %q", p.LLMName)
		}
	})

	t.Run("unregistered provider fails", func(t *testing.T) {
		_, err := app.BuildProviders(reg, config.ProvidersConfig{STT: config.ProviderEntry{Name: "nope"}})
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})
}
