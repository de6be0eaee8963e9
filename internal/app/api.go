package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/scribe/internal/batch"
	"github.com/MrWong99/scribe/internal/export"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/types"
)

const (
	// maxTextBody caps the raw text accepted by the text endpoint.
	maxTextBody = 8 << 20

	// maxJSONBody caps JSON request bodies.
	maxJSONBody = 1 << 20

	ndjsonContentType = "application/x-ndjson"
)

// registerRoutes mounts the session API on mux.
func (a *App) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/notes", a.handleListNotes)
	mux.HandleFunc("POST /v1/notes/{note}/session", a.handleStartSession)
	mux.HandleFunc("GET /v1/notes/{note}/session", a.handleGetSession)
	mux.HandleFunc("DELETE /v1/notes/{note}/session", a.handleEndSession)
	mux.HandleFunc("POST /v1/notes/{note}/session/text", a.handleText)
	mux.HandleFunc("POST /v1/notes/{note}/session/batch", a.handleBatch)
	mux.HandleFunc("PATCH /v1/notes/{note}/session/speakers/{id}", a.handleUpdateSpeaker)
	mux.HandleFunc("GET /v1/notes/{note}/session/export", a.handleExportSession)

	mux.HandleFunc("GET /v1/sessions", a.handleListArchived)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetArchived)
	mux.HandleFunc("GET /v1/sessions/{id}/export", a.handleExportArchived)
	mux.HandleFunc("GET /v1/search", a.handleSearch)
}

// ─── Active sessions ─────────────────────────────────────────────────────────

func (a *App) handleListNotes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.List())
}

// handleStartSession starts a fresh session, or resumes an archived one when
// the resume query parameter names it.
func (a *App) handleStartSession(w http.ResponseWriter, r *http.Request) {
	note := r.PathValue("note")

	var (
		info SessionInfo
		err  error
	)
	if id := r.URL.Query().Get("resume"); id != "" {
		info, err = a.sessions.Resume(r.Context(), note, id)
	} else {
		info, err = a.sessions.Start(r.Context(), note)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *App) handleGetSession(w http.ResponseWriter, r *http.Request) {
	note := r.PathValue("note")
	sess, info, err := a.sessions.Get(note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export.Build(sess, export.Meta{NoteID: note, SessionID: info.SessionID}))
}

func (a *App) handleEndSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.End(r.Context(), r.PathValue("note"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// textResponse reports what one text blob appended.
type textResponse struct {
	SessionID   string                  `json:"session_id"`
	Segments    []export.Segment        `json:"segments"`
	Speakers    []types.Speaker         `json:"speakers_created"`
	Diagnostics []transcript.Diagnostic `json:"diagnostics"`
}

// handleText feeds the raw request body through the note's session. The
// optional unit query parameter is stamped onto every produced segment.
func (a *App) handleText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextBody))
	if err != nil {
		writeError(w, r, badRequest(fmt.Errorf("read body: %w", err)))
		return
	}

	sess, release, err := a.sessions.Acquire(r.Context(), r.PathValue("note"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()
	r = r.WithContext(observe.WithSession(r.Context(), r.PathValue("note"), sess.ID()))

	opts := a.config().Transcript.Options()
	opts.UnitID = r.URL.Query().Get("unit")
	res := sess.Process(r.Context(), string(body), opts)

	resp := textResponse{
		SessionID:   sess.ID(),
		Segments:    resolveSegments(sess, res.Segments),
		Speakers:    res.Speakers,
		Diagnostics: res.Diagnostics,
	}
	if resp.Speakers == nil {
		resp.Speakers = []types.Speaker{}
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []transcript.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// batchRequest is the body of the batch endpoint.
type batchRequest struct {
	Units []batch.Unit `json:"units"`
}

// progressLine is one line of a streamed batch response.
type progressLine struct {
	batch.ProgressEvent
	Error string `json:"error,omitempty"`
}

// handleBatch runs a batch against the note's session. With
// "Accept: application/x-ndjson" progress events are streamed one per line
// and the report follows as the final line.
func (a *App) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Units) == 0 {
		writeError(w, r, badRequest(errors.New("units must not be empty")))
		return
	}
	for i := range req.Units {
		if req.Units[i].Path == "" {
			writeError(w, r, badRequest(fmt.Errorf("units[%d].path is required", i)))
			return
		}
		if !fs.ValidPath(req.Units[i].Path) {
			writeError(w, r, badRequest(fmt.Errorf("units[%d].path %q must be relative and stay below batch.root", i, req.Units[i].Path)))
			return
		}
		if req.Units[i].ID == "" {
			req.Units[i].ID = strconv.Itoa(i + 1)
		}
	}
	if a.hostPaths {
		writeError(w, r, ErrBatchRootRequired)
		return
	}

	sess, release, err := a.sessions.Acquire(r.Context(), r.PathValue("note"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()
	r = r.WithContext(observe.WithSession(r.Context(), r.PathValue("note"), sess.ID()))

	if !strings.Contains(r.Header.Get("Accept"), ndjsonContentType) {
		writeJSON(w, http.StatusOK, a.newController(nil).Run(r.Context(), sess, req.Units))
		return
	}

	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	rc := http.NewResponseController(w)
	progress := func(ev batch.ProgressEvent) {
		line := progressLine{ProgressEvent: ev}
		if ev.Err != nil {
			line.Error = ev.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			observe.Logger(r.Context()).Debug("progress stream write failed", "err", err)
			return
		}
		if err := rc.Flush(); err != nil {
			observe.Logger(r.Context()).Debug("progress stream flush failed", "err", err)
		}
	}
	report := a.newController(progress).Run(r.Context(), sess, req.Units)
	if err := enc.Encode(report); err != nil {
		observe.Logger(r.Context()).Debug("progress stream write failed", "err", err)
	}
}

// speakerUpdate is the body of the speaker endpoint. Nil fields are left
// unchanged.
type speakerUpdate struct {
	DisplayName *string `json:"display_name"`
	Hints       *string `json:"hints"`
}

func (a *App) handleUpdateSpeaker(w http.ResponseWriter, r *http.Request) {
	var req speakerUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.DisplayName == nil && req.Hints == nil {
		writeError(w, r, badRequest(errors.New("display_name or hints is required")))
		return
	}

	sess, _, err := a.sessions.Get(r.PathValue("note"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if req.DisplayName != nil {
		if err := sess.Rename(id, *req.DisplayName); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Hints != nil {
		if err := sess.SetHints(id, *req.Hints); err != nil {
			writeError(w, r, err)
			return
		}
	}
	sp, _ := sess.Speaker(id)
	writeJSON(w, http.StatusOK, sp)
}

func (a *App) handleExportSession(w http.ResponseWriter, r *http.Request) {
	note := r.PathValue("note")
	sess, info, err := a.sessions.Get(note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeExport(w, r, sess, export.Meta{NoteID: note, SessionID: info.SessionID})
}

// ─── Archive ─────────────────────────────────────────────────────────────────

func (a *App) handleListArchived(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListSessions(r.Context(), r.URL.Query().Get("note"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *App) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.LoadSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export.Build(export.FromRecord(rec), recordMeta(rec)))
}

func (a *App) handleExportArchived(w http.ResponseWriter, r *http.Request) {
	rec, err := a.store.LoadSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeExport(w, r, export.FromRecord(rec), recordMeta(rec))
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, r, badRequest(errors.New("q is required")))
		return
	}
	opts := memory.SearchOpts{
		NoteID:    q.Get("note"),
		SessionID: q.Get("session"),
		SpeakerID: q.Get("speaker"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, r, badRequest(fmt.Errorf("limit %q must be a non-negative integer", s)))
			return
		}
		opts.Limit = n
	}
	hits, err := a.store.SearchSegments(r.Context(), query, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func recordMeta(rec *memory.SessionRecord) export.Meta {
	return export.Meta{NoteID: rec.NoteID, SessionID: rec.ID}
}

func resolveSegments(src export.Source, segs []types.Segment) []export.Segment {
	out := make([]export.Segment, 0, len(segs))
	for _, seg := range segs {
		s := export.Segment{Segment: seg, Speaker: seg.SpeakerID}
		if sp, ok := src.Speaker(seg.SpeakerID); ok {
			s.Speaker = sp.DisplayName
			s.Color = sp.Color
		}
		out = append(out, s)
	}
	return out
}

// writeExport renders src in the format named by the format query parameter.
// The title query parameter overrides the markdown heading.
func writeExport(w http.ResponseWriter, r *http.Request, src export.Source, meta export.Meta) {
	f, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	meta.Title = r.URL.Query().Get("title")

	w.Header().Set("Content-Type", f.ContentType())
	if err := export.Write(w, f, src, meta); err != nil {
		observe.Logger(r.Context()).Warn("export write failed", "format", f, "err", err)
	}
}

// badRequestError marks request validation failures.
type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &badRequestError{err: err} }

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Errorf("decode body: %w", err))
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad), errors.Is(err, export.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoSession),
		errors.Is(err, memory.ErrNotFound),
		errors.Is(err, transcript.ErrSpeakerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionBusy), errors.Is(err, transcript.ErrDisplayNameTaken):
		return http.StatusConflict
	case errors.Is(err, ErrBatchRootRequired):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
