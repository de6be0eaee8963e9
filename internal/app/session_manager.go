package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/memory"
)

var (
	// ErrNoSession is returned when a note has no active session.
	ErrNoSession = errors.New("app: no active session for note")

	// ErrSessionBusy is returned when a note's session is processing a text
	// blob or batch and cannot be replaced, ended, or acquired again.
	ErrSessionBusy = errors.New("app: session is busy")
)

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the transcript session's unique identifier.
	SessionID string `json:"session_id"`

	// NoteID names the note the session belongs to.
	NoteID string `json:"note_id"`

	// StartedAt is when the session was started or resumed from the archive.
	StartedAt time.Time `json:"started_at"`

	Segments int  `json:"segments"`
	Speakers int  `json:"speakers"`
	Busy     bool `json:"busy"`
}

type noteSession struct {
	sess      *transcript.Session
	startedAt time.Time
	busy      bool
}

func (ns *noteSession) info(noteID string) SessionInfo {
	return SessionInfo{
		SessionID: ns.sess.ID(),
		NoteID:    noteID,
		StartedAt: ns.startedAt,
		Segments:  ns.sess.Len(),
		Speakers:  len(ns.sess.Speakers()),
		Busy:      ns.busy,
	}
}

// SessionManager keeps one transcript session per note. Ended and replaced
// sessions are archived to the session store.
//
// All exported methods are safe for concurrent use. A session handed out by
// [SessionManager.Acquire] is exclusive to its caller until released, so two
// batches never interleave segments in the same note.
type SessionManager struct {
	mu    sync.Mutex
	notes map[string]*noteSession

	store       memory.SessionStore
	sessionOpts func() []transcript.SessionOption
	metrics     *observe.Metrics
	now         func() time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Store receives ended sessions. Required.
	Store memory.SessionStore

	// SessionOptions is called for every new or resumed session, so seed
	// speakers follow config reloads. May be nil.
	SessionOptions func() []transcript.SessionOption

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		notes:       make(map[string]*noteSession),
		store:       cfg.Store,
		sessionOpts: cfg.SessionOptions,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
	if sm.sessionOpts == nil {
		sm.sessionOpts = func() []transcript.SessionOption { return nil }
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	return sm
}

// Start begins a fresh session for noteID. An existing session of the note
// is archived first; if archiving fails the existing session stays active.
func (sm *SessionManager) Start(ctx context.Context, noteID string) (SessionInfo, error) {
	return sm.install(ctx, noteID, &noteSession{
		sess:      transcript.NewSession(sm.options()...),
		startedAt: sm.now().UTC(),
	})
}

// Resume makes the archived session sessionID the active session of noteID.
// Speakers, segments and the last timestamp carry over, so further text
// continues the archived transcript. Ending the session archives it under
// the same ID again.
func (sm *SessionManager) Resume(ctx context.Context, noteID, sessionID string) (SessionInfo, error) {
	rec, err := sm.store.LoadSession(ctx, sessionID)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: resume %q: %w", sessionID, err)
	}
	if rec.NoteID != noteID {
		return SessionInfo{}, fmt.Errorf("app: resume %q: session belongs to note %q: %w", sessionID, rec.NoteID, memory.ErrNotFound)
	}
	snap := transcript.Snapshot{
		ID:            rec.ID,
		Speakers:      rec.Speakers,
		Segments:      rec.Segments,
		LastTimestamp: rec.LastTimestamp,
	}
	return sm.install(ctx, noteID, &noteSession{
		sess:      transcript.RestoreSession(snap, sm.options()...),
		startedAt: rec.StartedAt,
	})
}

func (sm *SessionManager) options() []transcript.SessionOption {
	return slices.Concat(sm.sessionOpts(), []transcript.SessionOption{transcript.WithMetrics(sm.metrics)})
}

func (sm *SessionManager) install(ctx context.Context, noteID string, ns *noteSession) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	prev, ok := sm.notes[noteID]
	if ok {
		if prev.busy {
			return SessionInfo{}, fmt.Errorf("app: start session for note %q: %w", noteID, ErrSessionBusy)
		}
		if prev.sess.ID() == ns.sess.ID() {
			return prev.info(noteID), nil
		}
		if err := sm.archive(ctx, noteID, prev); err != nil {
			return SessionInfo{}, err
		}
	} else {
		sm.metrics.ActiveSessions.Add(ctx, 1)
	}
	sm.notes[noteID] = ns

	observe.Logger(ctx).Info("session started",
		"note_id", noteID,
		"session_id", ns.sess.ID(),
		"segments", ns.sess.Len(),
	)
	return ns.info(noteID), nil
}

// Acquire returns the session of noteID for exclusive processing, creating
// one when the note has none. The caller must call release when done.
func (sm *SessionManager) Acquire(ctx context.Context, noteID string) (sess *transcript.Session, release func(), err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ns, ok := sm.notes[noteID]
	if !ok {
		ns = &noteSession{sess: transcript.NewSession(sm.options()...), startedAt: sm.now().UTC()}
		sm.notes[noteID] = ns
		sm.metrics.ActiveSessions.Add(ctx, 1)
		observe.Logger(ctx).Info("session started", "note_id", noteID, "session_id", ns.sess.ID())
	}
	if ns.busy {
		return nil, nil, fmt.Errorf("app: acquire session for note %q: %w", noteID, ErrSessionBusy)
	}
	ns.busy = true

	var once sync.Once
	release = func() {
		once.Do(func() {
			sm.mu.Lock()
			ns.busy = false
			sm.mu.Unlock()
		})
	}
	return ns.sess, release, nil
}

// Get returns the active session of noteID without reserving it. Reads and
// speaker edits are safe while a batch runs.
func (sm *SessionManager) Get(noteID string) (*transcript.Session, SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ns, ok := sm.notes[noteID]
	if !ok {
		return nil, SessionInfo{}, fmt.Errorf("app: note %q: %w", noteID, ErrNoSession)
	}
	return ns.sess, ns.info(noteID), nil
}

// End archives and discards the session of noteID.
func (sm *SessionManager) End(ctx context.Context, noteID string) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ns, ok := sm.notes[noteID]
	if !ok {
		return SessionInfo{}, fmt.Errorf("app: end session for note %q: %w", noteID, ErrNoSession)
	}
	if ns.busy {
		return SessionInfo{}, fmt.Errorf("app: end session for note %q: %w", noteID, ErrSessionBusy)
	}
	if err := sm.archive(ctx, noteID, ns); err != nil {
		return SessionInfo{}, err
	}
	delete(sm.notes, noteID)
	sm.metrics.ActiveSessions.Add(ctx, -1)

	info := ns.info(noteID)
	observe.Logger(ctx).Info("session ended",
		"note_id", noteID,
		"session_id", info.SessionID,
		"segments", info.Segments,
		"speakers", info.Speakers,
	)
	return info, nil
}

// List returns all active sessions ordered by note ID.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make([]SessionInfo, 0, len(sm.notes))
	for noteID, ns := range sm.notes {
		out = append(out, ns.info(noteID))
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return strings.Compare(a.NoteID, b.NoteID) })
	return out
}

// Shutdown archives every active session and forgets them. Sessions that
// fail to archive are reported in the joined error.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var errs []error
	for noteID, ns := range sm.notes {
		if err := sm.archive(ctx, noteID, ns); err != nil {
			errs = append(errs, err)
		}
		delete(sm.notes, noteID)
		sm.metrics.ActiveSessions.Add(ctx, -1)
	}
	return errors.Join(errs...)
}

// archive saves ns. Sessions without segments are not archived. The caller
// must hold sm.mu.
func (sm *SessionManager) archive(ctx context.Context, noteID string, ns *noteSession) error {
	snap := ns.sess.Snapshot()
	if len(snap.Segments) == 0 {
		slog.Debug("skipping archive of empty session", "note_id", noteID, "session_id", snap.ID)
		return nil
	}
	rec := memory.SessionRecord{
		ID:            snap.ID,
		NoteID:        noteID,
		StartedAt:     ns.startedAt,
		EndedAt:       sm.now().UTC(),
		LastTimestamp: snap.LastTimestamp,
		Speakers:      snap.Speakers,
		Segments:      snap.Segments,
	}
	if err := sm.store.SaveSession(ctx, rec); err != nil {
		return fmt.Errorf("app: archive session %q: %w", snap.ID, err)
	}
	return nil
}
