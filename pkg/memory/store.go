// Package memory defines the session archive used by scribe.
//
// When a transcript session ends, its speakers and segments are written to a
// [SessionStore] as one [SessionRecord]. Archived sessions can be listed per
// note, reloaded for export, and searched by segment text.
//
// The interface is public so that external packages can supply alternative
// storage backends without depending on scribe internals. Every
// implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/scribe/pkg/types"
)

// ErrNotFound is returned when a session ID is not in the archive.
var ErrNotFound = errors.New("memory: session not found")

// SessionRecord is one archived transcript session.
type SessionRecord struct {
	// ID is the session's unique identifier.
	ID string `json:"id"`

	// NoteID names the note the session belonged to.
	NoteID string `json:"note_id"`

	// StartedAt and EndedAt bound the session's lifetime.
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// LastTimestamp is the last canonical timestamp the session saw.
	LastTimestamp string `json:"last_timestamp,omitempty"`

	// Speakers in creation order.
	Speakers []types.Speaker `json:"speakers"`

	// Segments in transcript order.
	Segments []types.Segment `json:"segments"`
}

// SessionSummary describes an archived session without its content.
type SessionSummary struct {
	ID        string    `json:"id"`
	NoteID    string    `json:"note_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Speakers  int       `json:"speakers"`
	Segments  int       `json:"segments"`
}

// SearchOpts narrows a segment search. All non-zero fields are applied as AND
// conditions.
type SearchOpts struct {
	// NoteID restricts the search to sessions of one note.
	NoteID string

	// SessionID restricts the search to a single session.
	SessionID string

	// SpeakerID restricts results to one speaker ID.
	SpeakerID string

	// Limit caps the number of results. Zero lets the backend apply its own
	// default.
	Limit int
}

// SearchHit is one segment matching a search, with enough context to render
// it on its own.
type SearchHit struct {
	SessionID   string        `json:"session_id"`
	NoteID      string        `json:"note_id"`
	Position    int           `json:"position"`
	Segment     types.Segment `json:"segment"`
	SpeakerName string        `json:"speaker_name"`
}

// DefaultSearchLimit is applied by the bundled backends when SearchOpts.Limit
// is zero.
const DefaultSearchLimit = 100

// SessionStore archives transcript sessions.
type SessionStore interface {
	// SaveSession writes rec, replacing any earlier record with the same ID.
	SaveSession(ctx context.Context, rec SessionRecord) error

	// LoadSession returns the record with the given ID or [ErrNotFound].
	LoadSession(ctx context.Context, id string) (*SessionRecord, error)

	// ListSessions returns summaries of all sessions of noteID (all notes
	// when empty), most recently started first.
	ListSessions(ctx context.Context, noteID string) ([]SessionSummary, error)

	// SearchSegments returns segments whose text matches query, in session
	// start order and then transcript order.
	SearchSegments(ctx context.Context, query string, opts SearchOpts) ([]SearchHit, error)

	// Close releases the backend's resources.
	Close() error
}

// Summarize returns the summary of rec.
func Summarize(rec SessionRecord) SessionSummary {
	return SessionSummary{
		ID:        rec.ID,
		NoteID:    rec.NoteID,
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
		Speakers:  len(rec.Speakers),
		Segments:  len(rec.Segments),
	}
}
