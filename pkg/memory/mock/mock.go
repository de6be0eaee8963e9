// Package mock provides an in-memory test double for [memory.SessionStore].
//
// The mock keeps saved records in a map so that save/load round trips behave
// like a real backend, records every method call, and exposes *Err fields
// that make individual methods fail.
//
//	store := &mock.SessionStore{}
//	// inject store into the system under test …
//	if got := store.CallCount("SaveSession"); got != 1 {
//	    t.Errorf("expected 1 SaveSession call, got %d", got)
//	}
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/scribe/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// SessionStore is a configurable test double for [memory.SessionStore].
type SessionStore struct {
	mu sync.Mutex

	calls   []Call
	records map[string]memory.SessionRecord

	// SaveSessionErr is returned by SaveSession when non-nil.
	SaveSessionErr error

	// LoadSessionErr is returned by LoadSession when non-nil.
	LoadSessionErr error

	// ListSessionsErr is returned by ListSessions when non-nil.
	ListSessionsErr error

	// SearchSegmentsErr is returned by SearchSegments when non-nil.
	SearchSegmentsErr error

	closed bool
}

var _ memory.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// SaveSession implements [memory.SessionStore].
func (s *SessionStore) SaveSession(_ context.Context, rec memory.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SaveSession", rec)
	if s.SaveSessionErr != nil {
		return s.SaveSessionErr
	}
	if s.records == nil {
		s.records = make(map[string]memory.SessionRecord)
	}
	s.records[rec.ID] = rec
	return nil
}

// LoadSession implements [memory.SessionStore].
func (s *SessionStore) LoadSession(_ context.Context, id string) (*memory.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("LoadSession", id)
	if s.LoadSessionErr != nil {
		return nil, s.LoadSessionErr
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return &rec, nil
}

// ListSessions implements [memory.SessionStore].
func (s *SessionStore) ListSessions(_ context.Context, noteID string) ([]memory.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListSessions", noteID)
	if s.ListSessionsErr != nil {
		return nil, s.ListSessionsErr
	}
	out := []memory.SessionSummary{}
	for _, rec := range s.records {
		if noteID == "" || rec.NoteID == noteID {
			out = append(out, memory.Summarize(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// SearchSegments implements [memory.SessionStore] with a case-insensitive
// substring match.
func (s *SessionStore) SearchSegments(_ context.Context, query string, opts memory.SearchOpts) ([]memory.SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SearchSegments", query, opts)
	if s.SearchSegmentsErr != nil {
		return nil, s.SearchSegmentsErr
	}

	recs := make([]memory.SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.Before(recs[j].StartedAt) })

	limit := opts.Limit
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}
	needle := strings.ToLower(query)
	hits := []memory.SearchHit{}
	for _, rec := range recs {
		if (opts.NoteID != "" && rec.NoteID != opts.NoteID) || (opts.SessionID != "" && rec.ID != opts.SessionID) {
			continue
		}
		names := make(map[string]string, len(rec.Speakers))
		for _, sp := range rec.Speakers {
			names[sp.ID] = sp.DisplayName
		}
		for i, seg := range rec.Segments {
			if opts.SpeakerID != "" && seg.SpeakerID != opts.SpeakerID {
				continue
			}
			if !strings.Contains(strings.ToLower(seg.Text), needle) {
				continue
			}
			hits = append(hits, memory.SearchHit{
				SessionID: rec.ID, NoteID: rec.NoteID, Position: i,
				Segment: seg, SpeakerName: names[seg.SpeakerID],
			})
			if len(hits) == limit {
				return hits, nil
			}
		}
	}
	return hits, nil
}

// Close implements [memory.SessionStore].
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Close")
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SessionStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns a copy of all recorded calls in order.
func (s *SessionStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how often method was called.
func (s *SessionStore) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and stored records.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.records = nil
}
