// Package transcript turns raw, line-oriented diarization output into an
// ordered, speaker-attributed, timestamp-normalised segment sequence.
//
// All state lives in an explicit [Session] value: the speaker [Registry], the
// append-only segment list, and the last canonical timestamp seen. Callers
// thread the same Session through every [Session.Process] call of a batch so
// that speaker identity and timestamp context carry over between units.
//
// Processing is tolerant by construction. Every non-empty input line becomes
// exactly one segment; lines that do not match the expected
// "[mm:ss] [Speaker] text" shape are attributed to [UnknownSpeaker] and
// reported as [Diagnostic] values instead of errors.
package transcript

import (
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/pkg/types"
)

// Snapshot is a point-in-time copy of a session's state, suitable for
// persistence and for rebuilding a session with [RestoreSession].
type Snapshot struct {
	ID            string          `json:"id"`
	Speakers      []types.Speaker `json:"speakers"`
	Segments      []types.Segment `json:"segments"`
	LastTimestamp string          `json:"last_timestamp,omitempty"`
}

// SessionOption is a functional option for [NewSession] and [RestoreSession].
type SessionOption func(*Session)

// WithRegistryOptions passes options (seeds, seed matcher, palette) to the
// session's speaker registry.
func WithRegistryOptions(opts ...RegistryOption) SessionOption {
	return func(s *Session) {
		s.registryOpts = append(s.registryOpts, opts...)
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithIDGenerator overrides the segment ID generator. Default: random UUIDs.
func WithIDGenerator(fn func() string) SessionOption {
	return func(s *Session) {
		s.newID = fn
	}
}

// Session is the state of one transcript: the speaker registry, the ordered
// segment sequence, and the last good timestamp.
//
// All methods are safe for concurrent use. Each call observes and leaves the
// session in a consistent state; a [Session.Process] call is never visible
// half-applied.
type Session struct {
	mu       sync.Mutex
	id       string
	registry *Registry
	segments []types.Segment
	last     string

	registryOpts []RegistryOption
	metrics      *observe.Metrics
	newID        func() string
}

// NewSession returns an empty session with a fresh ID.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{id: uuid.NewString()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.registry = NewRegistry(s.registryOpts...)
	return s
}

// RestoreSession rebuilds a session from a snapshot. Speakers keep their IDs,
// names, and colors; new speakers continue the ID sequence.
func RestoreSession(snap Snapshot, opts ...SessionOption) *Session {
	s := NewSession(opts...)
	if snap.ID != "" {
		s.id = snap.ID
	}
	s.registry.restore(snap.Speakers)
	s.segments = append([]types.Segment(nil), snap.Segments...)
	s.last = snap.LastTimestamp
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Segments returns a copy of the segment sequence in order.
func (s *Session) Segments() []types.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Segment(nil), s.segments...)
}

// Len returns the number of segments.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// Speaker returns the current record for a speaker ID. Renderers call this on
// every render so renames show up immediately.
func (s *Session) Speaker(id string) (types.Speaker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Lookup(id)
}

// Speakers returns all speakers in creation order.
func (s *Session) Speakers() []types.Speaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Speakers()
}

// Rename changes a speaker's display name. See [Registry.Rename].
func (s *Session) Rename(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Rename(id, name)
}

// SetHints replaces a speaker's hints. See [Registry.SetHints].
func (s *Session) SetHints(id, hints string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.SetHints(id, hints)
}

// LastTimestamp returns the remembered canonical timestamp, or "".
func (s *Session) LastTimestamp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.id,
		Speakers:      s.registry.Speakers(),
		Segments:      append([]types.Segment(nil), s.segments...),
		LastTimestamp: s.last,
	}
}
