package transcript

import (
	"context"
	"log/slog"

	"github.com/MrWong99/scribe/pkg/types"
)

// Options controls one [Session.Process] call. It is copied at call start, so
// configuration changes made while a call runs apply to the next call only.
type Options struct {
	// RepairTimestamps canonicalises full-match timestamps to "mm:ss" and lets
	// lines without one inherit the last canonical value.
	RepairTimestamps bool

	// UnitID is stamped onto every segment produced by the call.
	UnitID string
}

// Diagnostic reports a line that did not carry the full
// "[timestamp] [speaker] text" structure. Diagnostics are informational; the
// line was still turned into a segment.
type Diagnostic struct {
	// Line is the 1-based index among the non-empty lines of the input.
	Line int `json:"line"`

	// Kind is the classification the line received.
	Kind Kind `json:"kind"`

	// Text is the trimmed input line.
	Text string `json:"text"`
}

// Result describes what one [Session.Process] call appended.
type Result struct {
	// Segments are the appended segments in input order.
	Segments []types.Segment

	// Speakers lists speakers created during this call.
	Speakers []types.Speaker

	// Diagnostics lists lines that were not full matches.
	Diagnostics []Diagnostic
}

// Process parses raw model output and appends one segment per non-empty line.
//
// The session's registry and last good timestamp are carried into and out of
// the call, so consecutive calls behave as one continuous transcript. No line
// is dropped, and existing segments are never modified or reordered.
func (s *Session) Process(ctx context.Context, raw string, opts Options) Result {
	lines := SplitLines(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NewNormalizer(s.last)
	before := s.registry.Len()

	res := Result{Segments: make([]types.Segment, 0, len(lines))}
	for i, text := range lines {
		l := Classify(text)
		s.metrics.RecordLine(ctx, l.Kind.String())

		if l.Kind != KindFullMatch {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Line: i + 1, Kind: l.Kind, Text: text})
		}

		sp := s.registry.Resolve(l.Label)
		seg := types.Segment{
			ID:        s.newID(),
			UnitID:    opts.UnitID,
			Timestamp: norm.Normalize(l, opts.RepairTimestamps),
			SpeakerID: sp.ID,
			Text:      l.Text,
		}
		s.segments = append(s.segments, seg)
		res.Segments = append(res.Segments, seg)
	}
	s.last = norm.Last()

	if created := s.registry.Len() - before; created > 0 {
		all := s.registry.Speakers()
		res.Speakers = all[before:]
		s.metrics.SpeakersCreated.Add(ctx, int64(created))
	}
	s.metrics.SegmentsAppended.Add(ctx, int64(len(res.Segments)))

	if len(res.Diagnostics) > 0 {
		slog.DebugContext(ctx, "transcript: lines without full structure",
			"session_id", s.id,
			"unit_id", opts.UnitID,
			"count", len(res.Diagnostics),
			"lines", len(lines),
		)
	}
	return res
}
