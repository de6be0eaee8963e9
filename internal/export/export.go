// Package export renders a transcript as plain text, markdown, or JSON.
//
// Writers never alter segment text or order and emit exactly one output unit
// per segment. Speaker names are resolved through the [Source] on every call,
// so a rename is reflected the next time a transcript is exported.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/types"
)

// ErrUnknownFormat is returned by [ParseFormat] for unsupported names.
var ErrUnknownFormat = errors.New("export: unknown format")

// Format selects an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat maps a user-supplied name to a [Format]. The empty string
// selects [FormatText]; "md" and "txt" are accepted as aliases.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatJSON:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns the conventional file extension for f, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatJSON:
		return ".json"
	default:
		return ".txt"
	}
}

// Source is anything that holds an ordered segment sequence and can resolve
// speaker IDs. [*transcript.Session] satisfies it; use [FromRecord] for
// archived sessions.
type Source interface {
	Segments() []types.Segment
	Speakers() []types.Speaker
	Speaker(id string) (types.Speaker, bool)
}

var _ Source = (*transcript.Session)(nil)

// Meta carries optional document metadata for markdown and JSON output.
type Meta struct {
	Title     string `json:"title,omitempty"`
	NoteID    string `json:"note_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Write renders src to w in format f.
func Write(w io.Writer, f Format, src Source, meta Meta) error {
	switch f {
	case FormatText:
		return WriteText(w, src)
	case FormatMarkdown:
		return WriteMarkdown(w, src, meta)
	case FormatJSON:
		return WriteJSON(w, src, meta)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

// WriteText writes one "[mm:ss] Name: text" line per segment. Segments
// without a timestamp omit the bracket prefix.
func WriteText(w io.Writer, src Source) error {
	var b strings.Builder
	for _, seg := range src.Segments() {
		b.WriteString(Line(seg, speakerName(src, seg.SpeakerID)))
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("export: write text: %w", err)
	}
	return nil
}

// Line renders a single segment as "[mm:ss] Name: text".
func Line(seg types.Segment, name string) string {
	if seg.HasTimestamp() {
		return "[" + seg.Timestamp + "] " + name + ": " + seg.Text
	}
	return name + ": " + seg.Text
}

// WriteMarkdown writes a titled markdown document with a speaker list and one
// paragraph per segment.
func WriteMarkdown(w io.Writer, src Source, meta Meta) error {
	var b strings.Builder
	if meta.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", meta.Title)
	} else {
		b.WriteString("# Transcript\n\n")
	}

	speakers := src.Speakers()
	if len(speakers) > 0 {
		names := make([]string, 0, len(speakers))
		for _, sp := range speakers {
			names = append(names, sp.DisplayName)
		}
		fmt.Fprintf(&b, "- Speakers: %s\n", strings.Join(names, ", "))
	}
	if meta.NoteID != "" {
		fmt.Fprintf(&b, "- Note: `%s`\n", meta.NoteID)
	}
	if meta.SessionID != "" {
		fmt.Fprintf(&b, "- Session: `%s`\n", meta.SessionID)
	}
	b.WriteString("\n---\n\n")

	for _, seg := range src.Segments() {
		if seg.HasTimestamp() {
			fmt.Fprintf(&b, "`[%s]` ", seg.Timestamp)
		}
		fmt.Fprintf(&b, "**%s:** %s\n\n", speakerName(src, seg.SpeakerID), seg.Text)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("export: write markdown: %w", err)
	}
	return nil
}

// Document is the JSON export shape.
type Document struct {
	Meta
	Speakers []types.Speaker `json:"speakers"`
	Segments []Segment       `json:"segments"`
}

// Segment is a segment with its speaker's current name and color resolved.
type Segment struct {
	types.Segment
	Speaker string `json:"speaker"`
	Color   string `json:"color,omitempty"`
}

// Build resolves every segment of src into a [Document].
func Build(src Source, meta Meta) Document {
	segs := src.Segments()
	doc := Document{
		Meta:     meta,
		Speakers: src.Speakers(),
		Segments: make([]Segment, 0, len(segs)),
	}
	if doc.Speakers == nil {
		doc.Speakers = []types.Speaker{}
	}
	for _, seg := range segs {
		out := Segment{Segment: seg, Speaker: seg.SpeakerID}
		if sp, ok := src.Speaker(seg.SpeakerID); ok {
			out.Speaker = sp.DisplayName
			out.Color = sp.Color
		}
		doc.Segments = append(doc.Segments, out)
	}
	return doc
}

// WriteJSON writes the [Document] for src as indented JSON.
func WriteJSON(w io.Writer, src Source, meta Meta) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Build(src, meta)); err != nil {
		return fmt.Errorf("export: write json: %w", err)
	}
	return nil
}

// speakerName falls back to the raw ID when the speaker is unknown to src.
func speakerName(src Source, id string) string {
	if sp, ok := src.Speaker(id); ok {
		return sp.DisplayName
	}
	return id
}

// FromRecord adapts an archived session to [Source].
func FromRecord(rec *memory.SessionRecord) Source {
	byID := make(map[string]types.Speaker, len(rec.Speakers))
	for _, sp := range rec.Speakers {
		byID[sp.ID] = sp
	}
	return recordSource{rec: rec, byID: byID}
}

type recordSource struct {
	rec  *memory.SessionRecord
	byID map[string]types.Speaker
}

func (r recordSource) Segments() []types.Segment { return r.rec.Segments }
func (r recordSource) Speakers() []types.Speaker { return r.rec.Speakers }

func (r recordSource) Speaker(id string) (types.Speaker, bool) {
	sp, ok := r.byID[id]
	return sp, ok
}
