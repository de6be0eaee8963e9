package transcript

import (
	"regexp"
	"strings"
)

// UnknownSpeaker is the label assigned to lines that carry no recognisable
// speaker attribution.
const UnknownSpeaker = "Unknown"

// Kind classifies a raw transcript line.
type Kind int

const (
	// KindUnrecognized is a line with no usable bracketed structure. The whole
	// line becomes the segment text and is attributed to [UnknownSpeaker].
	KindUnrecognized Kind = iota

	// KindSpeakerOnly is "[label] text" without a leading timestamp token.
	KindSpeakerOnly

	// KindFullMatch is "[timestamp] [label] text".
	KindFullMatch
)

// String returns the lower-case name of the kind, used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindFullMatch:
		return "full_match"
	case KindSpeakerOnly:
		return "speaker_only"
	case KindUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Line is the classified form of one raw transcript line.
//
// Timestamp holds the raw token between the brackets (e.g., "1:23:45") and is
// only set for [KindFullMatch]. Label is never empty: unrecognized lines carry
// [UnknownSpeaker].
type Line struct {
	Kind      Kind
	Timestamp string
	Label     string
	Text      string
}

var (
	// timestampToken matches M:SS, MM:SS, H:MM:SS and HH:MM:SS.
	timestampToken = `\d{1,2}:\d{2}(?::\d{2})?`

	fullMatchRe   = regexp.MustCompile(`^\[(` + timestampToken + `)\]\s*\[([^\]]*)\]\s*(.*)$`)
	speakerOnlyRe = regexp.MustCompile(`^\[([^\]]*)\]\s*(.*)$`)
	timestampRe   = regexp.MustCompile(`^` + timestampToken + `$`)

	// clockRe matches anything shaped like a clock reading ("0:5:07",
	// "123:45", "00:01.500"), which is never taken as a speaker label.
	clockRe = regexp.MustCompile(`^\d+(?::\d+)+(?:[.,]\d+)?$`)
)

// Classify parses one non-empty, trimmed line. Patterns are tried in fixed
// priority: full match, then speaker only, then unrecognized.
//
// A label that is empty after trimming, a bracket holding a clock reading
// where a label is expected, or an empty remainder all demote the line to
// [KindUnrecognized] so that nothing is lost and segment text is never empty.
// Classify is pure.
func Classify(line string) Line {
	line = strings.TrimSpace(line)

	if m := fullMatchRe.FindStringSubmatch(line); m != nil {
		label, text := strings.TrimSpace(m[2]), strings.TrimSpace(m[3])
		if validLabel(label) && text != "" {
			return Line{Kind: KindFullMatch, Timestamp: m[1], Label: label, Text: text}
		}
		return unrecognized(line)
	}

	if m := speakerOnlyRe.FindStringSubmatch(line); m != nil {
		label, text := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if validLabel(label) && text != "" {
			return Line{Kind: KindSpeakerOnly, Label: label, Text: text}
		}
	}

	return unrecognized(line)
}

func unrecognized(line string) Line {
	return Line{Kind: KindUnrecognized, Label: UnknownSpeaker, Text: line}
}

func validLabel(label string) bool {
	return label != "" && !clockRe.MatchString(label)
}

// SplitLines splits raw model output into trimmed, non-empty lines in order.
func SplitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	parts := strings.Split(raw, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
