package transcript

import (
	"fmt"
	"strconv"
	"strings"
)

// Canonical converts a raw timestamp token (M:SS, MM:SS, H:MM:SS, HH:MM:SS)
// into the canonical "mm:ss" form. Hours fold into minutes, so "01:23:45"
// becomes "83:45". Both fields are zero-padded to at least two digits.
// ok is false when raw is not a timestamp token.
func Canonical(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if !timestampRe.MatchString(raw) {
		return "", false
	}
	parts := strings.Split(raw, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", false
		}
		nums[i] = n
	}

	var minutes, seconds int
	switch len(nums) {
	case 2:
		minutes, seconds = nums[0], nums[1]
	case 3:
		minutes, seconds = nums[0]*60+nums[1], nums[2]
	default:
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds), true
}

// Normalizer assigns timestamps to classified lines during one parse pass.
// It remembers the most recent canonical timestamp so that lines without one
// can inherit it. The zero value has no prior evidence.
type Normalizer struct {
	last string
}

// NewNormalizer returns a Normalizer seeded with a previously remembered
// canonical timestamp. Pass "" when there is none.
func NewNormalizer(last string) *Normalizer {
	return &Normalizer{last: last}
}

// Normalize returns the timestamp for l, or "" when it has none.
//
// With repair disabled the raw token of a full match passes through unchanged
// and nothing is inherited. With repair enabled a full match yields its
// canonical form and becomes the remembered value; every other line inherits
// the remembered value. A value is never synthesised.
func (n *Normalizer) Normalize(l Line, repair bool) string {
	if !repair {
		if l.Kind == KindFullMatch {
			return l.Timestamp
		}
		return ""
	}

	if l.Kind == KindFullMatch {
		if ts, ok := Canonical(l.Timestamp); ok {
			n.last = ts
			return ts
		}
	}
	return n.last
}

// Last returns the remembered canonical timestamp, or "".
func (n *Normalizer) Last() string { return n.last }
