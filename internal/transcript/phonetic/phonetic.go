// Package phonetic implements [transcript.SeedMatcher] on Double Metaphone
// codes and Jaro-Winkler similarity from github.com/antzucaro/matchr.
//
// Diarization models respell names from one unit to the next ("Alyce",
// "Alice", "Allis"). A candidate whose tokens share a Double Metaphone code
// with the label only needs the phonetic threshold; any other candidate must
// clear the stricter fuzzy threshold, and a phonetic candidate always beats a
// merely fuzzy one.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Default thresholds on the Jaro-Winkler score.
const (
	DefaultPhoneticThreshold = 0.80
	DefaultFuzzyThreshold    = 0.90
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the score a phonetic candidate needs.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phonetic = threshold }
}

// WithFuzzyThreshold sets the score a non-phonetic candidate needs.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzy = threshold }
}

// Matcher matches speaker labels against seed names. It holds no state
// beyond its thresholds and is safe for concurrent use.
type Matcher struct {
	phonetic float64
	fuzzy    float64
}

// New returns a Matcher with the default thresholds unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{phonetic: DefaultPhoneticThreshold, fuzzy: DefaultFuzzyThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the candidate closest to label and its score. Without a
// candidate clearing a threshold it returns label, 0, false. Generic labels
// such as "Speaker 2" seldom clear either threshold against real names.
func (m *Matcher) Match(label string, candidates []string) (string, float64, bool) {
	l, ok := parseName(label)
	if !ok {
		return label, 0, false
	}

	var (
		best     string
		score    float64
		phonetic bool
	)
	for _, c := range candidates {
		n, ok := parseName(c)
		if !ok {
			continue
		}
		s := l.similarity(n)
		if l.soundsLike(n) {
			if s >= m.phonetic && (!phonetic || s > score) {
				best, score, phonetic = c, s, true
			}
			continue
		}
		if !phonetic && s >= m.fuzzy && s > score {
			best, score = c, s
		}
	}
	if best == "" {
		return label, 0, false
	}
	return best, score, true
}

// name is a lower-cased name split into tokens with their phonetic codes.
type name struct {
	full   string
	tokens []string
	codes  map[string]struct{}
}

func parseName(s string) (name, bool) {
	full := strings.ToLower(strings.TrimSpace(s))
	if full == "" {
		return name{}, false
	}
	n := name{full: full, tokens: strings.Fields(full), codes: make(map[string]struct{})}
	for _, t := range n.tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		for _, code := range [...]string{primary, secondary} {
			if code != "" {
				n.codes[code] = struct{}{}
			}
		}
	}
	return n, true
}

func (n name) soundsLike(o name) bool {
	for code := range n.codes {
		if _, ok := o.codes[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full names, the names
// with spaces removed, and every token pair.
func (n name) similarity(o name) float64 {
	best := matchr.JaroWinkler(n.full, o.full, false)
	if len(n.tokens) > 1 || len(o.tokens) > 1 {
		best = max(best, matchr.JaroWinkler(strings.Join(n.tokens, ""), strings.Join(o.tokens, ""), false))
	}
	for _, a := range n.tokens {
		for _, b := range o.tokens {
			best = max(best, matchr.JaroWinkler(a, b, false))
		}
	}
	return best
}
