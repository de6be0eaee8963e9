package diarize

import (
	"regexp"
	"strings"
)

// bracketRe matches bracketed tokens such as "[00:12]" or "[Speaker 2]".
var bracketRe = regexp.MustCompile(`\[[^\]]*\]`)

// Coverage returns the fraction of input words that survive, in order, in the
// labelled output. Bracketed timestamps and speaker labels are ignored on
// both sides; words are compared case-insensitively without trailing
// punctuation. Input without words has full coverage.
func Coverage(input, output string) float64 {
	in := wordTokens(bracketRe.ReplaceAllString(input, " "))
	if len(in) == 0 {
		return 1
	}
	out := wordTokens(bracketRe.ReplaceAllString(output, " "))
	return float64(lcsLength(in, out)) / float64(len(in))
}

func wordTokens(s string) []string {
	fields := strings.Fields(s)
	tokens := fields[:0]
	for _, f := range fields {
		if t := normalizeToken(f); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.Trim(s, ".,;:!?\"'()-"))
}

// lcsLength is the length of the longest common subsequence of a and b. It
// keeps two DP rows, so memory stays linear in len(b) for long units.
func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
