package llm

import (
	"strings"

	"github.com/MrWong99/scribe/pkg/types"
)

// modelFamily maps a model-name prefix to its limits. The diarization pass
// rewrites a whole unit, so MaxOutputTokens bounds how long a unit may be as
// much as the context window does.
type modelFamily struct {
	prefix string
	window int
	output int
}

// modelFamilies is matched in order; more specific prefixes come first.
var modelFamilies = []modelFamily{
	{"gpt-4.1", 1_047_576, 32_768},
	{"gpt-4o", 128_000, 16_384},
	{"gpt-4-turbo", 128_000, 4_096},
	{"gpt-4", 8_192, 4_096},
	{"gpt-3.5-turbo", 16_385, 4_096},
	{"o1-mini", 128_000, 65_536},
	{"o1", 200_000, 100_000},
	{"o3", 200_000, 100_000},
	{"o4", 200_000, 100_000},
	{"claude-3-opus", 200_000, 4_096},
	{"claude-3-haiku", 200_000, 4_096},
	{"claude", 200_000, 8_192},
	{"gemini-1.5-pro", 2_097_152, 8_192},
	{"gemini", 1_048_576, 8_192},
	{"deepseek", 64_000, 8_192},
	{"mistral-large", 128_000, 4_096},
	{"mistral", 32_768, 4_096},
	{"llama", 32_768, 4_096},
}

// Fallback limits for unknown models.
const (
	defaultContextWindow = 128_000
	defaultMaxOutput     = 4_096
)

// LookupCapabilities returns the limits of a known model family, matched
// case-insensitively by name prefix. Unknown models get conservative
// defaults.
func LookupCapabilities(model string) types.ModelCapabilities {
	lower := strings.ToLower(strings.TrimSpace(model))
	caps := types.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     defaultContextWindow,
		MaxOutputTokens:   defaultMaxOutput,
	}
	for _, f := range modelFamilies {
		if strings.HasPrefix(lower, f.prefix) {
			caps.ContextWindow = f.window
			caps.MaxOutputTokens = f.output
			break
		}
	}
	return caps
}
