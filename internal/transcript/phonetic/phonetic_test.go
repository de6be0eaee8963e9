package phonetic_test

import (
	"testing"

	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/internal/transcript/phonetic"
)

var _ transcript.SeedMatcher = (*phonetic.Matcher)(nil)

func TestMatcher_Respellings(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	names := []string{"Alice", "John", "Marguerite Duval"}

	tests := []struct {
		label string
		want  string
	}{
		{"Alyce", "Alice"},
		{"alice", "Alice"},
		{"Jon", "John"},
		{"Duvall", "Marguerite Duval"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tt.label, names)
			if !ok {
				t.Fatalf("Match(%q): matched=false, want true", tt.label)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.label, got, tt.want)
			}
			if conf < 0.8 || conf > 1 {
				t.Errorf("Match(%q) confidence = %f, want in [0.8, 1]", tt.label, conf)
			}
		})
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	names := []string{"Alice", "Bob"}

	for _, label := range []string{"Speaker 2", "Zachary", "Unknown"} {
		got, conf, ok := m.Match(label, names)
		if ok {
			t.Errorf("Match(%q) matched %q, want no match", label, got)
		}
		if got != label || conf != 0 {
			t.Errorf("Match(%q) = (%q, %f), want label unchanged and 0", label, got, conf)
		}
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, _, ok := m.Match("Alice", nil); ok {
		t.Error("Match with no candidates matched")
	}
	if _, _, ok := m.Match("   ", []string{"Alice"}); ok {
		t.Error("Match with blank label matched")
	}
	if _, _, ok := m.Match("Alice", []string{"", "  "}); ok {
		t.Error("Match against blank candidates matched")
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if got, _, ok := strict.Match("Alyce", []string{"Alice"}); ok {
		t.Errorf("strict matcher matched %q", got)
	}

	loose := phonetic.New(phonetic.WithPhoneticThreshold(0.5))
	if _, _, ok := loose.Match("Alyce", []string{"Alice"}); !ok {
		t.Error("loose matcher did not match Alyce")
	}
}

func TestMatcher_WithRegistry(t *testing.T) {
	t.Parallel()

	r := transcript.NewRegistry(
		transcript.WithSeeds([]transcript.SeedSpeaker{{Name: "Alice", Hints: "host", Color: "#111111"}}),
		transcript.WithSeedMatcher(phonetic.New()),
	)
	sp := r.Resolve("Alyce")
	if sp.Hints != "host" || sp.Color != "#111111" {
		t.Errorf("Resolve(Alyce) = %+v, want seeded metadata", sp)
	}
	if sp.DisplayName != "Alyce" {
		t.Errorf("DisplayName = %q, want observed label", sp.DisplayName)
	}
}
