package transcript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/scribe/pkg/types"
)

var (
	// ErrSpeakerNotFound is returned when an operation names an unknown speaker ID.
	ErrSpeakerNotFound = errors.New("transcript: speaker not found")

	// ErrDisplayNameTaken is returned by a rename onto a display name already
	// held by a different speaker in the same session.
	ErrDisplayNameTaken = errors.New("transcript: display name already in use")
)

// Palette is the default set of speaker colors, assigned in creation order.
var Palette = []string{
	"#4f46e5", // indigo
	"#db2777", // pink
	"#059669", // emerald
	"#d97706", // amber
	"#2563eb", // blue
	"#dc2626", // red
	"#7c3aed", // violet
	"#0891b2", // cyan
}

// SeedSpeaker is a known speaker supplied ahead of time. When a newly observed
// label matches a seed, the seed's hints and color prefill the new record.
type SeedSpeaker struct {
	Name  string `yaml:"name"  json:"name"`
	Hints string `yaml:"hints" json:"hints,omitempty"`
	Color string `yaml:"color" json:"color,omitempty"`
}

// SeedMatcher finds the best candidate for an observed label. The phonetic
// matcher satisfies it.
//
// When matched is false, corrected equals word unchanged and confidence is 0.
type SeedMatcher interface {
	Match(word string, candidates []string) (corrected string, confidence float64, matched bool)
}

// RegistryOption is a functional option for [NewRegistry].
type RegistryOption func(*Registry)

// WithSeeds sets the seed pool consulted when a new speaker is created.
func WithSeeds(seeds []SeedSpeaker) RegistryOption {
	return func(r *Registry) {
		r.seeds = append([]SeedSpeaker(nil), seeds...)
	}
}

// WithSeedMatcher enables fuzzy seed lookup for labels that do not match a
// seed name exactly. When nil (the default) only case-insensitive exact seed
// names match.
func WithSeedMatcher(m SeedMatcher) RegistryOption {
	return func(r *Registry) {
		r.matcher = m
	}
}

// WithPalette overrides [Palette]. An empty palette is ignored.
func WithPalette(colors []string) RegistryOption {
	return func(r *Registry) {
		if len(colors) > 0 {
			r.palette = append([]string(nil), colors...)
		}
	}
}

// Registry maps observed speaker labels to stable [types.Speaker] records for
// one session.
//
// Registry is not safe for concurrent use; [Session] serialises access.
type Registry struct {
	byKey   map[string]*types.Speaker
	byID    map[string]*types.Speaker
	order   []*types.Speaker
	seeds   []SeedSpeaker
	matcher SeedMatcher
	palette []string
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byKey:   make(map[string]*types.Speaker),
		byID:    make(map[string]*types.Speaker),
		palette: Palette,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// restore inserts previously resolved speakers in their original order.
func (r *Registry) restore(speakers []types.Speaker) {
	for _, sp := range speakers {
		s := sp
		r.order = append(r.order, &s)
		r.byID[s.ID] = &s
		r.byKey[s.DisplayName] = &s
	}
}

// Resolve returns the speaker for label, creating it on first sight.
//
// Lookup order: exact key match, then a scan for a speaker whose current
// display name equals label, then creation. Resolve is idempotent for a label
// within one session.
func (r *Registry) Resolve(label string) types.Speaker {
	if s, ok := r.byKey[label]; ok {
		return *s
	}
	for _, s := range r.order {
		if s.DisplayName == label {
			return *s
		}
	}
	return *r.create(label)
}

func (r *Registry) create(label string) *types.Speaker {
	n := len(r.order) + 1
	id := fmt.Sprintf("spk-%d", n)
	for r.byID[id] != nil {
		n++
		id = fmt.Sprintf("spk-%d", n)
	}

	s := &types.Speaker{
		ID:          id,
		DisplayName: label,
		Color:       r.palette[len(r.order)%len(r.palette)],
	}
	if seed, ok := r.seedFor(label); ok {
		s.Hints = seed.Hints
		if seed.Color != "" {
			s.Color = seed.Color
		}
	}

	r.order = append(r.order, s)
	r.byID[id] = s
	r.byKey[label] = s
	return s
}

func (r *Registry) seedFor(label string) (SeedSpeaker, bool) {
	if len(r.seeds) == 0 || label == UnknownSpeaker {
		return SeedSpeaker{}, false
	}
	for _, seed := range r.seeds {
		if strings.EqualFold(strings.TrimSpace(seed.Name), label) {
			return seed, true
		}
	}
	if r.matcher == nil {
		return SeedSpeaker{}, false
	}
	names := make([]string, len(r.seeds))
	for i, seed := range r.seeds {
		names[i] = seed.Name
	}
	best, _, ok := r.matcher.Match(label, names)
	if !ok {
		return SeedSpeaker{}, false
	}
	for _, seed := range r.seeds {
		if seed.Name == best {
			return seed, true
		}
	}
	return SeedSpeaker{}, false
}

// Rename changes a speaker's display name and re-keys the registry. The ID and
// color are unchanged. An empty name or the current name is a no-op. Renaming
// onto a name held by another speaker returns [ErrDisplayNameTaken] and
// changes nothing.
func (r *Registry) Rename(id, name string) error {
	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSpeakerNotFound, id)
	}
	name = strings.TrimSpace(name)
	if name == "" || name == s.DisplayName {
		return nil
	}
	for _, other := range r.order {
		if other != s && other.DisplayName == name {
			return fmt.Errorf("%w: %q", ErrDisplayNameTaken, name)
		}
	}

	if cur, ok := r.byKey[s.DisplayName]; ok && cur == s {
		delete(r.byKey, s.DisplayName)
	}
	s.DisplayName = name
	r.byKey[name] = s
	return nil
}

// SetHints replaces the free-text hints of a speaker.
func (r *Registry) SetHints(id, hints string) error {
	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSpeakerNotFound, id)
	}
	s.Hints = strings.TrimSpace(hints)
	return nil
}

// Lookup returns the speaker with the given ID.
func (r *Registry) Lookup(id string) (types.Speaker, bool) {
	s, ok := r.byID[id]
	if !ok {
		return types.Speaker{}, false
	}
	return *s, true
}

// Speakers returns a copy of all speakers in creation order.
func (r *Registry) Speakers() []types.Speaker {
	out := make([]types.Speaker, len(r.order))
	for i, s := range r.order {
		out[i] = *s
	}
	return out
}

// Len returns the number of registered speakers.
func (r *Registry) Len() int { return len(r.order) }
