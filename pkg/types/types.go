// Package types defines the shared types used across all scribe packages.
//
// These types form the lingua franca between the transcript engine, the batch
// controller, providers, exporters, and the session archive. Each package
// defines its own domain types, but cross-cutting data structures live here
// to avoid circular imports.
package types

// Speaker is a resolved speaker identity within one transcript session.
//
// The ID is generated once when the speaker is first observed and never
// changes. DisplayName is mutable through a rename and doubles as the key under
// which the registry finds the speaker by label.
type Speaker struct {
	// ID is the stable, session-unique identifier (e.g., "spk-3").
	ID string `json:"id"`

	// DisplayName is the human-readable name shown when rendering segments.
	DisplayName string `json:"display_name"`

	// Hints is free-form text describing the speaker (role, voice traits).
	// It is fed back to the diarization pass to keep labels stable.
	Hints string `json:"hints,omitempty"`

	// Color is a display color assigned once at creation (e.g., "#4f46e5").
	Color string `json:"color"`
}

// Segment is one speaker-attributed line of transcript.
type Segment struct {
	// ID is unique within the session.
	ID string `json:"id"`

	// UnitID names the source unit (split part of a recording) that produced
	// this segment. Empty when the text was processed outside a batch.
	UnitID string `json:"unit_id,omitempty"`

	// Timestamp is the canonical "mm:ss" offset, or empty when absent.
	Timestamp string `json:"timestamp,omitempty"`

	// SpeakerID references [Speaker.ID]. Renderers resolve the display name
	// through the session on every render.
	SpeakerID string `json:"speaker_id"`

	// Text is the trimmed spoken content. Never empty.
	Text string `json:"text"`
}

// HasTimestamp reports whether the segment carries a timestamp.
func (s Segment) HasTimestamp() bool { return s.Timestamp != "" }

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
