// Package types defines the value types shared across the cashier practice
// packages.
//
// Turns and products cross package boundaries (transcript store, prompt
// builder, completion relay, websocket bridge), so they live here to avoid
// circular imports. All types are plain values and safe to copy.
package types

import "time"

// Speaker identifies who produced a [Turn].
type Speaker string

const (
	// SpeakerUser is the learner practising English.
	SpeakerUser Speaker = "user"

	// SpeakerAssistant is the simulated cashier.
	SpeakerAssistant Speaker = "assistant"
)

// IsValid reports whether s is a known speaker.
func (s Speaker) IsValid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Turn is one utterance in a practice conversation. Turns are immutable once
// appended to a transcript.
type Turn struct {
	// Speaker is who said it.
	Speaker Speaker `json:"speaker"`

	// Text is the utterance content. Never empty for stored turns.
	Text string `json:"text"`

	// Timestamp is when the turn content became fully known.
	Timestamp time.Time `json:"timestamp"`
}

// ProductEntry is a raw product as supplied by the presentation layer. Name may
// be a local-language shelf label and entries may repeat.
type ProductEntry struct {
	Name  string  `json:"name" yaml:"name"`
	Price float64 `json:"price" yaml:"price"`
}

// CanonicalProduct is a deduplicated product with an English display name.
type CanonicalProduct struct {
	DisplayName string  `json:"displayName"`
	Price       float64 `json:"price"`
}
