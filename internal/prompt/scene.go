package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// Labels maps speakers to the names used for them in the serialized
// conversation history.
type Labels struct {
	User      string `yaml:"user"`
	Assistant string `yaml:"assistant"`
}

// Scene is the fixed framing of one practice session: who the cashier is, how
// they behave and how long their replies may be. A Scene does not change for
// the lifetime of a session.
type Scene struct {
	// Persona is the cashier's name, e.g. "Sarah".
	Persona string `yaml:"persona"`

	// Role describes the situation to the model in second person.
	Role string `yaml:"role"`

	// Instructions are extra tone and behaviour rules, one per line.
	Instructions []string `yaml:"instructions"`

	// MaxSentences caps the length of each reply.
	MaxSentences int `yaml:"max_sentences"`

	// Greeting, when set, seeds the transcript as the cashier's first turn.
	Greeting string `yaml:"greeting"`

	// Labels used in the conversation history. Assistant defaults to Persona.
	Labels Labels `yaml:"labels"`
}

// DefaultScene returns the checkout-counter scene with Sarah the cashier.
func DefaultScene() Scene {
	return Scene{
		Persona: "Sarah",
		Role: "You are a friendly and helpful supermarket cashier talking to a customer who is practicing their English. " +
			"The customer is at your checkout counter.",
		Instructions: []string{
			"Keep your responses short, natural, and friendly.",
			"Ask questions to keep the conversation going.",
			"If the customer makes a grammar mistake, gently show the correct form.",
			"If they ask for a product that is not in the list, politely say it is out of stock.",
		},
		MaxSentences: 3,
		Greeting:     "Welcome to the supermarket! How can I help you today?",
		Labels:       Labels{User: "Customer", Assistant: "Sarah"},
	}
}

// Validate reports every problem with the scene.
func (s Scene) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Persona) == "" {
		errs = append(errs, errors.New("persona is required"))
	}
	if strings.TrimSpace(s.Role) == "" {
		errs = append(errs, errors.New("role is required"))
	}
	if s.MaxSentences <= 0 {
		errs = append(errs, fmt.Errorf("max_sentences must be positive, got %d", s.MaxSentences))
	}
	return errors.Join(errs...)
}

// userLabel returns the history label for the learner.
func (s Scene) userLabel() string {
	if l := strings.TrimSpace(s.Labels.User); l != "" {
		return l
	}
	return "Customer"
}

// assistantLabel returns the history label for the cashier.
func (s Scene) assistantLabel() string {
	if l := strings.TrimSpace(s.Labels.Assistant); l != "" {
		return l
	}
	return strings.TrimSpace(s.Persona)
}
