package turn

import (
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/pkg/types"
)

// State is the phase of the current turn.
type State int

const (
	// Idle waits for the learner to start a turn.
	Idle State = iota

	// Capturing is listening for the learner's utterance.
	Capturing

	// Thinking waits for the completion round trip.
	Thinking

	// Speaking plays the cashier's reply.
	Speaking
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Status lines shown to the learner.
const (
	StatusReady     = "Ready to talk. Press the mic button."
	StatusListening = "Listening..."
	StatusThinking  = "Thinking..."
	StatusSpeaking  = "Speaking..."
)

// apologies holds the spoken reply for each failure kind.
var apologies = map[completion.Kind]string{
	completion.KindTransport:     "Sorry, I'm having trouble reaching the register right now. Could you say that again?",
	completion.KindProvider:      "Sorry, I didn't quite catch that. Could you repeat it, please?",
	completion.KindConfiguration: "Sorry, the checkout isn't set up correctly right now. Please let the store know.",
	completion.KindValidation:    "Sorry, something is wrong with the price list. Let's try again.",
}

// Apology returns the fixed reply spoken in place of a failed completion.
func Apology(kind completion.Kind) string {
	if a, ok := apologies[kind]; ok {
		return a
	}
	return apologies[completion.KindProvider]
}

// EventKind distinguishes observer events.
type EventKind int

const (
	// EventState reports a state transition.
	EventState EventKind = iota

	// EventTurn reports a turn appended to the transcript.
	EventTurn

	// EventStatus reports a new status line.
	EventStatus
)

// Event is delivered to the observer registered with [WithObserver].
type Event struct {
	Kind   EventKind
	State  State
	Turn   types.Turn
	Status string

	// Failure is set on the assistant EventTurn that replaced a failed
	// completion.
	Failure *completion.Failure
}
