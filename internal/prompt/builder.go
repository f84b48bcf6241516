// Package prompt composes the text sent to the completion endpoint for one
// conversational turn.
//
// [Build] merges the session [Scene], the canonical product list, the prior
// turns and the learner's new utterance into a single prompt that ends with
// the cashier's label, so the model continues as the cashier.
// [CatalogSystemPrompt] renders the product-aware system instruction used by
// the relay's catalog variant.
//
// Every function here is pure: no I/O, no shared state, safe for concurrent use.
package prompt

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/cashierchat/pkg/types"
)

// ErrInvalidInput is wrapped by every error caused by malformed builder input.
var ErrInvalidInput = errors.New("prompt: invalid input")

// HistoryHeader separates the instruction block from the serialized turns.
const HistoryHeader = "--- Conversation History ---"

// Build returns the complete prompt for one turn.
//
// Layout: scene role and persona, behaviour rules, the English-only rule and
// the length cap, the product list (omitted when empty), then the history
// header followed by one labelled line per prior turn in order, the new
// utterance and finally the bare assistant label.
func Build(scene Scene, products []types.CanonicalProduct, history []types.Turn, userText string) (string, error) {
	if err := scene.Validate(); err != nil {
		return "", fmt.Errorf("%w: scene: %w", ErrInvalidInput, err)
	}
	userText = oneLine(userText)
	if userText == "" {
		return "", fmt.Errorf("%w: new utterance is empty", ErrInvalidInput)
	}
	productBlock, err := RenderProducts(products)
	if err != nil {
		return "", err
	}

	userLabel, botLabel := scene.userLabel(), scene.assistantLabel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Your name is %s.", strings.TrimSpace(scene.Role), strings.TrimSpace(scene.Persona))
	for _, in := range scene.Instructions {
		if in = strings.TrimSpace(in); in != "" {
			sb.WriteString("\n")
			sb.WriteString(in)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(englishOnlyRule)
	sb.WriteString("\n")
	sb.WriteString(lengthRule(scene.MaxSentences))

	if productBlock != "" {
		sb.WriteString("\n\nAvailable products:\n")
		sb.WriteString(productBlock)
	}

	sb.WriteString("\n\n")
	sb.WriteString(HistoryHeader)
	for i, t := range history {
		var label string
		switch t.Speaker {
		case types.SpeakerUser:
			label = userLabel
		case types.SpeakerAssistant:
			label = botLabel
		default:
			return "", fmt.Errorf("%w: turn %d has unknown speaker %q", ErrInvalidInput, i, t.Speaker)
		}
		text := oneLine(t.Text)
		if text == "" {
			return "", fmt.Errorf("%w: turn %d is empty", ErrInvalidInput, i)
		}
		fmt.Fprintf(&sb, "\n%s: %s", label, text)
	}
	fmt.Fprintf(&sb, "\n%s: %s\n%s:", userLabel, userText, botLabel)
	return sb.String(), nil
}

// RenderProducts renders one "- Name: $0.00" line per product, joined by
// newlines. An empty list renders as the empty string.
func RenderProducts(products []types.CanonicalProduct) (string, error) {
	lines := make([]string, 0, len(products))
	for i, p := range products {
		name := strings.TrimSpace(p.DisplayName)
		switch {
		case name == "":
			return "", fmt.Errorf("%w: product %d has no name", ErrInvalidInput, i)
		case math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price < 0:
			return "", fmt.Errorf("%w: product %q has invalid price %v", ErrInvalidInput, name, p.Price)
		}
		lines = append(lines, fmt.Sprintf("- %s: $%.2f", name, p.Price))
	}
	return strings.Join(lines, "\n"), nil
}

const englishOnlyRule = "Always reply in English only, even if the customer speaks another language."

func lengthRule(n int) string {
	if n == 1 {
		return "Keep every reply to a single sentence."
	}
	return fmt.Sprintf("Keep every reply short: %d sentences at most.", n)
}

// oneLine collapses all whitespace runs, including newlines, to single spaces
// so that an utterance can never start a new labelled history line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
