// Package catalog turns the raw product entries reported by the storefront
// into the canonical English product list the cashier talks about.
//
// Shelf labels may be in the learner's native language and the same product
// usually sits on several shelves. [Normalizer.Normalize] translates every
// label through a lookup table and keeps only the first entry per translated
// name, preserving the order and price of that first occurrence.
//
// Normalization is pure: no I/O and no shared mutable state. A [Normalizer] is
// safe for concurrent use once constructed.
package catalog

import (
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/cashierchat/pkg/types"
)

// DefaultTranslations maps the storefront's Spanish shelf labels to their
// English display names.
var DefaultTranslations = map[string]string{
	"Lechuga":    "Lettuce",
	"Tomate":     "Tomato",
	"Papas Lays": "Lay's Chips",
}

// ValidationError reports a raw entry that violates the catalog contract.
// Index is the position of the offending entry in the input slice.
type ValidationError struct {
	Index  int
	Name   string
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog: product %d (%q): %s", e.Index, e.Name, e.Reason)
}

// Normalizer translates and deduplicates product entries.
type Normalizer struct {
	translations map[string]string
}

// NewNormalizer returns a Normalizer using [DefaultTranslations] overlaid with
// extra. Entries in extra win over the defaults. A nil extra is fine.
func NewNormalizer(extra map[string]string) *Normalizer {
	t := make(map[string]string, len(DefaultTranslations)+len(extra))
	for k, v := range DefaultTranslations {
		t[k] = v
	}
	for k, v := range extra {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		t[k] = v
	}
	return &Normalizer{translations: t}
}

// Translate returns the English display name for a raw label. Unknown labels
// are returned unchanged (trimmed).
func (n *Normalizer) Translate(name string) string {
	name = strings.TrimSpace(name)
	if en, ok := n.translations[name]; ok {
		return en
	}
	return name
}

// Normalize returns one [types.CanonicalProduct] per distinct translated name,
// in order of first appearance. The first occurrence's price wins.
//
// An entry with an empty name, a negative price or a non-finite price is a
// caller contract violation and yields a *[ValidationError]; no partial
// result is returned in that case. Empty input yields an empty, non-nil slice.
func (n *Normalizer) Normalize(raw []types.ProductEntry) ([]types.CanonicalProduct, error) {
	out := make([]types.CanonicalProduct, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, p := range raw {
		if err := validate(i, p); err != nil {
			return nil, err
		}
		name := n.Translate(p.Name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, types.CanonicalProduct{DisplayName: name, Price: p.Price})
	}
	return out, nil
}

func validate(i int, p types.ProductEntry) error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return &ValidationError{Index: i, Name: p.Name, Reason: "name is empty"}
	case math.IsNaN(p.Price) || math.IsInf(p.Price, 0):
		return &ValidationError{Index: i, Name: p.Name, Reason: "price is not a finite number"}
	case p.Price < 0:
		return &ValidationError{Index: i, Name: p.Name, Reason: fmt.Sprintf("price %.2f is negative", p.Price)}
	}
	return nil
}

var defaultNormalizer = NewNormalizer(nil)

// Normalize normalizes raw with [DefaultTranslations].
func Normalize(raw []types.ProductEntry) ([]types.CanonicalProduct, error) {
	return defaultNormalizer.Normalize(raw)
}
