// Package transcript holds the ordered record of a practice conversation.
//
// A [Store] is the single source of truth for conversation history. Turns are
// only ever appended, never edited or removed, and their timestamps never go
// backwards. Readers receive copies via [Store.Snapshot] so a snapshot is
// unaffected by later appends.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/cashierchat/pkg/types"
)

var (
	// ErrOutOfOrder is returned by [Store.Append] when a turn's timestamp is
	// earlier than the last stored turn.
	ErrOutOfOrder = errors.New("transcript: turn is older than the last turn")

	// ErrInvalidTurn is returned by [Store.Append] for a turn with an unknown
	// speaker or empty text.
	ErrInvalidTurn = errors.New("transcript: invalid turn")
)

// Store is an append-only, chronologically ordered list of turns.
//
// All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	turns []types.Turn
}

// New returns a Store pre-populated with seed turns, e.g. a cashier greeting.
// Seed turns are subject to the same rules as [Store.Append].
func New(seed ...types.Turn) (*Store, error) {
	s := &Store{turns: make([]types.Turn, 0, len(seed)+8)}
	for _, t := range seed {
		if err := s.Append(t); err != nil {
			return nil, fmt.Errorf("transcript: seed: %w", err)
		}
	}
	return s, nil
}

// Append adds t to the end of the transcript.
func (s *Store) Append(t types.Turn) error {
	if !t.Speaker.IsValid() {
		return fmt.Errorf("%w: unknown speaker %q", ErrInvalidTurn, t.Speaker)
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidTurn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.turns); n > 0 && t.Timestamp.Before(s.turns[n-1].Timestamp) {
		return ErrOutOfOrder
	}
	s.turns = append(s.turns, t)
	return nil
}

// Snapshot returns a copy of all turns in order. Calling it twice without an
// intervening append yields equal slices.
func (s *Store) Snapshot() []types.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Last returns the most recent turn, or false when the transcript is empty.
func (s *Store) Last() (types.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return types.Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}
