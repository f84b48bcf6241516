package transcript_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cashierchat/internal/transcript"
	"github.com/MrWong99/cashierchat/pkg/types"
)

var t0 = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

// TestStore_AppendAndSnapshot checks ordering and snapshot isolation.
func TestStore_AppendAndSnapshot(t *testing.T) {
	t.Parallel()

	s, err := transcript.New(types.Turn{Speaker: types.SpeakerAssistant, Text: "Welcome!", Timestamp: t0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Append(types.Turn{Speaker: types.SpeakerUser, Text: "Hi", Timestamp: t0.Add(time.Second)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Text != "Welcome!" || snap[1].Text != "Hi" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	snap[0].Text = "mutated"
	if got := s.Snapshot()[0].Text; got != "Welcome!" {
		t.Errorf("snapshot mutation leaked into store: %q", got)
	}

	if !reflect.DeepEqual(s.Snapshot(), s.Snapshot()) {
		t.Error("consecutive snapshots differ")
	}

	last, ok := s.Last()
	if !ok || last.Text != "Hi" {
		t.Errorf("Last = %+v, %v", last, ok)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

// TestStore_RejectsOutOfOrder checks the chronological invariant.
func TestStore_RejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	s, _ := transcript.New()
	if err := s.Append(types.Turn{Speaker: types.SpeakerUser, Text: "a", Timestamp: t0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := s.Append(types.Turn{Speaker: types.SpeakerAssistant, Text: "b", Timestamp: t0.Add(-time.Millisecond)})
	if !errors.Is(err, transcript.ErrOutOfOrder) {
		t.Errorf("err = %v, want ErrOutOfOrder", err)
	}
	// Equal timestamps are allowed.
	if err := s.Append(types.Turn{Speaker: types.SpeakerAssistant, Text: "c", Timestamp: t0}); err != nil {
		t.Errorf("equal timestamp rejected: %v", err)
	}
}

// TestStore_RejectsInvalid checks speaker and text validation.
func TestStore_RejectsInvalid(t *testing.T) {
	t.Parallel()

	s, _ := transcript.New()
	for _, tt := range []types.Turn{
		{Speaker: "narrator", Text: "x", Timestamp: t0},
		{Speaker: types.SpeakerUser, Text: "  ", Timestamp: t0},
	} {
		if err := s.Append(tt); !errors.Is(err, transcript.ErrInvalidTurn) {
			t.Errorf("Append(%+v) = %v, want ErrInvalidTurn", tt, err)
		}
	}
	if _, ok := s.Last(); ok {
		t.Error("invalid turns were stored")
	}
	if _, err := transcript.New(types.Turn{Speaker: "bad", Text: "x"}); err == nil {
		t.Error("New accepted an invalid seed")
	}
}

// TestStore_ConcurrentReaders exercises snapshots racing with appends.
func TestStore_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	s, _ := transcript.New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Snapshot()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if err := s.Append(types.Turn{Speaker: types.SpeakerUser, Text: "x", Timestamp: t0.Add(time.Duration(i))}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Errorf("Len = %d, want 50", s.Len())
	}
}
