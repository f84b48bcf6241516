package capability_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/cashierchat/pkg/capability"
	"github.com/MrWong99/cashierchat/pkg/capability/mock"
)

// TestSerial_NewSpeechCancelsCurrent checks that at most one utterance plays
// and a new one interrupts the old.
func TestSerial_NewSpeechCancelsCurrent(t *testing.T) {
	t.Parallel()

	var active, maxActive atomic.Int32
	started := make(chan string, 2)
	inner := &mock.Speaker{SpeakFunc: func(ctx context.Context, text string) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		started <- text
		if text == "first" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
	s := capability.NewSerial(inner)

	firstErr := make(chan error, 1)
	go func() { firstErr <- s.Speak(context.Background(), "first") }()
	if got := <-started; got != "first" {
		t.Fatalf("started %q", got)
	}

	if err := s.Speak(context.Background(), "second"); err != nil {
		t.Fatalf("second Speak: %v", err)
	}
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first Speak err = %v, want context.Canceled", err)
	}
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent playbacks = %d, want 1", maxActive.Load())
	}
}

// TestSerial_Stop checks that Stop interrupts playback.
func TestSerial_Stop(t *testing.T) {
	t.Parallel()

	playing := make(chan struct{})
	inner := &mock.Speaker{SpeakFunc: func(ctx context.Context, _ string) error {
		close(playing)
		<-ctx.Done()
		return ctx.Err()
	}}
	s := capability.NewSerial(inner)

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		err = s.Speak(context.Background(), "hello")
	}()
	<-playing
	s.Stop()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after Stop")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// TestReasonOf checks reason extraction.
func TestReasonOf(t *testing.T) {
	t.Parallel()

	if r := capability.ReasonOf(&capability.CaptureError{Reason: capability.ReasonNotAllowed}); r != capability.ReasonNotAllowed {
		t.Errorf("got %q", r)
	}
	if r := capability.ReasonOf(capability.ErrCaptureCancelled); r != capability.ReasonAborted {
		t.Errorf("got %q", r)
	}
	if r := capability.ReasonOf(errors.New("boom")); r != "error" {
		t.Errorf("got %q", r)
	}
}
