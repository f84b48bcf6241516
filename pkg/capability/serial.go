package capability

import (
	"context"
	"sync"
)

// Serial wraps a [Speaker] so that at most one utterance plays at a time.
// Starting a new utterance cancels the current one and waits for it to stop
// before the new one begins.
type Serial struct {
	inner Speaker

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Speaker = (*Serial)(nil)

// NewSerial returns a Serial speaker around inner.
func NewSerial(inner Speaker) *Serial {
	return &Serial{inner: inner}
}

// Speak cancels any utterance in progress, then plays text.
func (s *Serial) Speak(ctx context.Context, text string) error {
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		cancel()
		close(done)
	}()

	if prev != nil {
		<-prev
	}
	if err := pctx.Err(); err != nil {
		return err
	}
	return s.inner.Speak(pctx, text)
}

// Stop cancels the utterance in progress, if any, without waiting.
func (s *Serial) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
