// Package mock provides test doubles for the capability interfaces.
//
// Capturer replays scripted results or delegates to CaptureFunc; Speaker
// records every utterance. Both record calls under a mutex so tests can read
// them while a controller goroutine is still running.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cashierchat/pkg/capability"
)

// CaptureResult is one scripted capture outcome.
type CaptureResult struct {
	Text string
	Err  error
}

// Capturer is a mock implementation of capability.Capturer.
type Capturer struct {
	mu sync.Mutex

	// Results are returned in order, one per call. When exhausted the
	// capture fails with capability.ReasonNoSpeech.
	Results []CaptureResult

	// CaptureFunc, if set, takes precedence over Results.
	CaptureFunc func(ctx context.Context, req capability.CaptureRequest) (string, error)

	// Calls records every request in order.
	Calls []capability.CaptureRequest
}

var _ capability.Capturer = (*Capturer)(nil)

// RequestCapture implements capability.Capturer.
func (c *Capturer) RequestCapture(ctx context.Context, req capability.CaptureRequest) (string, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, req)
	fn := c.CaptureFunc
	var next *CaptureResult
	if fn == nil && len(c.Results) > 0 {
		r := c.Results[0]
		c.Results = c.Results[1:]
		next = &r
	}
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if next == nil {
		return "", &capability.CaptureError{Reason: capability.ReasonNoSpeech}
	}
	return next.Text, next.Err
}

// CallCount returns the number of captures requested so far.
func (c *Capturer) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Speaker is a mock implementation of capability.Speaker.
type Speaker struct {
	mu sync.Mutex

	// SpeakFunc, if set, is called for every utterance after it is recorded.
	SpeakFunc func(ctx context.Context, text string) error

	// Err is returned when SpeakFunc is nil.
	Err error

	// Spoken records every utterance in order.
	Spoken []string
}

var _ capability.Speaker = (*Speaker)(nil)

// Speak implements capability.Speaker.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.Spoken = append(s.Spoken, text)
	fn, err := s.SpeakFunc, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return err
}

// Utterances returns a copy of everything spoken so far.
func (s *Speaker) Utterances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Spoken))
	copy(out, s.Spoken)
	return out
}
