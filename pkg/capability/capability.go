// Package capability defines the speech capture and playback contracts the
// turn controller depends on.
//
// Audio itself is out of scope: a [Capturer] hands back a finished
// transcription and a [Speaker] consumes a finished reply string. Browser
// speech APIs, a terminal or a websocket peer can all sit behind these
// interfaces.
package capability

import (
	"context"
	"errors"
	"fmt"
)

// DefaultLocale is the recognition locale requested for every capture.
const DefaultLocale = "en-US"

// CaptureRequest parameterises one capture.
type CaptureRequest struct {
	// Locale is a BCP 47 hint for the recognizer, e.g. "en-US".
	Locale string
}

// Capturer performs single-shot speech capture.
type Capturer interface {
	// RequestCapture listens for one utterance and returns its text. It
	// returns an error wrapping [ErrCaptureCancelled] when ctx is cancelled
	// and a *[CaptureError] for recognizer faults.
	RequestCapture(ctx context.Context, req CaptureRequest) (string, error)
}

// Speaker plays a reply back to the learner.
type Speaker interface {
	// Speak blocks until playback of text has finished or ctx is done.
	Speak(ctx context.Context, text string) error
}

// ErrCaptureCancelled reports that a capture was aborted before any text
// was recognized.
var ErrCaptureCancelled = errors.New("capability: capture cancelled")

// CaptureReason names a recognizer fault.
type CaptureReason string

// Recognizer fault reasons, matching the browser speech API error codes.
const (
	ReasonNoSpeech    CaptureReason = "no-speech"
	ReasonNotAllowed  CaptureReason = "not-allowed"
	ReasonUnsupported CaptureReason = "unsupported"
	ReasonAborted     CaptureReason = "aborted"
	ReasonNetwork     CaptureReason = "network"
	ReasonAudio       CaptureReason = "audio-capture"
)

// CaptureError reports why a capture produced no text.
type CaptureError struct {
	Reason CaptureReason
	Err    error
}

// Error implements error.
func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capability: capture failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("capability: capture failed (%s)", e.Reason)
}

// Unwrap returns the underlying error.
func (e *CaptureError) Unwrap() error { return e.Err }

// ReasonOf returns the reason carried by err: [ReasonAborted] for
// cancellation, the CaptureError reason when present, and "error" otherwise.
func ReasonOf(err error) CaptureReason {
	var ce *CaptureError
	switch {
	case errors.As(err, &ce):
		return ce.Reason
	case errors.Is(err, ErrCaptureCancelled), errors.Is(err, context.Canceled):
		return ReasonAborted
	default:
		return "error"
	}
}
