package console_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/MrWong99/cashierchat/pkg/capability"
	"github.com/MrWong99/cashierchat/pkg/capability/console"
)

func TestIO_CaptureAndSpeak(t *testing.T) {
	var out bytes.Buffer
	c := console.New(strings.NewReader("I want milk\n\n"), &out, "You: ", "Sarah")
	ctx := context.Background()

	text, err := c.RequestCapture(ctx, capability.CaptureRequest{Locale: capability.DefaultLocale})
	if err != nil || text != "I want milk" {
		t.Fatalf("capture = %q, %v", text, err)
	}

	_, err = c.RequestCapture(ctx, capability.CaptureRequest{})
	if capability.ReasonOf(err) != capability.ReasonNoSpeech {
		t.Errorf("blank line err = %v, want no-speech", err)
	}

	_, err = c.RequestCapture(ctx, capability.CaptureRequest{})
	if !errors.Is(err, io.EOF) {
		t.Errorf("end of input err = %v, want io.EOF", err)
	}

	if err := c.Speak(ctx, "Sure!"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !strings.Contains(out.String(), "You: ") || !strings.HasSuffix(out.String(), "Sarah: Sure!\n") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestIO_CaptureCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := console.New(pr, io.Discard, "", "Sarah")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.RequestCapture(ctx, capability.CaptureRequest{})
	if !errors.Is(err, capability.ErrCaptureCancelled) {
		t.Errorf("err = %v, want ErrCaptureCancelled", err)
	}
}
