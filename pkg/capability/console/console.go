// Package console implements the capture and playback capabilities on a text
// terminal: typed lines stand in for recognized speech and replies are
// printed instead of synthesized.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/cashierchat/pkg/capability"
)

// IO is a terminal-backed Capturer and Speaker.
type IO struct {
	out      io.Writer
	prompt   string
	speaker  string
	outMu    sync.Mutex
	lines    chan string
	readErr  chan error
	startRdr sync.Once
	in       io.Reader
}

var (
	_ capability.Capturer = (*IO)(nil)
	_ capability.Speaker  = (*IO)(nil)
)

// New returns a console reading utterances from in and writing replies to
// out. userPrompt is printed before each capture (e.g. "You: ") and
// speakerLabel prefixes each reply (e.g. "Sarah").
func New(in io.Reader, out io.Writer, userPrompt, speakerLabel string) *IO {
	return &IO{
		in:      in,
		out:     out,
		prompt:  userPrompt,
		speaker: speakerLabel,
		lines:   make(chan string),
		readErr: make(chan error, 1),
	}
}

// reader pumps lines from the input. It runs once per IO since a blocked read
// cannot be interrupted.
func (c *IO) reader() {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		c.lines <- sc.Text()
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	c.readErr <- err
	close(c.lines)
}

// RequestCapture prints the prompt and waits for one line of input. Blank
// lines count as no speech. End of input yields a CaptureError wrapping
// io.EOF.
func (c *IO) RequestCapture(ctx context.Context, _ capability.CaptureRequest) (string, error) {
	c.startRdr.Do(func() { go c.reader() })
	c.write(c.prompt)

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", capability.ErrCaptureCancelled, ctx.Err())
	case line, ok := <-c.lines:
		if !ok {
			err := io.EOF
			select {
			case err = <-c.readErr:
				c.readErr <- err
			default:
			}
			return "", &capability.CaptureError{Reason: capability.ReasonAborted, Err: err}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return "", &capability.CaptureError{Reason: capability.ReasonNoSpeech}
		}
		return line, nil
	}
}

// Speak prints the reply on its own line.
func (c *IO) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.write(fmt.Sprintf("%s: %s\n", c.speaker, text))
	return nil
}

// Say prints a status line that is not part of the conversation.
func (c *IO) Say(text string) {
	c.write("[" + text + "]\n")
}

func (c *IO) write(s string) {
	if s == "" {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = io.WriteString(c.out, s)
}
