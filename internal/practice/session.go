package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/cashierchat/internal/turn"
	"github.com/MrWong99/cashierchat/pkg/capability"
)

// writeTimeout bounds a single frame write.
const writeTimeout = 5 * time.Second

type captureResult struct {
	text string
	err  error
}

// session bridges one websocket connection to one turn.Controller. The
// browser performs recognition and synthesis; the session asks for them and
// waits for the answers.
type session struct {
	id              string
	conn            *websocket.Conn
	log             *slog.Logger
	playbackTimeout time.Duration

	ctrl *turn.Controller

	mu       sync.Mutex
	captures map[string]chan captureResult
	plays    map[string]chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

var (
	_ capability.Capturer = (*session)(nil)
	_ capability.Speaker  = (*session)(nil)
)

func newSession(conn *websocket.Conn, log *slog.Logger, playbackTimeout time.Duration) *session {
	id := uuid.NewString()
	return &session{
		id:              id,
		conn:            conn,
		log:             log.With("session", id),
		playbackTimeout: playbackTimeout,
		captures:        make(map[string]chan captureResult),
		plays:           make(map[string]chan struct{}),
		done:            make(chan struct{}),
	}
}

// RequestCapture asks the browser to listen and waits for its transcript.
func (s *session) RequestCapture(ctx context.Context, req capability.CaptureRequest) (string, error) {
	id := uuid.NewString()
	ch := make(chan captureResult, 1)
	s.mu.Lock()
	s.captures[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.captures, id)
		s.mu.Unlock()
	}()

	if err := s.send(ServerMessage{Type: MsgCapture, ID: id, Locale: req.Locale}); err != nil {
		return "", &capability.CaptureError{Reason: capability.ReasonNetwork, Err: err}
	}

	select {
	case res := <-ch:
		return res.text, res.err
	case <-ctx.Done():
		_ = s.send(ServerMessage{Type: MsgStopCapture, ID: id})
		return "", capability.ErrCaptureCancelled
	case <-s.done:
		return "", &capability.CaptureError{Reason: capability.ReasonAborted, Err: errors.New("practice: session closed")}
	}
}

// Speak asks the browser to play text and waits until it reports playback
// finished, ctx is cancelled or the playback timeout elapses.
func (s *session) Speak(ctx context.Context, text string) error {
	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.plays[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.plays, id)
		s.mu.Unlock()
	}()

	if err := s.send(ServerMessage{Type: MsgSpeak, ID: id, Text: text}); err != nil {
		return fmt.Errorf("practice: send speak: %w", err)
	}

	var timeout <-chan time.Time
	if s.playbackTimeout > 0 {
		t := time.NewTimer(s.playbackTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		_ = s.send(ServerMessage{Type: MsgStopPlayback, ID: id})
		return ctx.Err()
	case <-timeout:
		s.log.Warn("playback not acknowledged, continuing", "timeout", s.playbackTimeout)
		return nil
	case <-s.done:
		return nil
	}
}

// observe forwards controller events to the browser.
func (s *session) observe(e turn.Event) {
	var msg ServerMessage
	switch e.Kind {
	case turn.EventState:
		msg = ServerMessage{Type: MsgState, State: e.State.String()}
	case turn.EventStatus:
		msg = ServerMessage{Type: MsgStatus, Status: e.Status}
	case turn.EventTurn:
		t := e.Turn
		msg = ServerMessage{Type: MsgTurn, Turn: &t}
		if e.Failure != nil {
			msg.Failure = e.Failure.Kind
		}
	default:
		return
	}
	if err := s.send(msg); err != nil {
		s.log.Debug("dropping event for closed connection", "type", msg.Type, "err", err)
	}
}

// readLoop dispatches client frames until the connection ends.
func (s *session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = s.send(ServerMessage{Type: MsgError, Error: "malformed message"})
			continue
		}
		s.handle(msg)
	}
}

func (s *session) handle(msg ClientMessage) {
	switch msg.Type {
	case MsgStart:
		if err := s.ctrl.StartTurn(); err != nil {
			_ = s.send(ServerMessage{Type: MsgError, Error: err.Error()})
		}
	case MsgCancel:
		s.ctrl.CancelTurn()
	case MsgTranscript:
		s.deliverCapture(msg.ID, captureResult{text: msg.Text})
	case MsgCaptureError:
		reason := capability.CaptureReason(msg.Reason)
		if reason == "" {
			reason = capability.ReasonNoSpeech
		}
		s.deliverCapture(msg.ID, captureResult{err: &capability.CaptureError{Reason: reason}})
	case MsgPlaybackDone:
		s.mu.Lock()
		ch, ok := s.plays[msg.ID]
		s.mu.Unlock()
		if ok {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	case MsgProducts:
		s.ctrl.SetProducts(msg.Products)
	case MsgSnapshot:
		_ = s.send(ServerMessage{Type: MsgHistory, Turns: s.ctrl.Snapshot()})
	default:
		_ = s.send(ServerMessage{Type: MsgError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// deliverCapture hands a result to the waiting capture. Answers to captures
// that are no longer pending are dropped.
func (s *session) deliverCapture(id string, res captureResult) {
	s.mu.Lock()
	ch, ok := s.captures[id]
	s.mu.Unlock()
	if !ok {
		s.log.Debug("ignoring answer to stale capture", "capture", id)
		return
	}
	select {
	case ch <- res:
	default:
	}
}

func (s *session) send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// shutdown releases every waiter. Safe to call more than once.
func (s *session) shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}
