// Package turn drives one learner's practice conversation.
//
// A [Controller] runs the cycle Idle → Capturing → Thinking → Speaking → Idle.
// It asks the capture capability for an utterance, records it, builds the
// prompt from the scene, the current products and the transcript, performs
// exactly one completion and speaks either the reply or a fixed apology.
//
// Only one turn is active at a time: [Controller.StartTurn] while a turn is
// running is rejected with [ErrTurnActive] and changes nothing. An in-flight
// completion is never cancelled; if the turn is cancelled or the controller
// closed while Thinking, the late result is discarded. Retrying is always the
// learner's decision.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/cashierchat/internal/catalog"
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/internal/observe"
	"github.com/MrWong99/cashierchat/internal/prompt"
	"github.com/MrWong99/cashierchat/internal/transcript"
	"github.com/MrWong99/cashierchat/pkg/capability"
	"github.com/MrWong99/cashierchat/pkg/types"
)

var (
	// ErrTurnActive is returned by [Controller.StartTurn] when the
	// controller is not Idle.
	ErrTurnActive = errors.New("turn: a turn is already in progress")

	// ErrClosed is returned after [Controller.Close].
	ErrClosed = errors.New("turn: controller is closed")
)

// Config holds the collaborators and fixed settings of a [Controller].
type Config struct {
	// Capturer performs speech capture. Required.
	Capturer capability.Capturer

	// Speaker plays replies. Required.
	Speaker capability.Speaker

	// Client performs completions. Required.
	Client completion.Client

	// Scene frames the conversation. Must pass [prompt.Scene.Validate].
	Scene prompt.Scene

	// Model selects model and sampling. Validated by the client on each call
	// so that a bad setting surfaces as a spoken configuration apology.
	Model completion.ModelConfig

	// Normalizer translates product labels. Defaults to the built-in table.
	Normalizer *catalog.Normalizer

	// Products seeds the raw product list. [Controller.SetProducts]
	// replaces it later.
	Products []types.ProductEntry

	// SendProducts forwards the raw products with each completion so a
	// catalog relay can render its own product-aware instruction.
	SendProducts bool

	// Locale is passed to the capturer. Default: capability.DefaultLocale.
	Locale string
}

// Option configures optional [Controller] behaviour.
type Option func(*Controller)

// WithClock overrides the time source used for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithObserver registers fn to receive state, status and turn events.
// Events are delivered in order, one at a time, never while the controller's
// lock is held. fn may call any Controller method.
func WithObserver(fn func(Event)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithMetrics records turn and capture metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller owns one conversation. It is safe for concurrent use.
type Controller struct {
	capturer   capability.Capturer
	speaker    capability.Speaker
	client     completion.Client
	scene      prompt.Scene
	model      completion.ModelConfig
	normalizer *catalog.Normalizer
	sendRaw    bool
	locale     string

	transcript *transcript.Store
	now        func() time.Time
	log        *slog.Logger
	observer   func(Event)
	metrics    *observe.Metrics

	// ctx lives until Close. Capture and playback derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	status        string
	gen           uint64
	closed        bool
	products      []types.ProductEntry
	cancelCapture context.CancelFunc
	pending       []Event
	delivering    bool
}

// New creates a Controller in the Idle state. When the scene has a greeting
// it is recorded as the first assistant turn.
func New(cfg Config, opts ...Option) (*Controller, error) {
	var errs []error
	if cfg.Capturer == nil {
		errs = append(errs, errors.New("capturer is required"))
	}
	if cfg.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	if cfg.Client == nil {
		errs = append(errs, errors.New("completion client is required"))
	}
	if err := cfg.Scene.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scene: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	c := &Controller{
		capturer:   cfg.Capturer,
		speaker:    cfg.Speaker,
		client:     cfg.Client,
		scene:      cfg.Scene,
		model:      cfg.Model,
		normalizer: cfg.Normalizer,
		sendRaw:    cfg.SendProducts,
		locale:     cfg.Locale,
		now:        time.Now,
		log:        slog.Default(),
		state:      Idle,
		status:     StatusReady,
		products:   append([]types.ProductEntry(nil), cfg.Products...),
	}
	if c.normalizer == nil {
		c.normalizer = catalog.NewNormalizer(nil)
	}
	if c.locale == "" {
		c.locale = capability.DefaultLocale
	}
	for _, o := range opts {
		o(c)
	}

	var seed []types.Turn
	if g := strings.TrimSpace(cfg.Scene.Greeting); g != "" {
		seed = append(seed, types.Turn{Speaker: types.SpeakerAssistant, Text: g, Timestamp: c.now()})
	}
	store, err := transcript.New(seed...)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	c.transcript = store
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// StartTurn begins a turn by requesting a capture. It returns
// [ErrTurnActive] without side effects when a turn is already running and
// [ErrClosed] after Close. The rest of the turn runs asynchronously; follow
// it with [WithObserver] or [Controller.State].
func (c *Controller) StartTurn() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Idle {
		c.mu.Unlock()
		return ErrTurnActive
	}
	c.gen++
	gen := c.gen
	captureCtx, cancel := context.WithCancel(c.ctx)
	c.cancelCapture = cancel
	c.setStateLocked(Capturing, StatusListening)
	c.mu.Unlock()
	c.flush()

	// A new capture silences anything still playing.
	if s, ok := c.speaker.(interface{ Stop() }); ok {
		s.Stop()
	}

	go c.run(gen, captureCtx, cancel)
	return nil
}

// CancelTurn aborts an active capture, returning the controller to Idle with
// no turn recorded. It reports whether a capture was cancelled. In any other
// state it does nothing; a running completion is never cancelled.
func (c *Controller) CancelTurn() bool {
	c.mu.Lock()
	if c.closed || c.state != Capturing {
		c.mu.Unlock()
		return false
	}
	c.gen++
	if c.cancelCapture != nil {
		c.cancelCapture()
		c.cancelCapture = nil
	}
	c.setStateLocked(Idle, StatusReady)
	c.mu.Unlock()
	c.flush()
	return true
}

// SetProducts replaces the raw product list used from the next prompt on.
func (c *Controller) SetProducts(raw []types.ProductEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = append([]types.ProductEntry(nil), raw...)
}

// Snapshot returns a copy of the transcript.
func (c *Controller) Snapshot() []types.Turn {
	return c.transcript.Snapshot()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current status line.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close tears the controller down. An active capture and any playback are
// cancelled; an in-flight completion finishes in the background and its
// result is discarded. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.cancelCapture = nil
	c.setStateLocked(Idle, StatusReady)
	c.mu.Unlock()
	c.cancel()
	c.flush()
}

// run drives one turn from capture to playback.
func (c *Controller) run(gen uint64, captureCtx context.Context, cancelCapture context.CancelFunc) {
	text, err := c.capturer.RequestCapture(captureCtx, capability.CaptureRequest{Locale: c.locale})
	cancelCapture()
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = &capability.CaptureError{Reason: capability.ReasonNoSpeech}
	}
	if err != nil {
		c.captureFailed(gen, err)
		return
	}

	history, userTurn, ok := c.recordUser(gen, text)
	if !ok {
		return
	}

	raw := c.currentProducts()
	res := c.complete(raw, history, userTurn.Text)

	reply := res.Text
	if !res.OK() {
		reply = Apology(res.Failure.Kind)
		c.log.Warn("turn completion failed", "kind", res.Failure.Kind, "msg", res.Failure.Message)
	}
	if !c.recordAssistant(gen, reply, res.Failure) {
		c.log.Debug("discarding late completion result", "generation", gen)
		return
	}
	if c.metrics != nil {
		outcome := "reply"
		if !res.OK() {
			outcome = "apology"
		}
		c.metrics.RecordTurn(c.ctx, outcome)
	}

	if err := c.speaker.Speak(c.ctx, reply); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("playback failed", "err", err)
	}
	c.finish(gen)
}

// captureFailed returns to Idle without recording a turn.
func (c *Controller) captureFailed(gen uint64, err error) {
	reason := capability.ReasonOf(err)

	c.mu.Lock()
	if gen != c.gen || c.state != Capturing {
		c.mu.Unlock()
		return
	}
	c.cancelCapture = nil
	status := StatusReady
	if reason != capability.ReasonAborted {
		status = "Speech error: " + string(reason)
	}
	c.setStateLocked(Idle, status)
	c.mu.Unlock()
	c.flush()

	c.log.Info("capture produced no text", "reason", reason, "err", err)
	if c.metrics != nil {
		c.metrics.RecordCaptureFailure(c.ctx, string(reason))
	}
}

// recordUser appends the learner's turn and enters Thinking. It returns the
// history preceding the new turn.
func (c *Controller) recordUser(gen uint64, text string) ([]types.Turn, types.Turn, bool) {
	c.mu.Lock()
	if gen != c.gen || c.state != Capturing {
		c.mu.Unlock()
		return nil, types.Turn{}, false
	}
	c.cancelCapture = nil
	history := c.transcript.Snapshot()
	t, err := c.appendLocked(types.SpeakerUser, text, nil)
	if err != nil {
		c.setStateLocked(Idle, StatusReady)
		c.mu.Unlock()
		c.flush()
		c.log.Error("recording user turn", "err", err)
		return nil, types.Turn{}, false
	}
	c.setStateLocked(Thinking, StatusThinking)
	c.mu.Unlock()
	c.flush()
	return history, t, true
}

// complete normalizes products, builds the prompt and performs the single
// completion. Input problems become validation failures.
func (c *Controller) complete(raw []types.ProductEntry, history []types.Turn, text string) completion.Result {
	products, err := c.normalizer.Normalize(raw)
	if err != nil {
		return completion.Fail(completion.KindValidation, "%v", err)
	}
	p, err := prompt.Build(c.scene, products, history, text)
	if err != nil {
		return completion.Fail(completion.KindValidation, "%v", err)
	}
	payload := completion.Payload{Prompt: p}
	if c.sendRaw {
		payload.Products = raw
	}
	// The round trip outlives Close; its result is discarded by generation.
	return c.client.Complete(context.WithoutCancel(c.ctx), payload, c.model)
}

// recordAssistant appends the reply and enters Speaking. It reports false
// when the turn was superseded while Thinking.
func (c *Controller) recordAssistant(gen uint64, reply string, failure *completion.Failure) bool {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.state != Thinking {
		c.mu.Unlock()
		return false
	}
	if _, err := c.appendLocked(types.SpeakerAssistant, reply, failure); err != nil {
		c.setStateLocked(Idle, StatusReady)
		c.mu.Unlock()
		c.flush()
		c.log.Error("recording assistant turn", "err", err)
		return false
	}
	c.setStateLocked(Speaking, StatusSpeaking)
	c.mu.Unlock()
	c.flush()
	return true
}

// finish returns to Idle after playback.
func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Speaking {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Idle, StatusReady)
	c.mu.Unlock()
	c.flush()
}

// appendLocked stores a turn stamped no earlier than the last turn. Must be
// called with c.mu held.
func (c *Controller) appendLocked(s types.Speaker, text string, failure *completion.Failure) (types.Turn, error) {
	ts := c.now()
	if last, ok := c.transcript.Last(); ok && ts.Before(last.Timestamp) {
		ts = last.Timestamp
	}
	t := types.Turn{Speaker: s, Text: text, Timestamp: ts}
	if err := c.transcript.Append(t); err != nil {
		return types.Turn{}, err
	}
	c.pending = append(c.pending, Event{Kind: EventTurn, State: c.state, Turn: t, Failure: failure})
	return t, nil
}

// setStateLocked changes state and status and queues events. Must be called
// with c.mu held.
func (c *Controller) setStateLocked(s State, status string) {
	if s != c.state {
		c.state = s
		c.pending = append(c.pending, Event{Kind: EventState, State: s, Status: status})
	}
	if status != c.status {
		c.status = status
		c.pending = append(c.pending, Event{Kind: EventStatus, State: s, Status: status})
	}
}

// flush delivers queued events in order. Only one goroutine delivers at a
// time; events queued meanwhile, including by the observer itself, are picked
// up by that goroutine's loop.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		events := c.pending
		c.pending = nil
		c.mu.Unlock()
		if c.observer != nil {
			for _, e := range events {
				c.observer(e)
			}
		}
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func (c *Controller) currentProducts() []types.ProductEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ProductEntry(nil), c.products...)
}
