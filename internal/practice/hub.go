// Package practice serves browser practice sessions over websockets.
//
// Each connection gets its own [turn.Controller]. Speech recognition and
// synthesis stay in the browser: the server sends "capture" and "speak"
// requests and the browser answers with "transcript", "capture_error" and
// "playback_done" frames. Controller state, status lines and turns are
// streamed back as they happen.
package practice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/cashierchat/internal/catalog"
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/internal/observe"
	"github.com/MrWong99/cashierchat/internal/prompt"
	"github.com/MrWong99/cashierchat/internal/turn"
	"github.com/MrWong99/cashierchat/pkg/capability"
	"github.com/MrWong99/cashierchat/pkg/types"
)

// Config holds per-session settings. Changes apply to new sessions only.
type Config struct {
	Scene        prompt.Scene
	Model        completion.ModelConfig
	Translations map[string]string
	Products     []types.ProductEntry
	Locale       string

	// OriginPatterns lists allowed browser origin hosts, e.g. "localhost:5173".
	OriginPatterns []string

	// PlaybackTimeout bounds how long a reply may play before the turn ends
	// anyway. Default 60s.
	PlaybackTimeout time.Duration
}

// Hub accepts websocket connections and tracks their sessions. It is safe for
// concurrent use.
type Hub struct {
	client  completion.Client
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	cfg      Config
	sessions map[string]*session
	closed   bool
}

// Option configures a [Hub].
type Option func(*Hub)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithMetrics records session and turn metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a Hub whose sessions complete through client.
func NewHub(cfg Config, client completion.Client, opts ...Option) *Hub {
	h := &Hub{
		client:   client,
		log:      slog.Default(),
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(h)
	}
	h.Update(cfg)
	return h
}

// Update replaces the settings used for new sessions.
func (h *Hub) Update(cfg Config) {
	if cfg.PlaybackTimeout <= 0 {
		cfg.PlaybackTimeout = 60 * time.Second
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// Sessions returns the number of live sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close ends every session and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	live := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ServeHTTP upgrades the request and runs a session until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	cfg, closed := h.cfg, h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: cfg.OriginPatterns})
	if err != nil {
		h.log.Debug("practice: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	s := newSession(conn, h.log, cfg.PlaybackTimeout)

	opts := []turn.Option{turn.WithObserver(s.observe), turn.WithLogger(s.log)}
	if h.metrics != nil {
		opts = append(opts, turn.WithMetrics(h.metrics))
	}
	ctrl, err := turn.New(turn.Config{
		Capturer:   s,
		Speaker:    capability.NewSerial(s),
		Client:     h.client,
		Scene:      cfg.Scene,
		Model:      cfg.Model,
		Normalizer: catalog.NewNormalizer(cfg.Translations),
		Products:   cfg.Products,
		Locale:     cfg.Locale,
	}, opts...)
	if err != nil {
		h.log.Error("practice: cannot start session", "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	s.ctrl = ctrl

	if !h.add(s) {
		ctrl.Close()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(s)

	s.log.Info("practice session started")
	if err := s.send(ServerMessage{Type: MsgSession, SessionID: s.id, State: ctrl.State().String(), Status: ctrl.Status()}); err == nil {
		_ = s.send(ServerMessage{Type: MsgHistory, Turns: ctrl.Snapshot()})
	}

	err = s.readLoop(r.Context())
	s.shutdown()
	ctrl.Close()

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway,
		errors.Is(err, context.Canceled):
		s.log.Info("practice session ended")
	default:
		s.log.Warn("practice session ended", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s.id] = s
	if h.metrics != nil {
		h.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	return true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	delete(h.sessions, s.id)
	if h.metrics != nil {
		h.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}
