package practice

import (
	"github.com/MrWong99/cashierchat/internal/completion"
	"github.com/MrWong99/cashierchat/pkg/types"
)

// Client → server message types.
const (
	MsgStart        = "start"
	MsgCancel       = "cancel"
	MsgTranscript   = "transcript"
	MsgCaptureError = "capture_error"
	MsgPlaybackDone = "playback_done"
	MsgProducts     = "products"
	MsgSnapshot     = "snapshot"
)

// Server → client message types.
const (
	MsgSession      = "session"
	MsgState        = "state"
	MsgStatus       = "status"
	MsgTurn         = "turn"
	MsgCapture      = "capture"
	MsgStopCapture  = "stop_capture"
	MsgSpeak        = "speak"
	MsgStopPlayback = "stop_playback"
	MsgHistory      = "transcript"
	MsgError        = "error"
)

// ClientMessage is a JSON text frame sent by the browser.
type ClientMessage struct {
	Type string `json:"type"`

	// ID answers a capture or speak request.
	ID string `json:"id,omitempty"`

	// Text is the recognized utterance of a transcript message.
	Text string `json:"text,omitempty"`

	// Reason is the recognizer error code of a capture_error message.
	Reason string `json:"reason,omitempty"`

	// Products replaces the conversation's product list.
	Products []types.ProductEntry `json:"products,omitempty"`
}

// ServerMessage is a JSON text frame sent to the browser.
type ServerMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	ID        string          `json:"id,omitempty"`
	Locale    string          `json:"locale,omitempty"`
	State     string          `json:"state,omitempty"`
	Status    string          `json:"status,omitempty"`
	Text      string          `json:"text,omitempty"`
	Turn      *types.Turn     `json:"turn,omitempty"`
	Turns     []types.Turn    `json:"turns,omitempty"`
	Failure   completion.Kind `json:"failure,omitempty"`
	Error     string          `json:"error,omitempty"`
}
