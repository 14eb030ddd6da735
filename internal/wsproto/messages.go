// Package wsproto defines the JSON wire messages exchanged over the
// streaming-audio WebSocket, codec'd with bytedance/sonic for the low
// per-message allocation overhead the pack's ASR-eval harness relies on.
package wsproto

import "github.com/bytedance/sonic"

// Type tags every outbound/inbound control message.
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeConnected = "connected"
	TypePartial   = "partial"
	TypeFinal     = "final"
	TypeError     = "error"
)

// Ping is the sole client-to-server text message; it resets the session's
// heartbeat deadline.
type Ping struct {
	Type string `json:"type"`
}

// Pong acknowledges a Ping.
type Pong struct {
	Type string `json:"type"`
}

// Connected is sent exactly once, immediately after the socket is accepted.
type Connected struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Partial is an opportunistic, revisable preview of in-progress speech.
type Partial struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsStable   bool    `json:"is_stable"`
}

// Final is an immutable transcript segment committed to the live version.
type Final struct {
	Type           string  `json:"type"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
	AudioStartTime float64 `json:"audio_start_time"`
	AudioEndTime   float64 `json:"audio_end_time"`
	Duration       float64 `json:"duration"`
}

// ErrorMsg reports a session-visible failure; it never implies the socket
// was closed unless accompanied by a close frame.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewConnected(sessionID string) Connected {
	return Connected{Type: TypeConnected, SessionID: sessionID}
}

func NewPartial(text string, confidence float64, isStable bool) Partial {
	return Partial{Type: TypePartial, Text: text, Confidence: confidence, IsStable: isStable}
}

func NewFinal(text string, confidence float64, reason string, startSec, endSec float64) Final {
	return Final{
		Type:           TypeFinal,
		Text:           text,
		Confidence:     confidence,
		Reason:         reason,
		AudioStartTime: startSec,
		AudioEndTime:   endSec,
		Duration:       endSec - startSec,
	}
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Message: message}
}

func NewPong() Pong { return Pong{Type: TypePong} }

// Marshal encodes any outbound message with sonic.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Envelope is used to sniff the "type" field of an inbound text message
// before unmarshaling into its concrete struct.
type Envelope struct {
	Type string `json:"type"`
}

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := sonic.Unmarshal(data, &e)
	return e, err
}
