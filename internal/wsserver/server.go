// Package wsserver upgrades inbound HTTP requests to the streaming-audio
// WebSocket protocol and wires each connection to a session.Session: a
// mutex-guarded WriteJSON over a single gorilla/websocket.Conn, and a
// blocking read loop dispatching by message type, over a binary
// audio-frame + JSON-control-message protocol.
package wsserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/askidmobile/meetingscribe/internal/logging"
	"github.com/askidmobile/meetingscribe/internal/metrics"
	"github.com/askidmobile/meetingscribe/internal/session"
	"github.com/askidmobile/meetingscribe/internal/wsproto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves /ws/streaming-audio.
type Handler struct {
	manager *session.Manager
	log     logging.Logger
}

func NewHandler(manager *session.Manager, log logging.Logger) *Handler {
	return &Handler{manager: manager, log: log}
}

// ServeHTTP implements the WebSocket ingress contract: query parameters
// are session_id (optional; resume) and user_email (optional). No
// meeting_id parameter exists — a stream may start before the caller
// knows which meeting it belongs to, recording under a session_id-named
// placeholder directory until AssignMeeting rekeys it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("user_email")
	resumeID := r.URL.Query().Get("session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	sink := &connSink{conn: conn}

	var sess *session.Session
	if resumeID != "" {
		if resumed, ok := h.manager.Resume(resumeID, sink); ok {
			sess = resumed
		}
	}
	if sess == nil {
		sess, err = h.manager.Create("", ownerID, sink)
		if err != nil {
			h.log.Warn("session create failed", "error", err.Error())
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
			conn.Close()
			return
		}
	}

	h.readLoop(conn, sess)
}

type assignMeetingRequest struct {
	MeetingID string `json:"meeting_id"`
	OwnerID   string `json:"owner_id"`
}

// AssignMeeting serves POST /sessions/{session_id}/meeting, the call an
// external API makes once it has allocated a meeting_id for a stream that
// started without one. It rekeys the session's recording directory
// and persisted rows onto the real meeting_id in place.
func (h *Handler) AssignMeeting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/meeting")
	if sessionID == "" || sessionID == r.URL.Path {
		http.Error(w, "expected /sessions/{session_id}/meeting", http.StatusBadRequest)
		return
	}

	var req assignMeetingRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.MeetingID == "" {
		http.Error(w, "meeting_id is required", http.StatusBadRequest)
		return
	}

	if err := h.manager.AssignMeeting(sessionID, req.MeetingID, req.OwnerID); err != nil {
		h.log.Warn("assign meeting failed", "error", err.Error(), "session_id", sessionID, "meeting_id", req.MeetingID)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readLoop is the single reader for this socket; it decodes binary audio
// frames into Session.Submit and dispatches JSON control messages (only
// "ping" is expected inbound). On any read error or close, the session is
// left resident and a linger-eviction timer starts — unless
// the client sent an explicit end-of-stream message, in which case the
// session is torn down immediately.
func (h *Handler) readLoop(conn *websocket.Conn, sess *session.Session) {
	defer conn.Close()

	ended := false
	defer func() {
		if ended {
			h.manager.End(sess.ID)
		} else {
			h.manager.Disconnect(sess.ID)
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			frame, err := wsproto.DecodeAudioFrame(data)
			if err != nil {
				metrics.InvalidFrames.Inc()
				h.log.Warn("dropping malformed audio frame", "error", err.Error(), "session_id", sess.ID)
				continue
			}
			sess.Submit(frame.AudioStartSec, frame.PCM16Mono)

		case websocket.TextMessage:
			env, err := wsproto.UnmarshalEnvelope(data)
			if err != nil {
				h.log.Warn("dropping malformed control message", "error", err.Error(), "session_id", sess.ID)
				continue
			}
			switch env.Type {
			case wsproto.TypePing:
				_ = sess.OnPing()
			case "end":
				ended = true
				return
			}
		}
	}
}

// connSink implements session.EventSink over one gorilla/websocket
// connection, serializing writes behind a mutex since gorilla/websocket
// connections are not safe for concurrent writers.
type connSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *connSink) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := wsproto.Marshal(v)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *connSink) SendConnected(sessionID string) error {
	return s.writeJSON(wsproto.NewConnected(sessionID))
}

func (s *connSink) SendPartial(text string, confidence float64, isStable bool) error {
	return s.writeJSON(wsproto.NewPartial(text, confidence, isStable))
}

func (s *connSink) SendFinal(text string, confidence float64, reason session.TriggerReason, startSec, endSec float64) error {
	return s.writeJSON(wsproto.NewFinal(text, confidence, string(reason), startSec, endSec))
}

func (s *connSink) SendError(code, message string) error {
	return s.writeJSON(wsproto.NewError(code, message))
}

func (s *connSink) SendPong() error {
	return s.writeJSON(wsproto.NewPong())
}
