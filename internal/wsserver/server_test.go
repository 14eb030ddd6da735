package wsserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/askidmobile/meetingscribe/internal/asr"
	"github.com/askidmobile/meetingscribe/internal/logging"
	"github.com/askidmobile/meetingscribe/internal/session"
	"github.com/askidmobile/meetingscribe/internal/store"
	"github.com/askidmobile/meetingscribe/internal/wsproto"
)

type fakeStreaming struct{}

func (fakeStreaming) Transcribe(ctx context.Context, pcm16kMono []byte, contextHint string) (asr.StreamingResult, error) {
	return asr.StreamingResult{Text: "hello world", Confidence: 0.9}, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.WindowSec = 5.0
	cfg.HeartbeatTimeout = 10 * time.Second

	mgr := session.NewManager(cfg, t.TempDir(), cfg.SampleRateHz, fakeStreaming{},
		store.NewLiveVersionWriter(db), store.NewMeetingStore(db), logging.NoOp())
	return NewHandler(mgr, logging.NoOp())
}

func dialWS(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/streaming-audio"
	if query != "" {
		url += "?" + query
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn, resp
}

func TestServeHTTP_SendsConnectedOnFreshConnect(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _ := dialWS(t, srv, "user_email=alice@example.com")
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	env, err := wsproto.UnmarshalEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, wsproto.TypeConnected, env.Type)
}

func TestServeHTTP_PingReceivesPong(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _ := dialWS(t, srv, "")
	defer conn.Close()

	_, _, err := conn.ReadMessage() // connected
	require.NoError(t, err)

	ping, err := wsproto.Marshal(wsproto.Ping{Type: wsproto.TypePing})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, ping))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := wsproto.UnmarshalEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, wsproto.TypePong, env.Type)
}

func TestServeHTTP_BinaryFrameProducesFinalAfterWindow(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _ := dialWS(t, srv, "")
	defer conn.Close()

	_, _, err := conn.ReadMessage() // connected
	require.NoError(t, err)

	samples := make([]byte, int(5.0*16000)*2) // window_sec=5.0 worth of silence
	frame := wsproto.EncodeAudioFrame(0, samples)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := wsproto.UnmarshalEnvelope(data)
		require.NoError(t, err)
		if env.Type == wsproto.TypeFinal {
			break
		}
	}
}

func TestAssignMeeting_RejectsNonPost(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions/abc/meeting", nil)
	rec := httptest.NewRecorder()

	h.AssignMeeting(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAssignMeeting_RejectsMalformedPath(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/wrong/path", bytes.NewBufferString(`{"meeting_id":"m1"}`))
	rec := httptest.NewRecorder()

	h.AssignMeeting(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignMeeting_RejectsMissingMeetingID(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/sessions/abc/meeting", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	h.AssignMeeting(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignMeeting_UnknownSessionReturnsBadRequest(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/sessions/not-resident/meeting", bytes.NewBufferString(`{"meeting_id":"m1"}`))
	rec := httptest.NewRecorder()

	h.AssignMeeting(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignMeeting_SucceedsForResidentSession(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _ := dialWS(t, srv, "")
	defer conn.Close()

	_, data, err := conn.ReadMessage() // connected
	require.NoError(t, err)
	env, err := wsproto.UnmarshalEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, wsproto.TypeConnected, env.Type)

	var connected wsproto.Connected
	require.NoError(t, json.Unmarshal(data, &connected))

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+connected.SessionID+"/meeting",
		bytes.NewBufferString(`{"meeting_id":"real-meeting-99","owner_id":"owner@example.com"}`))
	rec := httptest.NewRecorder()

	h.AssignMeeting(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
