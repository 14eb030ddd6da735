package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askidmobile/meetingscribe/internal/asr"
	"github.com/askidmobile/meetingscribe/internal/logging"
	"github.com/askidmobile/meetingscribe/internal/metrics"
	"github.com/askidmobile/meetingscribe/internal/recorder"
	"github.com/askidmobile/meetingscribe/internal/store"
	"github.com/askidmobile/meetingscribe/internal/vad"
)

// resident wraps a Session with the bookkeeping SessionManager needs to
// support reconnect-by-session_id and linger-based eviction: a dropped
// socket does not end the session immediately, it starts an
// eviction timer; reconnecting with the same session_id before that timer
// fires rebinds the existing Session with no event replay.
type resident struct {
	sess       *Session
	evictTimer *time.Timer
}

// Manager is the SessionManager: NewManager(...) -> (serving) ->
// Stop(drain_timeout). It has no separate Start step; it serves as soon as
// NewManager returns. It owns the
// session_id -> Session registry and the per-session construction
// dependencies that are cheap to share (the HTTP streaming client) versus
// the ones that carry per-stream state and must be fresh per session (VAD).
type Manager struct {
	cfg        Config
	dataRoot   string
	sampleRate int

	streaming asr.StreamingASR
	liveStore *store.LiveVersionWriter
	meetings  *store.MeetingStore
	log       logging.Logger

	mu       sync.Mutex
	sessions map[string]*resident

	// onMeetingEnded fires once a meeting's recording socket is gone for
	// good (explicit end, or linger eviction) so the caller can kick off
	// post-meeting processing. Optional.
	onMeetingEnded func(meetingID string)
}

// SetOnMeetingEnded registers the post-meeting callback.
func (m *Manager) SetOnMeetingEnded(fn func(meetingID string)) {
	m.onMeetingEnded = fn
}

func NewManager(
	cfg Config,
	dataRoot string,
	sampleRate int,
	streaming asr.StreamingASR,
	liveStore *store.LiveVersionWriter,
	meetings *store.MeetingStore,
	log logging.Logger,
) *Manager {
	return &Manager{
		cfg:        cfg,
		dataRoot:   dataRoot,
		sampleRate: sampleRate,
		streaming:  streaming,
		liveStore:  liveStore,
		meetings:   meetings,
		log:        log,
		sessions:   make(map[string]*resident),
	}
}

// Create starts a brand new session. If meetingID is empty, the stream is
// recorded under a placeholder keyed by its own session_id and must
// later be rekeyed via AssignMeeting once the real meeting_id is known.
func (m *Manager) Create(meetingID, ownerID string, sink EventSink) (*Session, error) {
	id := uuid.New().String()

	recordingKey := meetingID
	if recordingKey == "" {
		recordingKey = id
	}

	if meetingID != "" {
		if err := m.meetings.EnsureMeeting(meetingID, ownerID); err != nil {
			return nil, fmt.Errorf("session: ensure meeting: %w", err)
		}
	}

	chunkRec, err := recorder.Start(m.dataRoot, recordingKey, m.sampleRate, m.cfg.ChunkDurationSec)
	if err != nil {
		return nil, fmt.Errorf("session: start chunk recorder: %w", err)
	}

	var liveVerID uint
	if meetingID != "" {
		liveVerID, err = m.liveStore.EnsureLiveVersion(meetingID)
		if err != nil {
			chunkRec.Close()
			return nil, fmt.Errorf("session: ensure live version: %w", err)
		}
	}

	sess := New(id, recordingKey, m.cfg, vad.New(m.log), m.streaming, chunkRec, m.liveStore, liveVerID, sink, m.log)
	sess.OnClosed(func() { m.remove(id) })
	chunkRec.OnChunkClosed(func(seq int, startedAtSec float64, path string, bytes int64) {
		if err := m.meetings.AppendAudioChunk(sess.MeetingID(), seq, startedAtSec, path, bytes); err != nil {
			m.log.Warn("failed to persist audio chunk metadata", "error", err.Error(), "session_id", id, "seq", seq)
		}
	})

	m.mu.Lock()
	m.sessions[id] = &resident{sess: sess}
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(m.countLocked()))

	if err := sess.Start(); err != nil {
		m.remove(id)
		return nil, err
	}
	return sess, nil
}

// AssignMeeting rekeys a session created without a meeting_id onto the
// real one: it renames the recorder's directory, migrates any Meeting/
// AudioChunk/TranscriptVersion/SpeakerMapping rows filed under the
// placeholder, creates the live version, and rebinds the session so
// subsequent finals commit under the real meeting_id.
func (m *Manager) AssignMeeting(sessionID, meetingID, ownerID string) error {
	m.mu.Lock()
	r, found := m.sessions[sessionID]
	m.mu.Unlock()
	if !found {
		return fmt.Errorf("session: %s not resident", sessionID)
	}

	placeholder := r.sess.MeetingID()
	if placeholder == meetingID {
		return nil
	}

	if err := recorder.AssignMeetingID(m.dataRoot, placeholder, meetingID); err != nil {
		return fmt.Errorf("session: assign meeting id: %w", err)
	}
	if err := m.meetings.EnsureMeeting(meetingID, ownerID); err != nil {
		return fmt.Errorf("session: ensure meeting: %w", err)
	}
	if err := m.meetings.Rekey(placeholder, meetingID); err != nil {
		return fmt.Errorf("session: rekey meeting rows: %w", err)
	}

	liveVerID, err := m.liveStore.EnsureLiveVersion(meetingID)
	if err != nil {
		return fmt.Errorf("session: ensure live version: %w", err)
	}

	r.sess.ReassignMeeting(meetingID)
	r.sess.SetLiveVersion(liveVerID)
	return nil
}

// Resume rebinds an existing, still-resident session to a new socket. It
// cancels any pending eviction timer and emits no replay of prior events.
// ok is false if the session is unknown
// or has already been evicted, in which case the caller should fall back to
// Create and surface a fresh connected message with a new session_id.
func (m *Manager) Resume(sessionID string, sink EventSink) (*Session, bool) {
	m.mu.Lock()
	r, found := m.sessions[sessionID]
	if !found {
		m.mu.Unlock()
		return nil, false
	}
	if r.evictTimer != nil {
		r.evictTimer.Stop()
		r.evictTimer = nil
	}
	m.mu.Unlock()

	r.sess.Rebind(sink)
	return r.sess, true
}

// Disconnect is called by the transport layer when a socket closes without
// an explicit client-initiated end. The session stays resident so a
// reconnect can resume it; after session_linger_sec with no reconnect it is
// evicted and closed.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, found := m.sessions[sessionID]
	if !found {
		return
	}
	if r.evictTimer != nil {
		r.evictTimer.Stop()
	}
	r.evictTimer = time.AfterFunc(m.cfg.SessionLinger, func() {
		m.evict(sessionID)
	})
}

func (m *Manager) evict(sessionID string) {
	m.mu.Lock()
	r, found := m.sessions[sessionID]
	if found {
		delete(m.sessions, sessionID)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !found {
		return
	}
	m.log.Info("evicting lingered session", "session_id", sessionID)
	meetingID := r.sess.MeetingID()
	r.sess.Close()
	metrics.ActiveSessions.Set(float64(count))
	if m.onMeetingEnded != nil {
		go m.onMeetingEnded(meetingID)
	}
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(count))
}

// End is called when the client explicitly closes the stream (versus a
// bare socket drop): it closes and evicts the session immediately, with no
// linger window.
func (m *Manager) End(sessionID string) {
	m.mu.Lock()
	r, found := m.sessions[sessionID]
	if found {
		if r.evictTimer != nil {
			r.evictTimer.Stop()
		}
		delete(m.sessions, sessionID)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !found {
		return
	}
	meetingID := r.sess.MeetingID()
	r.sess.Close()
	metrics.ActiveSessions.Set(float64(count))
	if m.onMeetingEnded != nil {
		go m.onMeetingEnded(meetingID)
	}
}

func (m *Manager) countLocked() int {
	return len(m.sessions)
}

// Stop waits up to drainTimeout for every resident session to finish its
// teardown (each Close call forces a final flush and waits on its own
// goroutines), then returns regardless of stragglers so the process can
// still exit.
func (m *Manager) Stop(drainTimeout time.Duration) {
	m.mu.Lock()
	residents := make([]*resident, 0, len(m.sessions))
	for _, r := range m.sessions {
		residents = append(residents, r)
	}
	m.sessions = make(map[string]*resident)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(0)

	done := make(chan struct{})
	go func() {
		for _, r := range residents {
			if r.evictTimer != nil {
				r.evictTimer.Stop()
			}
			r.sess.Close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		m.log.Warn("session manager stop: drain timeout exceeded", "resident_count", len(residents))
	}
}
