package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/askidmobile/meetingscribe/internal/asr"
	"github.com/askidmobile/meetingscribe/internal/logging"
	"github.com/askidmobile/meetingscribe/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SessionLinger = 80 * time.Millisecond

	streaming := &fakeStreaming{result: asr.StreamingResult{Text: "x", Confidence: 0.5}}
	return NewManager(cfg, t.TempDir(), cfg.SampleRateHz, streaming,
		store.NewLiveVersionWriter(db), store.NewMeetingStore(db), logging.NoOp())
}

func TestManager_CreateWithMeetingIDEstablishesLiveVersion(t *testing.T) {
	m := newTestManager(t)
	sink := &fakeSink{}

	sess, err := m.Create("meeting-create-1", "owner@example.com", sink)
	require.NoError(t, err)
	defer sess.Close()

	require.Equal(t, "meeting-create-1", sess.MeetingID())
	require.Equal(t, StateStreaming, sess.State())
	require.Equal(t, []string{sess.ID}, sink.connected)

	liveID, err := m.liveStore.EnsureLiveVersion("meeting-create-1")
	require.NoError(t, err)
	require.NotZero(t, liveID)
	require.Equal(t, liveID, sess.liveVerID)
}

func TestManager_CreateWithoutMeetingIDUsesSessionIDAsPlaceholder(t *testing.T) {
	m := newTestManager(t)
	sink := &fakeSink{}

	sess, err := m.Create("", "owner@example.com", sink)
	require.NoError(t, err)
	defer sess.Close()

	require.Equal(t, sess.ID, sess.MeetingID())
}

func TestManager_AssignMeetingRekeysPlaceholderSession(t *testing.T) {
	m := newTestManager(t)
	sink := &fakeSink{}

	sess, err := m.Create("", "owner@example.com", sink)
	require.NoError(t, err)
	defer sess.Close()

	placeholder := sess.MeetingID()
	err = m.AssignMeeting(sess.ID, "real-meeting-1", "owner@example.com")
	require.NoError(t, err)

	require.Equal(t, "real-meeting-1", sess.MeetingID())
	require.NotEqual(t, placeholder, sess.MeetingID())

	got, err := m.meetings.Get("real-meeting-1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestManager_AssignMeetingNoopWhenAlreadyAssigned(t *testing.T) {
	m := newTestManager(t)
	sink := &fakeSink{}

	sess, err := m.Create("meeting-noop-1", "owner@example.com", sink)
	require.NoError(t, err)
	defer sess.Close()

	err = m.AssignMeeting(sess.ID, "meeting-noop-1", "owner@example.com")
	require.NoError(t, err)
	require.Equal(t, "meeting-noop-1", sess.MeetingID())
}

func TestManager_AssignMeetingUnknownSessionErrors(t *testing.T) {
	m := newTestManager(t)
	err := m.AssignMeeting("not-a-real-session", "meeting-x", "owner@example.com")
	require.Error(t, err)
}

func TestManager_ResumeRebindsWithoutNewConnectedEvent(t *testing.T) {
	m := newTestManager(t)
	sink1 := &fakeSink{}

	sess, err := m.Create("meeting-resume-1", "owner@example.com", sink1)
	require.NoError(t, err)
	defer sess.Close()

	sink2 := &fakeSink{}
	resumed, ok := m.Resume(sess.ID, sink2)
	require.True(t, ok)
	require.Same(t, sess, resumed)
	require.Empty(t, sink2.connected)
}

func TestManager_ResumeUnknownSessionFails(t *testing.T) {
	m := newTestManager(t)
	_, ok := m.Resume("nonexistent", &fakeSink{})
	require.False(t, ok)
}

func TestManager_DisconnectThenResumeCancelsEviction(t *testing.T) {
	m := newTestManager(t)
	sink := &fakeSink{}

	sess, err := m.Create("meeting-disc-1", "owner@example.com", sink)
	require.NoError(t, err)
	defer sess.Close()

	m.Disconnect(sess.ID)
	_, ok := m.Resume(sess.ID, &fakeSink{})
	require.True(t, ok)

	// session_linger_sec has elapsed, but Resume should have cancelled the
	// eviction timer before it could fire.
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, StateStreaming, sess.State())
}

func TestManager_DisconnectWithoutResumeEvictsAfterLinger(t *testing.T) {
	m := newTestManager(t)
	sink := &fakeSink{}

	var meetingEnded string
	m.SetOnMeetingEnded(func(meetingID string) { meetingEnded = meetingID })

	sess, err := m.Create("meeting-disc-2", "owner@example.com", sink)
	require.NoError(t, err)

	m.Disconnect(sess.ID)

	require.Eventually(t, func() bool {
		return sess.State() == StateClosed
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := m.Resume(sess.ID, &fakeSink{})
	require.False(t, ok)
	require.Eventually(t, func() bool {
		return meetingEnded == "meeting-disc-2"
	}, time.Second, 10*time.Millisecond)
}

func TestManager_EndClosesImmediatelyWithNoLinger(t *testing.T) {
	m := newTestManager(t)
	sink := &fakeSink{}

	sess, err := m.Create("meeting-end-1", "owner@example.com", sink)
	require.NoError(t, err)

	m.End(sess.ID)
	require.Equal(t, StateClosed, sess.State())

	_, ok := m.Resume(sess.ID, &fakeSink{})
	require.False(t, ok)
}

func TestManager_StopDrainsAllResidentSessions(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Create("meeting-stop-1", "owner@example.com", &fakeSink{})
	require.NoError(t, err)
	s2, err := m.Create("meeting-stop-2", "owner@example.com", &fakeSink{})
	require.NoError(t, err)

	m.Stop(2 * time.Second)

	require.Equal(t, StateClosed, s1.State())
	require.Equal(t, StateClosed, s2.State())
}

func TestManager_SelfClosedSessionDeregisters(t *testing.T) {
	m := newTestManager(t)
	sink := &fakeSink{}

	sess, err := m.Create("meeting-self-close-1", "owner@example.com", sink)
	require.NoError(t, err)

	sess.Close() // simulates heartbeat-timeout-driven self-close

	_, ok := m.Resume(sess.ID, &fakeSink{})
	require.False(t, ok)
}
