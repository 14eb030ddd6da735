package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeetingStore_EnsureMeetingCreatesOnce(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	ms := NewMeetingStore(db)

	require.NoError(t, ms.EnsureMeeting("meet-1", "owner@example.com"))
	require.NoError(t, ms.EnsureMeeting("meet-1", "someone-else@example.com"))

	m, err := ms.Get("meet-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "owner@example.com", m.OwnerID) // first write wins, second is a no-op
	require.Equal(t, DiarizationPending, m.DiarizationStatus)
}

func TestMeetingStore_GetUnknownMeetingReturnsNilNoError(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	ms := NewMeetingStore(db)

	m, err := ms.Get("nonexistent")
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestMeetingStore_MarkAudioRecordedAndSetDiarizationStatus(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	ms := NewMeetingStore(db)
	require.NoError(t, ms.EnsureMeeting("meet-2", "owner@example.com"))

	require.NoError(t, ms.MarkAudioRecorded("meet-2"))
	require.NoError(t, ms.SetDiarizationStatus("meet-2", DiarizationCompleted, ""))

	m, err := ms.Get("meet-2")
	require.NoError(t, err)
	require.True(t, m.AudioRecorded)
	require.Equal(t, DiarizationCompleted, m.DiarizationStatus)
}

func TestMeetingStore_AppendAudioChunkPersistsRow(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	ms := NewMeetingStore(db)
	require.NoError(t, ms.EnsureMeeting("meet-3", "owner@example.com"))

	require.NoError(t, ms.AppendAudioChunk("meet-3", 0, 0.0, "/tmp/chunk_00000.pcm", 1024))

	var count int64
	require.NoError(t, db.Model(&AudioChunk{}).Where("meeting_id = ?", "meet-3").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestMeetingStore_UpsertSpeakerMappingPreservesUserEditedDisplayName(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	ms := NewMeetingStore(db)
	require.NoError(t, ms.EnsureMeeting("meet-4", "owner@example.com"))

	require.NoError(t, ms.UpsertSpeakerMapping("meet-4", "SPEAKER_00"))
	require.NoError(t, db.Model(&SpeakerMapping{}).
		Where("meeting_id = ? AND diarization_label = ?", "meet-4", "SPEAKER_00").
		Update("display_name", "Alice").Error)

	// second sighting of the same label must not clobber the user's edit
	require.NoError(t, ms.UpsertSpeakerMapping("meet-4", "SPEAKER_00"))

	var m SpeakerMapping
	require.NoError(t, db.Where("meeting_id = ? AND diarization_label = ?", "meet-4", "SPEAKER_00").First(&m).Error)
	require.Equal(t, "Alice", m.DisplayName)
}

func TestMeetingStore_RekeyMigratesAllTables(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	ms := NewMeetingStore(db)
	vs := NewVersionStore(db)

	require.NoError(t, ms.EnsureMeeting("placeholder-5", "owner@example.com"))
	require.NoError(t, ms.AppendAudioChunk("placeholder-5", 0, 0.0, "/tmp/c0.pcm", 100))
	_, err = vs.AppendVersion(AppendInput{MeetingID: "placeholder-5", Source: "live"})
	require.NoError(t, err)
	require.NoError(t, ms.UpsertSpeakerMapping("placeholder-5", "SPEAKER_00"))

	require.NoError(t, ms.Rekey("placeholder-5", "real-meeting-5"))

	old, err := ms.Get("placeholder-5")
	require.NoError(t, err)
	require.Nil(t, old)

	got, err := ms.Get("real-meeting-5")
	require.NoError(t, err)
	require.NotNil(t, got)

	var chunkCount, versionCount, mappingCount int64
	require.NoError(t, db.Model(&AudioChunk{}).Where("meeting_id = ?", "real-meeting-5").Count(&chunkCount).Error)
	require.NoError(t, db.Model(&TranscriptVersion{}).Where("meeting_id = ?", "real-meeting-5").Count(&versionCount).Error)
	require.NoError(t, db.Model(&SpeakerMapping{}).Where("meeting_id = ?", "real-meeting-5").Count(&mappingCount).Error)
	require.Equal(t, int64(1), chunkCount)
	require.Equal(t, int64(1), versionCount)
	require.Equal(t, int64(1), mappingCount)
}
