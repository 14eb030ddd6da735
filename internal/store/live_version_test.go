package store

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

func TestLiveVersionWriter_EnsureLiveVersionIsIdempotent(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	ms := NewMeetingStore(db)
	require.NoError(t, ms.EnsureMeeting("meet-live-1", "owner@example.com"))

	w := NewLiveVersionWriter(db)
	id1, err := w.EnsureLiveVersion("meet-live-1")
	require.NoError(t, err)
	id2, err := w.EnsureLiveVersion("meet-live-1")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	var v TranscriptVersion
	require.NoError(t, db.First(&v, id1).Error)
	require.Equal(t, 1, v.VersionNum)
	require.Equal(t, SourceLive, v.Source)
	require.True(t, v.IsAuthoritative)
}

func TestLiveVersionWriter_AppendLiveSegmentAccumulatesContentJSON(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	ms := NewMeetingStore(db)
	require.NoError(t, ms.EnsureMeeting("meet-live-2", "owner@example.com"))

	w := NewLiveVersionWriter(db)
	verID, err := w.EnsureLiveVersion("meet-live-2")
	require.NoError(t, err)

	require.NoError(t, w.AppendLiveSegment("meet-live-2", verID, ContentSegment{Text: "hello", AudioStartSec: 0, AudioEndSec: 1}))
	require.NoError(t, w.AppendLiveSegment("meet-live-2", verID, ContentSegment{Text: "world", AudioStartSec: 1, AudioEndSec: 2}))

	var v TranscriptVersion
	require.NoError(t, db.First(&v, verID).Error)

	var segments []ContentSegment
	require.NoError(t, sonic.Unmarshal([]byte(v.ContentJSON), &segments))
	require.Len(t, segments, 2)
	require.Equal(t, "hello", segments[0].Text)
	require.Equal(t, "world", segments[1].Text)

	var rowCount int64
	require.NoError(t, db.Model(&TranscriptSegment{}).Where("version_id = ?", verID).Count(&rowCount).Error)
	require.Equal(t, int64(2), rowCount)
}

func TestLiveVersionWriter_AppendLiveSegmentUnknownVersionErrors(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	w := NewLiveVersionWriter(db)

	err = w.AppendLiveSegment("meet-live-3", 9999, ContentSegment{Text: "x"})
	require.Error(t, err)
}
