package store

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
)

// LiveVersionWriter incrementally appends Session finals to each meeting's
// live TranscriptVersion (version_num=1, source=live), as distinct from
// VersionStore.AppendVersion's whole-version-at-once contract used by
// PostProcessor for diarized versions. A per-meeting mutex serializes the
// read-modify-write of content_json against the single-writer-per-session
// assumption this writer relies on, and guards against two sessions somehow
// resuming onto the same meeting concurrently.
type LiveVersionWriter struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLiveVersionWriter(db *gorm.DB) *LiveVersionWriter {
	return &LiveVersionWriter{db: db, locks: make(map[string]*sync.Mutex)}
}

func (w *LiveVersionWriter) lockFor(meetingID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[meetingID]
	if !ok {
		l = &sync.Mutex{}
		w.locks[meetingID] = l
	}
	return l
}

// EnsureLiveVersion creates the meeting's version_num=1 source=live row if
// absent and returns its ID.
func (w *LiveVersionWriter) EnsureLiveVersion(meetingID string) (uint, error) {
	l := w.lockFor(meetingID)
	l.Lock()
	defer l.Unlock()

	var v TranscriptVersion
	err := w.db.Where("meeting_id = ? AND source = ?", meetingID, SourceLive).First(&v).Error
	if err == nil {
		return v.ID, nil
	}
	if !isNotFound(err) {
		return 0, err
	}

	emptyContent, _ := sonic.Marshal([]ContentSegment{})
	v = TranscriptVersion{
		MeetingID:       meetingID,
		VersionNum:      1,
		Source:          SourceLive,
		ContentJSON:     string(emptyContent),
		IsAuthoritative: true,
	}
	if err := w.db.Create(&v).Error; err != nil {
		return 0, err
	}
	return v.ID, nil
}

// AppendLiveSegment appends one finalized segment to the meeting's live
// version: inserts the denormalized TranscriptSegment row and rewrites the
// version's content_json, preserving the ordering guarantee that finals
// are committed in strictly increasing audio_start_sec (enforced by the
// caller, Session's single Processor task).
func (w *LiveVersionWriter) AppendLiveSegment(meetingID string, versionID uint, seg ContentSegment) error {
	l := w.lockFor(meetingID)
	l.Lock()
	defer l.Unlock()

	return w.db.Transaction(func(tx *gorm.DB) error {
		var v TranscriptVersion
		if err := tx.First(&v, versionID).Error; err != nil {
			return err
		}

		var segments []ContentSegment
		if v.ContentJSON != "" {
			if err := sonic.Unmarshal([]byte(v.ContentJSON), &segments); err != nil {
				return fmt.Errorf("store: unmarshal live content: %w", err)
			}
		}
		seqInVersion := len(segments)
		segments = append(segments, seg)

		newContent, err := sonic.Marshal(segments)
		if err != nil {
			return err
		}
		if err := tx.Model(&v).Update("content_json", string(newContent)).Error; err != nil {
			return err
		}

		return tx.Create(&TranscriptSegment{
			VersionID:         versionID,
			SeqInVersion:      seqInVersion,
			Text:              seg.Text,
			AudioStartTimeRaw: seg.AudioStartSec,
			AudioEndTimeRaw:   seg.AudioEndSec,
			FormattedTime:     seg.FormattedTime,
			SpeakerLabel:      seg.SpeakerLabel,
			SpeakerConfidence: seg.SpeakerConfidence,
			AlignmentState:    seg.AlignmentState,
			AlignmentMethod:   seg.AlignmentMethod,
		}).Error
	})
}
