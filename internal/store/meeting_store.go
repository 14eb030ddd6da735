package store

import (
	"gorm.io/gorm"
)

// MeetingStore covers the Meeting/AudioChunk/SpeakerMapping side of the
// schema; VersionStore owns TranscriptVersion/TranscriptSegment.
type MeetingStore struct {
	db *gorm.DB
}

func NewMeetingStore(db *gorm.DB) *MeetingStore {
	return &MeetingStore{db: db}
}

// EnsureMeeting creates the meeting row if it does not already exist.
// Meeting rows are normally created by an external scheduling API; this
// repo's core merely references them by ID, so the first sighting of a
// meeting_id in a stream is enough to seed the row.
func (s *MeetingStore) EnsureMeeting(meetingID, ownerID string) error {
	return s.db.Where(Meeting{ID: meetingID}).
		Attrs(Meeting{OwnerID: ownerID, DiarizationStatus: DiarizationPending}).
		FirstOrCreate(&Meeting{}).Error
}

func (s *MeetingStore) MarkAudioRecorded(meetingID string) error {
	return s.db.Model(&Meeting{}).Where("id = ?", meetingID).
		Update("audio_recorded", true).Error
}

func (s *MeetingStore) SetDiarizationStatus(meetingID, status, errMsg string) error {
	return s.db.Model(&Meeting{}).Where("id = ?", meetingID).
		Updates(map[string]any{"diarization_status": status, "diarization_error": errMsg}).Error
}

func (s *MeetingStore) Get(meetingID string) (*Meeting, error) {
	var m Meeting
	err := s.db.Where("id = ?", meetingID).First(&m).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AppendAudioChunk records one closed chunk's metadata. seq must be
// strictly increasing and contiguous per meeting (enforced by the caller,
// ChunkRecorder, which only ever opens the next seq in order).
func (s *MeetingStore) AppendAudioChunk(meetingID string, seq int, startedAtSec float64, path string, bytes int64) error {
	return s.db.Create(&AudioChunk{
		MeetingID:    meetingID,
		Seq:          seq,
		StartedAtSec: startedAtSec,
		Path:         path,
		Bytes:        bytes,
	}).Error
}

// Rekey migrates every row keyed by a placeholder meeting ID onto the real
// one. It supports the recorder's "temporary session_id-named directory"
// flow: a stream may start before a meeting_id is known, using its
// session_id as a stand-in meeting_id, and gets re-keyed once the caller
// supplies the real one.
func (s *MeetingStore) Rekey(oldMeetingID, newMeetingID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Meeting{}).Where("id = ?", oldMeetingID).Update("id", newMeetingID).Error; err != nil {
			return err
		}
		for _, table := range []string{"audio_chunks", "transcript_versions", "speaker_mappings"} {
			if err := tx.Table(table).Where("meeting_id = ?", oldMeetingID).Update("meeting_id", newMeetingID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertSpeakerMapping creates the mapping on first sight of a diarization
// label for a meeting; DisplayName defaults to the label itself and is
// left untouched on subsequent calls so a user's edit is never clobbered.
func (s *MeetingStore) UpsertSpeakerMapping(meetingID, diarizationLabel string) error {
	return s.db.Where(SpeakerMapping{MeetingID: meetingID, DiarizationLabel: diarizationLabel}).
		Attrs(SpeakerMapping{DisplayName: diarizationLabel}).
		FirstOrCreate(&SpeakerMapping{}).Error
}
