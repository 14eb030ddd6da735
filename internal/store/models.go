// Package store persists the meeting/audio/transcript data model via
// GORM over SQLite, with every entity model declared in models.go.
package store

import "time"

// Meeting is created by an external API at recording start and never
// deleted by this core; diarization_status tracks PostProcessor outcomes.
type Meeting struct {
	ID               string `gorm:"primaryKey;type:varchar(36)"`
	OwnerID          string `gorm:"index"`
	AudioRecorded    bool
	DiarizationStatus string `gorm:"default:pending"` // pending|running|completed|failed
	DiarizationError string
	CreatedAt        time.Time

	AudioChunks        []AudioChunk        `gorm:"foreignKey:MeetingID"`
	TranscriptVersions []TranscriptVersion `gorm:"foreignKey:MeetingID"`
	SpeakerMappings    []SpeakerMapping    `gorm:"foreignKey:MeetingID"`
}

func (Meeting) TableName() string { return "meetings" }

const (
	DiarizationPending   = "pending"
	DiarizationRunning   = "running"
	DiarizationCompleted = "completed"
	DiarizationFailed    = "failed"
)

// AudioChunk records one fixed-duration segment written by a ChunkRecorder.
// Immutable once closed; deleted only by an external retention job.
type AudioChunk struct {
	ID           uint   `gorm:"primaryKey"`
	MeetingID    string `gorm:"not null;uniqueIndex:idx_chunk_meeting_seq;type:varchar(36)"`
	Seq          int    `gorm:"not null;uniqueIndex:idx_chunk_meeting_seq"`
	StartedAtSec float64
	Path         string
	Bytes        int64
	CreatedAt    time.Time
}

func (AudioChunk) TableName() string { return "audio_chunks" }

// TranscriptVersion is an append-only record; version_num is strictly
// increasing per meeting and never reused. At most one row per meeting may
// have IsAuthoritative true, enforced by VersionStore.Promote's transaction.
type TranscriptVersion struct {
	ID                uint   `gorm:"primaryKey"`
	MeetingID         string `gorm:"not null;uniqueIndex:idx_version_meeting_num;type:varchar(36)"`
	VersionNum        int    `gorm:"not null;uniqueIndex:idx_version_meeting_num"`
	Source            string `gorm:"not null"` // live|diarized|manual_edit
	ContentJSON       string `gorm:"type:text"`
	IsAuthoritative   bool   `gorm:"index:idx_version_authoritative"`
	AlignmentConfig   string `gorm:"type:text"`
	ConfidenceMetrics string `gorm:"type:text"`
	CreatedAt         time.Time

	Segments []TranscriptSegment `gorm:"foreignKey:VersionID"`
}

func (TranscriptVersion) TableName() string { return "transcript_versions" }

const (
	SourceLive        = "live"
	SourceDiarized     = "diarized"
	SourceManualEdit   = "manual_edit"
)

// TranscriptSegment is the denormalized per-version row backing the schema
// excerpt's transcript_segments table, mirrored 1:1 from
// alignment.AlignedSegment/ContentJSON at write time for indexed querying.
type TranscriptSegment struct {
	ID                uint `gorm:"primaryKey"`
	VersionID         uint `gorm:"not null;index"`
	SeqInVersion      int  `gorm:"not null"`
	Text              string
	AudioStartTimeRaw float64 `gorm:"index"`
	AudioEndTimeRaw   float64
	FormattedTime     string // MM:SS
	SpeakerLabel      string
	SpeakerConfidence float64
	AlignmentState    string // CONFIDENT|UNCERTAIN|OVERLAP|UNKNOWN_SPEAKER
	AlignmentMethod   string // time_overlap|word_density|uncertain|live
}

func (TranscriptSegment) TableName() string { return "transcript_segments" }

// SpeakerMapping is created on first diarization; DisplayName is
// user-editable by the external API and never touched by this core again.
type SpeakerMapping struct {
	ID               uint   `gorm:"primaryKey"`
	MeetingID        string `gorm:"not null;uniqueIndex:idx_speaker_meeting_label;type:varchar(36)"`
	DiarizationLabel string `gorm:"not null;uniqueIndex:idx_speaker_meeting_label"`
	DisplayName      string
	CreatedAt        time.Time
}

func (SpeakerMapping) TableName() string { return "speaker_mappings" }

// AllModels lists every entity for AutoMigrate, in dependency order.
func AllModels() []any {
	return []any{
		&Meeting{},
		&AudioChunk{},
		&TranscriptVersion{},
		&TranscriptSegment{},
		&SpeakerMapping{},
	}
}
