package store

import (
	"fmt"
	"math"
	"strings"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/askidmobile/meetingscribe/internal/alignment"
	"github.com/askidmobile/meetingscribe/internal/errs"
)

// ContentSegment is the content_json representation of one
// alignment.AlignedSegment, persisted verbatim and denormalized into
// TranscriptSegment rows for indexed querying.
type ContentSegment struct {
	Text              string  `json:"text"`
	AudioStartSec     float64 `json:"audio_start_sec"`
	AudioEndSec       float64 `json:"audio_end_sec"`
	FormattedTime     string  `json:"formatted_time"`
	SpeakerLabel      string  `json:"speaker_label"`
	SpeakerConfidence float64 `json:"speaker_confidence"`
	AlignmentState    string  `json:"alignment_state"`
	AlignmentMethod   string  `json:"alignment_method"`
}

// ConfidenceMetrics mirrors alignment.Metrics for content_json persistence.
type ConfidenceMetrics struct {
	TotalSegments   int            `json:"total_segments"`
	ConfidentCount  int            `json:"confident_count"`
	UncertainCount  int            `json:"uncertain_count"`
	OverlapCount    int            `json:"overlap_count"`
	AvgConfidence   float64        `json:"avg_confidence"`
	MethodBreakdown map[string]int `json:"method_breakdown"`
}

// AppendInput is what the caller supplies to AppendVersion.
type AppendInput struct {
	MeetingID       string
	Source          string // live|diarized|manual_edit
	Segments        []ContentSegment
	Metrics         ConfidenceMetrics
	AlignmentConfig string
	IdempotencyKey  string
}

// VersionStore appends TranscriptVersion rows and manages authoritativeness:
// exactly one version per meeting may be marked authoritative at a time.
type VersionStore struct {
	db *gorm.DB
}

func NewVersionStore(db *gorm.DB) *VersionStore {
	return &VersionStore{db: db}
}

// idempotencyTable is the tag of the "[idempotency_key:<key>]" marker that
// AppendVersion writes into alignment_config; a later call with the same key
// finds the marker and returns the existing version_num. The
// unique(meeting_id, version_num) constraint separately rejects duplicate
// version numbers from concurrent callers.
var idempotencyTable = "idempotency_key"

// AppendVersion computes version_num = max(existing)+1 for the meeting and
// inserts the version plus its denormalized segment rows in one
// transaction. If idempotencyKey is non-empty and a version already carries
// it, that version's number is returned instead of inserting a duplicate.
func (s *VersionStore) AppendVersion(in AppendInput) (int, error) {
	var versionNum int

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if in.IdempotencyKey != "" {
			var existing TranscriptVersion
			err := tx.Where("meeting_id = ? AND alignment_config LIKE ?",
				in.MeetingID, "%"+idempotencyMarker(in.IdempotencyKey)+"%").
				First(&existing).Error
			if err == nil {
				versionNum = existing.VersionNum
				return nil
			}
			if !isNotFound(err) {
				return err
			}
		}

		var maxNum int
		if err := tx.Model(&TranscriptVersion{}).
			Where("meeting_id = ?", in.MeetingID).
			Select("COALESCE(MAX(version_num), 0)").Scan(&maxNum).Error; err != nil {
			return err
		}
		versionNum = maxNum + 1

		contentJSON, err := sonic.Marshal(in.Segments)
		if err != nil {
			return fmt.Errorf("store: marshal content: %w", err)
		}
		metricsJSON, err := sonic.Marshal(in.Metrics)
		if err != nil {
			return fmt.Errorf("store: marshal metrics: %w", err)
		}

		alignmentConfig := in.AlignmentConfig
		if in.IdempotencyKey != "" {
			alignmentConfig = appendIdempotencyMarker(alignmentConfig, in.IdempotencyKey)
		}

		version := TranscriptVersion{
			MeetingID:         in.MeetingID,
			VersionNum:        versionNum,
			Source:            in.Source,
			ContentJSON:       string(contentJSON),
			AlignmentConfig:   alignmentConfig,
			ConfidenceMetrics: string(metricsJSON),
		}
		if err := tx.Create(&version).Error; err != nil {
			return err
		}

		rows := make([]TranscriptSegment, 0, len(in.Segments))
		for i, seg := range in.Segments {
			rows = append(rows, TranscriptSegment{
				VersionID:         version.ID,
				SeqInVersion:      i,
				Text:              seg.Text,
				AudioStartTimeRaw: seg.AudioStartSec,
				AudioEndTimeRaw:   seg.AudioEndSec,
				FormattedTime:     seg.FormattedTime,
				SpeakerLabel:      seg.SpeakerLabel,
				SpeakerConfidence: seg.SpeakerConfidence,
				AlignmentState:    seg.AlignmentState,
				AlignmentMethod:   seg.AlignmentMethod,
			})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})

	return versionNum, err
}

func idempotencyMarker(key string) string {
	return fmt.Sprintf("[%s:%s]", idempotencyTable, key)
}

func appendIdempotencyMarker(config, key string) string {
	marker := idempotencyMarker(key)
	if config == "" {
		return marker
	}
	return config + " " + marker
}

// Promote sets is_authoritative=true on the given version and false on
// every other version for the meeting, transactionally so the
// at-most-one-authoritative invariant never observably breaks.
func (s *VersionStore) Promote(meetingID string, versionNum int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&TranscriptVersion{}).
			Where("meeting_id = ?", meetingID).
			Update("is_authoritative", false).Error; err != nil {
			return err
		}
		res := tx.Model(&TranscriptVersion{}).
			Where("meeting_id = ? AND version_num = ?", meetingID, versionNum).
			Update("is_authoritative", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Newf("store: no version %d for meeting %s", versionNum, meetingID).
				Category(errs.CategoryVersion).Build()
		}
		return nil
	})
}

// List returns every version for a meeting ordered by version_num.
func (s *VersionStore) List(meetingID string) ([]TranscriptVersion, error) {
	var versions []TranscriptVersion
	err := s.db.Where("meeting_id = ?", meetingID).Order("version_num ASC").Find(&versions).Error
	return versions, err
}

// GetAuthoritative returns the meeting's sole authoritative version, or nil
// if none has been promoted yet.
func (s *VersionStore) GetAuthoritative(meetingID string) (*TranscriptVersion, error) {
	var v TranscriptVersion
	err := s.db.Where("meeting_id = ? AND is_authoritative = ?", meetingID, true).First(&v).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// LatestBySource returns the highest version_num row for the meeting with
// the given source, or nil if none exists, used by ShouldAutoPromote to
// compare a diarized version's word count against the live baseline.
func (s *VersionStore) LatestBySource(meetingID, source string) (*TranscriptVersion, error) {
	var v TranscriptVersion
	err := s.db.Preload("Segments").Where("meeting_id = ? AND source = ?", meetingID, source).
		Order("version_num DESC").First(&v).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ShouldAutoPromote implements the auto-promotion policy: avg_confidence ≥
// threshold (auto_promote_avg_conf, default 0.75) AND the diarized version's
// word count is within 5% of the latest live version's word count.
func ShouldAutoPromote(avgConfidence float64, diarizedWordCount, liveWordCount int, threshold float64) bool {
	if avgConfidence < threshold {
		return false
	}
	if liveWordCount == 0 {
		return diarizedWordCount == 0
	}
	drift := math.Abs(float64(diarizedWordCount-liveWordCount)) / float64(liveWordCount)
	return drift <= 0.05
}

// WordCount counts whitespace-delimited tokens across a segment set, used
// to compare live vs. diarized transcripts for the promotion policy.
func WordCount(segments []ContentSegment) int {
	n := 0
	for _, seg := range segments {
		n += len(strings.Fields(seg.Text))
	}
	return n
}

// ToContentSegments converts the AlignmentEngine's output into the
// persisted content shape, computing each segment's MM:SS formatted_time.
func ToContentSegments(aligned []alignment.AlignedSegment) []ContentSegment {
	out := make([]ContentSegment, 0, len(aligned))
	for _, a := range aligned {
		out = append(out, ContentSegment{
			Text:              a.Text,
			AudioStartSec:     a.StartSec,
			AudioEndSec:       a.EndSec,
			FormattedTime:     formatMMSS(a.StartSec),
			SpeakerLabel:      a.SpeakerLabel,
			SpeakerConfidence: a.SpeakerConfidence,
			AlignmentState:    string(a.State),
			AlignmentMethod:   string(a.Method),
		})
	}
	return out
}

func ToConfidenceMetrics(m alignment.Metrics) ConfidenceMetrics {
	breakdown := make(map[string]int, len(m.MethodBreakdown))
	for method, count := range m.MethodBreakdown {
		breakdown[string(method)] = count
	}
	return ConfidenceMetrics{
		TotalSegments:   m.TotalSegments,
		ConfidentCount:  m.ConfidentCount,
		UncertainCount:  m.UncertainCount,
		OverlapCount:    m.OverlapCount,
		AvgConfidence:   m.AvgConfidence,
		MethodBreakdown: breakdown,
	}
}

func formatMMSS(sec float64) string {
	total := int(sec)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func isNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}
