// Package postprocess orchestrates the after-meeting re-transcription and
// alignment pipeline: a fan-out to independent recognizers followed by a
// fuse-and-persist stage over this repo's
// AccurateASR/DiarizingASR/AlignmentEngine/VersionStore contracts.
package postprocess

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/askidmobile/meetingscribe/internal/alignment"
	"github.com/askidmobile/meetingscribe/internal/asr"
	"github.com/askidmobile/meetingscribe/internal/errs"
	"github.com/askidmobile/meetingscribe/internal/logging"
	"github.com/askidmobile/meetingscribe/internal/metrics"
	"github.com/askidmobile/meetingscribe/internal/recorder"
	"github.com/askidmobile/meetingscribe/internal/store"
)

const maxRecognizerAttempts = 3

// PostProcessor runs once per meeting after recording ends.
type PostProcessor struct {
	dataRoot      string
	sampleRate    int
	accurate      asr.AccurateASR
	diarizing     asr.DiarizingASR
	engine        *alignment.Engine
	versions      *store.VersionStore
	meetings      *store.MeetingStore
	autoPromoteThreshold float64
	log           logging.Logger
}

func New(
	dataRoot string,
	sampleRate int,
	accurate asr.AccurateASR,
	diarizing asr.DiarizingASR,
	engine *alignment.Engine,
	versions *store.VersionStore,
	meetings *store.MeetingStore,
	autoPromoteThreshold float64,
	log logging.Logger,
) *PostProcessor {
	return &PostProcessor{
		dataRoot: dataRoot, sampleRate: sampleRate,
		accurate: accurate, diarizing: diarizing, engine: engine,
		versions: versions, meetings: meetings,
		autoPromoteThreshold: autoPromoteThreshold, log: log,
	}
}

// Run merges the meeting's chunk files, transcribes and diarizes them
// independently (each attempted up to maxRecognizerAttempts times with
// exponential backoff), aligns the two results, appends a diarized
// version, and conditionally promotes it per the auto-promote policy. On permanent
// recognizer failure no diarized version is written and the meeting's
// diarization_status moves to failed; the live version remains
// authoritative throughout.
func (p *PostProcessor) Run(ctx context.Context, meetingID string) error {
	log := p.log.With("meeting_id", meetingID)

	if err := p.meetings.SetDiarizationStatus(meetingID, store.DiarizationRunning, ""); err != nil {
		return err
	}

	wavPath, err := recorder.MergeToWAV(p.dataRoot, meetingID, p.sampleRate)
	if err != nil {
		p.fail(meetingID, err)
		return err
	}

	var textSegments []asr.AccurateTextSegment
	var speakerSegments []asr.SpeakerSegment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		segs, err := withRetry(gctx, "accurate", func() ([]asr.AccurateTextSegment, error) {
			return p.accurate.TranscribeFile(gctx, wavPath)
		})
		textSegments = segs
		return err
	})
	g.Go(func() error {
		segs, err := withRetry(gctx, "diarizing", func() ([]asr.SpeakerSegment, error) {
			return p.diarizing.Diarize(gctx, wavPath)
		})
		speakerSegments = segs
		return err
	})

	if err := g.Wait(); err != nil {
		log.Warn("postprocess recognizer failed permanently", "error", err.Error())
		p.fail(meetingID, err)
		return err
	}

	if len(textSegments) == 0 && len(speakerSegments) == 0 {
		p.fail(meetingID, errs.ErrAlignmentInputsEmpty)
		return errs.ErrAlignmentInputsEmpty
	}

	aligned, alignMetrics := p.engine.Align(toAlignmentText(textSegments), toAlignmentSpeakers(speakerSegments))

	for _, seg := range speakerSegments {
		if err := p.meetings.UpsertSpeakerMapping(meetingID, seg.SpeakerLabel); err != nil {
			log.Warn("speaker mapping upsert failed", "error", err.Error(), "label", seg.SpeakerLabel)
		}
	}

	contentSegments := store.ToContentSegments(aligned)
	versionNum, err := p.versions.AppendVersion(store.AppendInput{
		MeetingID: meetingID,
		Source:    store.SourceDiarized,
		Segments:  contentSegments,
		Metrics:   store.ToConfidenceMetrics(alignMetrics),
	})
	if err != nil {
		p.fail(meetingID, err)
		return err
	}

	if err := p.maybePromote(meetingID, versionNum, alignMetrics.AvgConfidence, contentSegments); err != nil {
		log.Warn("promotion check failed", "error", err.Error())
	}

	return p.meetings.SetDiarizationStatus(meetingID, store.DiarizationCompleted, "")
}

func (p *PostProcessor) maybePromote(meetingID string, versionNum int, avgConfidence float64, diarizedSegments []store.ContentSegment) error {
	live, err := p.versions.LatestBySource(meetingID, store.SourceLive)
	if err != nil {
		return err
	}
	liveWords := 0
	if live != nil {
		liveWords = wordCountFromVersion(*live)
	}
	diarizedWords := store.WordCount(diarizedSegments)

	if store.ShouldAutoPromote(avgConfidence, diarizedWords, liveWords, p.autoPromoteThreshold) {
		metrics.PromotionOutcomes.WithLabelValues("promoted").Inc()
		return p.versions.Promote(meetingID, versionNum)
	}
	metrics.PromotionOutcomes.WithLabelValues("blocked").Inc()
	return errs.ErrPromotionBlocked
}

func wordCountFromVersion(v store.TranscriptVersion) int {
	n := 0
	for _, seg := range v.Segments {
		n += len(splitWords(seg.Text))
	}
	return n
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

func (p *PostProcessor) fail(meetingID string, err error) {
	_ = p.meetings.SetDiarizationStatus(meetingID, store.DiarizationFailed, err.Error())
}

func toAlignmentText(segs []asr.AccurateTextSegment) []alignment.TextSegment {
	out := make([]alignment.TextSegment, len(segs))
	for i, s := range segs {
		out[i] = alignment.TextSegment{Text: s.Text, StartSec: s.StartSec, EndSec: s.EndSec, Confidence: s.Confidence}
	}
	return out
}

func toAlignmentSpeakers(segs []asr.SpeakerSegment) []alignment.SpeakerSegment {
	out := make([]alignment.SpeakerSegment, len(segs))
	for i, s := range segs {
		out[i] = alignment.SpeakerSegment{SpeakerLabel: s.SpeakerLabel, StartSec: s.StartSec, EndSec: s.EndSec}
	}
	return out
}

// withRetry makes up to maxRecognizerAttempts attempts at a recognizer
// call, waiting 1s and then 2s between attempts on transient failures, and
// records retry/failure counts by recognizer kind.
func withRetry[T any](ctx context.Context, recognizer string, call func() (T, error)) (T, error) {
	var zero T
	backoff := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRecognizerAttempts; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !asr.IsTransient(err) {
			metrics.AsrFailures.WithLabelValues(recognizer).Inc()
			return zero, err
		}
		if attempt == maxRecognizerAttempts {
			break
		}
		metrics.AsrRetries.WithLabelValues(recognizer).Inc()
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		backoff = time.Duration(math.Min(float64(backoff), float64(4*time.Second)))
	}
	metrics.AsrFailures.WithLabelValues(recognizer).Inc()
	return zero, lastErr
}
