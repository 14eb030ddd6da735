// Package asr defines the external recognizer interfaces
// (StreamingASR, AccurateASR, DiarizingASR) and ships concrete HTTP-based
// implementations for each.
package asr

import "context"

// StreamingSegment is an optional word-level breakdown StreamingASR may
// return alongside its top-level text.
type StreamingSegment struct {
	Text       string
	Confidence float64
}

// StreamingResult is StreamingASR.Transcribe's return value.
type StreamingResult struct {
	Text       string
	Confidence float64
	Segments   []StreamingSegment
}

// StreamingASR performs fast, cheap speech-to-text over a short buffer of
// audio, as used by Session's smart-trigger pipeline.
type StreamingASR interface {
	Transcribe(ctx context.Context, pcm16kMono []byte, contextHint string) (StreamingResult, error)
}

// AccurateTextSegment is one of AccurateASR's returned segments.
type AccurateTextSegment struct {
	Text       string
	StartSec   float64
	EndSec     float64
	Confidence float64
}

// AccurateASR performs slower, higher-accuracy speech-to-text over a full
// WAV file, used by PostProcessor.
type AccurateASR interface {
	TranscribeFile(ctx context.Context, wavPath string) ([]AccurateTextSegment, error)
}

// SpeakerSegment is one of DiarizingASR's returned segments.
type SpeakerSegment struct {
	SpeakerLabel string
	StartSec     float64
	EndSec       float64
}

// DiarizingASR returns speaker-labeled time segments for a full file.
type DiarizingASR interface {
	Diarize(ctx context.Context, wavPath string) ([]SpeakerSegment, error)
}
