// Package alignment fuses AccurateASR text segments with DiarizingASR
// speaker segments using a 3-tier fallback: time-overlap scoring, a
// word-density voting fallback, and an uncertain catch-all.
package alignment

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// AlignmentState is the qualitative label on a segment's speaker
// attribution confidence.
type AlignmentState string

const (
	StateConfident      AlignmentState = "CONFIDENT"
	StateUncertain       AlignmentState = "UNCERTAIN"
	StateOverlap         AlignmentState = "OVERLAP"
	StateUnknownSpeaker AlignmentState = "UNKNOWN_SPEAKER"
)

// AlignmentMethod records which tier produced a segment's label.
type AlignmentMethod string

const (
	MethodTimeOverlap  AlignmentMethod = "time_overlap"
	MethodWordDensity  AlignmentMethod = "word_density"
	MethodUncertain    AlignmentMethod = "uncertain"
	MethodLive         AlignmentMethod = "live"
)

// TextSegment is AccurateASR's per-segment output.
type TextSegment struct {
	Text       string
	StartSec   float64
	EndSec     float64
	Confidence float64
}

// SpeakerSegment is DiarizingASR's per-segment output.
type SpeakerSegment struct {
	SpeakerLabel string
	StartSec     float64
	EndSec       float64
}

// AlignedSegment is the engine's output per text segment.
type AlignedSegment struct {
	Text              string
	StartSec          float64
	EndSec            float64
	SpeakerLabel      string
	SpeakerConfidence float64
	State             AlignmentState
	Method            AlignmentMethod
}

// Metrics summarizes an alignment run over a whole meeting.
type Metrics struct {
	TotalSegments    int
	ConfidentCount   int
	UncertainCount   int
	OverlapCount     int
	AvgConfidence    float64
	MethodBreakdown  map[AlignmentMethod]int
}

// Engine holds the tier accept thresholds as independently tunable
// fields so callers can override them from configuration.
type Engine struct {
	OverlapAcceptThreshold float64 // Tier 1 accept threshold (default 0.6)
	DensityAcceptThreshold float64 // Tier 2 accept threshold (default 0.7)
	OverlapStateThreshold  float64 // fraction of text_duration to flag OVERLAP (0.3)
}

// New builds an Engine with the default thresholds.
func New() *Engine {
	return &Engine{
		OverlapAcceptThreshold: 0.6,
		DensityAcceptThreshold: 0.7,
		OverlapStateThreshold:  0.3,
	}
}

// Align fuses text_segments with speaker_segments into labeled transcript
// segments plus aggregate metrics. Both inputs are expected sorted by
// start_sec (the caller's responsibility); Align does not mutate its
// inputs and is deterministic: identical inputs always produce
// byte-identical output.
func (e *Engine) Align(textSegments []TextSegment, speakerSegments []SpeakerSegment) ([]AlignedSegment, Metrics) {
	out := make([]AlignedSegment, 0, len(textSegments))
	metrics := Metrics{MethodBreakdown: make(map[AlignmentMethod]int)}

	var confidences []float64

	for _, ts := range textSegments {
		aligned := e.alignOne(ts, speakerSegments)
		out = append(out, aligned)

		metrics.TotalSegments++
		metrics.MethodBreakdown[aligned.Method]++
		confidences = append(confidences, aligned.SpeakerConfidence)
		switch aligned.State {
		case StateConfident:
			metrics.ConfidentCount++
		case StateUncertain, StateUnknownSpeaker:
			metrics.UncertainCount++
		case StateOverlap:
			metrics.OverlapCount++
			metrics.ConfidentCount++ // OVERLAP still reports a Tier-1 speaker
		}
	}

	if len(confidences) > 0 {
		metrics.AvgConfidence = stat.Mean(confidences, nil)
	}

	return out, metrics
}

func (e *Engine) alignOne(ts TextSegment, speakers []SpeakerSegment) AlignedSegment {
	textDuration := ts.EndSec - ts.StartSec

	if textDuration <= 0 {
		return AlignedSegment{
			Text: ts.Text, StartSec: ts.StartSec, EndSec: ts.EndSec,
			SpeakerLabel: "Unknown", SpeakerConfidence: 0,
			State: StateUnknownSpeaker, Method: MethodUncertain,
		}
	}

	if len(speakers) == 0 {
		return AlignedSegment{
			Text: ts.Text, StartSec: ts.StartSec, EndSec: ts.EndSec,
			SpeakerLabel: "Unknown", SpeakerConfidence: 0,
			State: StateUnknownSpeaker, Method: MethodUncertain,
		}
	}

	// Tier 1: time overlap.
	bestSpeaker, bestOverlap, overlapCount := tier1BestOverlap(ts, speakers, e.OverlapStateThreshold*textDuration)
	tier1Conf := 0.0
	if bestOverlap > 0 {
		tier1Conf = minF(bestOverlap/textDuration/0.5, 1.0)
	}

	if tier1Conf >= e.OverlapAcceptThreshold {
		state := StateConfident
		if overlapCount >= 2 {
			state = StateOverlap
		}
		return AlignedSegment{
			Text: ts.Text, StartSec: ts.StartSec, EndSec: ts.EndSec,
			SpeakerLabel: bestSpeaker, SpeakerConfidence: tier1Conf,
			State: state, Method: MethodTimeOverlap,
		}
	}

	// Tier 2: word density.
	tier2Speaker, tier2Conf := tier2WordDensity(ts, speakers)
	if tier2Conf >= e.DensityAcceptThreshold {
		return AlignedSegment{
			Text: ts.Text, StartSec: ts.StartSec, EndSec: ts.EndSec,
			SpeakerLabel: tier2Speaker, SpeakerConfidence: tier2Conf,
			State: StateConfident, Method: MethodWordDensity,
		}
	}

	// Tier 3: uncertain fallback.
	conf := tier1Conf
	if tier2Conf > conf {
		conf = tier2Conf
	}
	return AlignedSegment{
		Text: ts.Text, StartSec: ts.StartSec, EndSec: ts.EndSec,
		SpeakerLabel: "Unknown", SpeakerConfidence: conf,
		State: StateUncertain, Method: MethodUncertain,
	}
}

// tier1BestOverlap returns the speaker with the maximum time overlap, that
// overlap's duration, and how many distinct speakers overlap at least
// overlapStateMin seconds (used to detect simultaneous speech).
func tier1BestOverlap(ts TextSegment, speakers []SpeakerSegment, overlapStateMin float64) (string, float64, int) {
	best := ""
	bestOverlap := 0.0
	aboveStateThreshold := 0

	for _, s := range speakers {
		overlap := maxF(0, minF(ts.EndSec, s.EndSec)-maxF(ts.StartSec, s.StartSec))
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = s.SpeakerLabel
		}
		if overlap >= overlapStateMin && overlap > 0 {
			aboveStateThreshold++
		}
	}
	return best, bestOverlap, aboveStateThreshold
}

// tier2WordDensity splits the text into words, assigns each a midpoint
// time, finds the unique speaker segment containing that midpoint, and
// returns the majority speaker and its share of words.
func tier2WordDensity(ts TextSegment, speakers []SpeakerSegment) (string, float64) {
	wordsList := splitWords(ts.Text)
	n := len(wordsList)
	if n == 0 {
		return "", 0
	}
	duration := ts.EndSec - ts.StartSec

	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		mid := ts.StartSec + (float64(i)+0.5)*duration/float64(n)
		if label, ok := uniqueSpeakerAt(mid, speakers); ok {
			counts[label]++
		}
	}

	best := ""
	bestCount := 0
	// Deterministic tie-break: iterate speakers in their given order.
	seen := make(map[string]bool)
	for _, s := range speakers {
		if seen[s.SpeakerLabel] {
			continue
		}
		seen[s.SpeakerLabel] = true
		if counts[s.SpeakerLabel] > bestCount {
			bestCount = counts[s.SpeakerLabel]
			best = s.SpeakerLabel
		}
	}

	return best, float64(bestCount) / float64(n)
}

// uniqueSpeakerAt returns the speaker segment containing t, if exactly one
// does (ambiguous/no containment yields ok=false).
func uniqueSpeakerAt(t float64, speakers []SpeakerSegment) (string, bool) {
	label := ""
	count := 0
	for _, s := range speakers {
		if t >= s.StartSec && t < s.EndSec {
			label = s.SpeakerLabel
			count++
		}
	}
	if count == 1 {
		return label, true
	}
	return "", false
}

func splitWords(text string) []string {
	var words []string
	start := -1
	for i, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, text[start:])
	}
	return words
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// SortSegments orders segments by StartSec, satisfying the ordering
// precondition Align relies on.
func SortSegments(segments []TextSegment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartSec < segments[j].StartSec
	})
}
