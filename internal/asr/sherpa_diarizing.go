//go:build sherpa

package asr

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/askidmobile/meetingscribe/internal/audio"
)

// maxDiarizationSamples bounds a single native Process call to ~15s at
// 16kHz, the safety limit past which sherpa-onnx's native code has been
// observed to hang on pathological input; longer files are chunked.
const maxDiarizationSamples = 240000

// SherpaDiarizingASR implements DiarizingASR against a local sherpa-onnx
// offline speaker diarization pipeline (pyannote segmentation +
// wespeaker/3dspeaker embeddings + fast clustering), avoiding a network
// round trip for installations that ship the ONNX models locally.
type SherpaDiarizingASR struct {
	diarizer   *sherpa.OfflineSpeakerDiarization
	mu         sync.Mutex
	provider   string
	inProgress int32
}

func detectBestProvider() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "coreml"
	}
	return "cpu"
}

// NewSherpaDiarizingASR loads the segmentation and embedding models and
// builds a clustering diarizer, preferring CoreML on Apple Silicon and
// falling back to CPU if the preferred provider fails to initialize.
func NewSherpaDiarizingASR(segmentationModelPath, embeddingModelPath string) (DiarizingASR, error) {
	if _, err := os.Stat(segmentationModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("asr: segmentation model not found: %s", segmentationModelPath)
	}
	if _, err := os.Stat(embeddingModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("asr: embedding model not found: %s", embeddingModelPath)
	}

	provider := detectBestProvider()

	cfg := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: segmentationModelPath,
			},
			NumThreads: 4,
			Provider:   provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      embeddingModelPath,
			NumThreads: 4,
			Provider:   provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: -1, // auto-detect the number of speakers
			Threshold:   0.5,
		},
		MinDurationOn:  0.3,
		MinDurationOff: 0.5,
	}

	diarizer := sherpa.NewOfflineSpeakerDiarization(cfg)
	if diarizer == nil && provider != "cpu" {
		cfg.Segmentation.Provider = "cpu"
		cfg.Embedding.Provider = "cpu"
		diarizer = sherpa.NewOfflineSpeakerDiarization(cfg)
		provider = "cpu"
	}
	if diarizer == nil {
		return nil, fmt.Errorf("asr: failed to create sherpa-onnx diarizer")
	}

	return &SherpaDiarizingASR{diarizer: diarizer, provider: provider}, nil
}

// Diarize decodes the WAV file to mono float32 samples and runs the
// diarizer, using TryLock rather than Lock so a hung native call never
// accumulates queued goroutines behind it.
func (d *SherpaDiarizingASR) Diarize(ctx context.Context, wavPath string) ([]SpeakerSegment, error) {
	pcm, sampleRate, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("asr: read wav: %w", err)
	}
	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}

	if !d.mu.TryLock() {
		return nil, fmt.Errorf("%w: sherpa diarizer busy (inProgress=%d)", errTransient, atomic.LoadInt32(&d.inProgress))
	}
	defer d.mu.Unlock()

	if len(samples) == 0 {
		return nil, nil
	}
	if sampleRate != 16000 {
		return nil, fmt.Errorf("asr: sherpa diarizer requires 16kHz input, got %dHz", sampleRate)
	}

	var native []rawSegment
	if len(samples) > maxDiarizationSamples {
		native = d.diarizeInChunks(samples)
	} else {
		native = d.diarizeSingle(samples)
	}

	out := make([]SpeakerSegment, 0, len(native))
	for _, seg := range native {
		out = append(out, SpeakerSegment{
			SpeakerLabel: fmt.Sprintf("Speaker %d", seg.speaker),
			StartSec:     float64(seg.start),
			EndSec:       float64(seg.end),
		})
	}
	return out, nil
}

type rawSegment struct {
	start, end float32
	speaker    int
}

func (d *SherpaDiarizingASR) diarizeSingle(samples []float32) []rawSegment {
	atomic.AddInt32(&d.inProgress, 1)
	defer atomic.AddInt32(&d.inProgress, -1)

	segments := d.diarizer.Process(samples)
	out := make([]rawSegment, len(segments))
	for i, seg := range segments {
		out[i] = rawSegment{start: seg.Start, end: seg.End, speaker: seg.Speaker}
	}
	return out
}

// diarizeInChunks splits long audio into overlapping windows, diarizing
// each independently, then merges touching segments from the same speaker
// across the overlap boundary.
func (d *SherpaDiarizingASR) diarizeInChunks(samples []float32) []rawSegment {
	const chunkSize = maxDiarizationSamples
	const overlapSize = 16000
	const sampleRate = 16000

	var all []rawSegment
	offset := 0
	for offset < len(samples) {
		end := offset + chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[offset:end]
		chunkOffsetSec := float32(offset) / float32(sampleRate)

		atomic.AddInt32(&d.inProgress, 1)
		segments := d.diarizer.Process(chunk)
		atomic.AddInt32(&d.inProgress, -1)

		for _, seg := range segments {
			all = append(all, rawSegment{
				start:   seg.Start + chunkOffsetSec,
				end:     seg.End + chunkOffsetSec,
				speaker: seg.Speaker,
			})
		}

		offset = end - overlapSize
		if offset < 0 {
			offset = 0
		}
		if len(samples)-offset < sampleRate {
			break
		}
	}

	return mergeOverlapping(all)
}

func mergeOverlapping(segments []rawSegment) []rawSegment {
	if len(segments) <= 1 {
		return segments
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].start < segments[j].start })

	merged := []rawSegment{segments[0]}
	for _, seg := range segments[1:] {
		last := &merged[len(merged)-1]
		if seg.speaker == last.speaker && seg.start <= last.end+0.5 {
			if seg.end > last.end {
				last.end = seg.end
			}
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

// Close releases the native diarizer.
func (d *SherpaDiarizingASR) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.diarizer != nil {
		sherpa.DeleteOfflineSpeakerDiarization(d.diarizer)
		d.diarizer = nil
	}
}
