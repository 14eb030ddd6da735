//go:build !sherpa

package asr

import "errors"

// NewSherpaDiarizingASR is stubbed out unless built with the "sherpa" tag,
// which pulls in k2-fsa/sherpa-onnx-go and its native library. Construction
// always fails here so callers fall back to HTTPDiarizingASR.
func NewSherpaDiarizingASR(segmentationModelPath, embeddingModelPath string) (DiarizingASR, error) {
	return nil, errSherpaNotBuilt
}

var errSherpaNotBuilt = errors.New("asr: built without the \"sherpa\" tag, local diarization unavailable")
