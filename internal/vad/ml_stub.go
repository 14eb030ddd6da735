//go:build !silero

package vad

import "fmt"

// newMlVAD without the silero build tag always fails to construct, so New
// falls back straight to Energy. Build with -tags silero and a resolvable
// ONNX Runtime shared library to enable the model-based tier.
func newMlVAD() (VAD, error) {
	return nil, fmt.Errorf("ml vad tier: built without the 'silero' tag")
}
