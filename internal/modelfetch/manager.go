package modelfetch

import (
	"context"
	"os"

	"github.com/askidmobile/meetingscribe/internal/logging"
)

// Spec names one local ONNX model this process depends on when built with
// the matching tier's build tag: a local path it should live at, and an
// optional URL to fetch it from if that path is missing.
type Spec struct {
	Name string
	Path string
	URL  string
}

// EnsureAll downloads every spec whose Path does not already exist and
// whose URL is set, leaving specs with no URL for the operator to place
// manually. A missing path with no URL is not an error — the silero/sherpa
// build tags already degrade gracefully (vad falls back to Energy,
// SherpaDiarizingASR construction fails and callers fall back to HTTP).
func EnsureAll(ctx context.Context, specs []Spec, log logging.Logger) error {
	for _, s := range specs {
		if s.Path == "" {
			continue
		}
		if _, err := os.Stat(s.Path); err == nil {
			continue
		}
		if s.URL == "" {
			log.Warn("model file missing and no download url configured", "model", s.Name, "path", s.Path)
			continue
		}
		log.Info("downloading model", "model", s.Name, "url", s.URL, "path", s.Path)
		if err := DownloadFile(ctx, s.URL, s.Path); err != nil {
			return err
		}
	}
	return nil
}
