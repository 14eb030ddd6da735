// Package modelfetch bootstraps the local ONNX models the silero and
// sherpa build tags load (internal/vad's Ml tier, internal/asr's
// SherpaDiarizingASR) by downloading any configured-but-missing file to
// its expected path.
package modelfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// DownloadFile fetches url into destPath, writing to a sibling .tmp file
// and renaming into place only once the transfer completes so a crash or
// cancellation mid-download never leaves a corrupt file at destPath.
func DownloadFile(ctx context.Context, url, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("modelfetch: create directory: %w", err)
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("modelfetch: create temp file: %w", err)
	}
	defer out.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("modelfetch: build request: %w", err)
	}

	client := &http.Client{Timeout: 0} // model files can run into the hundreds of MB
	resp, err := client.Do(req)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("modelfetch: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Remove(tmpPath)
		return fmt.Errorf("modelfetch: %s returned %s", url, resp.Status)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("modelfetch: write %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("modelfetch: close %s: %w", destPath, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("modelfetch: rename into place: %w", err)
	}
	return nil
}
