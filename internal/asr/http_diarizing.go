package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
)

// HTTPDiarizingASR implements DiarizingASR against a remote diarization
// endpoint, following the same multipart-upload shape as HTTPAccurateASR
// since both recognizers consume a full meeting WAV file.
type HTTPDiarizingASR struct {
	client *http.Client
	url    string
	apiKey string
}

func NewHTTPDiarizingASR(url, apiKey string) *HTTPDiarizingASR {
	return &HTTPDiarizingASR{client: http.DefaultClient, url: url, apiKey: apiKey}
}

func (d *HTTPDiarizingASR) Diarize(ctx context.Context, wavPath string) ([]SpeakerSegment, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("asr: open %s: %w", wavPath, err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "meeting.wav")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", errTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}

	var result struct {
		Segments []struct {
			Speaker string  `json:"speaker"`
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
		} `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("asr: decode response: %w", err)
	}

	out := make([]SpeakerSegment, 0, len(result.Segments))
	for _, s := range result.Segments {
		out = append(out, SpeakerSegment{SpeakerLabel: s.Speaker, StartSec: s.Start, EndSec: s.End})
	}
	return out, nil
}
