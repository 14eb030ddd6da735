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

// HTTPAccurateASR implements AccurateASR against a remote full-file
// transcription endpoint that returns segment timing, grounded in the
// pack's polling-capable STT provider clients (AssemblyAI-style) adapted
// to a segments-with-timestamps response contract.
type HTTPAccurateASR struct {
	client *http.Client
	url    string
	apiKey string
}

func NewHTTPAccurateASR(url, apiKey string) *HTTPAccurateASR {
	return &HTTPAccurateASR{client: http.DefaultClient, url: url, apiKey: apiKey}
}

func (a *HTTPAccurateASR) TranscribeFile(ctx context.Context, wavPath string) ([]AccurateTextSegment, error) {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
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
			Text       string  `json:"text"`
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Confidence float64 `json:"confidence"`
		} `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("asr: decode response: %w", err)
	}

	out := make([]AccurateTextSegment, 0, len(result.Segments))
	for _, s := range result.Segments {
		out = append(out, AccurateTextSegment{
			Text: s.Text, StartSec: s.Start, EndSec: s.End, Confidence: s.Confidence,
		})
	}
	return out, nil
}
