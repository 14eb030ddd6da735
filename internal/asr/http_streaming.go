package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/askidmobile/meetingscribe/internal/audio"
)

// HTTPStreamingASR implements StreamingASR against a Whisper-style
// multipart transcription endpoint (Groq/OpenAI-compatible), grounded in
// the pack's GroqSTT client: wrap raw PCM in a WAV container, POST it as
// multipart/form-data, decode the JSON {"text": ...} response.
type HTTPStreamingASR struct {
	client     *http.Client
	url        string
	apiKey     string
	model      string
	sampleRate int
}

func NewHTTPStreamingASR(url, apiKey, model string, sampleRate int) *HTTPStreamingASR {
	return &HTTPStreamingASR{
		client:     http.DefaultClient,
		url:        url,
		apiKey:     apiKey,
		model:      model,
		sampleRate: sampleRate,
	}
}

func (s *HTTPStreamingASR) Transcribe(ctx context.Context, pcm16kMono []byte, contextHint string) (StreamingResult, error) {
	samples := bytesToInt16(pcm16kMono)

	wavPath, err := writeTempWAV(samples, s.sampleRate)
	if err != nil {
		return StreamingResult{}, fmt.Errorf("asr: buffer to wav: %w", err)
	}
	defer removeTempFile(wavPath)

	wavData, err := readFile(wavPath)
	if err != nil {
		return StreamingResult{}, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", s.model); err != nil {
		return StreamingResult{}, err
	}
	if contextHint != "" {
		if err := writer.WriteField("prompt", contextHint); err != nil {
			return StreamingResult{}, err
		}
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return StreamingResult{}, err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return StreamingResult{}, err
	}
	if err := writer.Close(); err != nil {
		return StreamingResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return StreamingResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return StreamingResult{}, fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return StreamingResult{}, fmt.Errorf("%w: status %d", errTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return StreamingResult{}, fmt.Errorf("%w: status %d: %v", errPermanent, resp.StatusCode, errResp)
	}

	var result struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return StreamingResult{}, fmt.Errorf("asr: decode response: %w", err)
	}
	if result.Confidence == 0 {
		result.Confidence = 0.8 // providers that omit confidence get a neutral default
	}

	return StreamingResult{Text: result.Text, Confidence: result.Confidence}, nil
}

func bytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return out
}

func writeTempWAV(samples []int16, sampleRate int) (string, error) {
	f, err := tempFile("meetingscribe-asr-*.wav")
	if err != nil {
		return "", err
	}
	f.Close()

	w, err := audio.NewWAVWriter(f.Name(), sampleRate, 1)
	if err != nil {
		return "", err
	}
	if err := w.Write(samples); err != nil {
		w.Close()
		return "", err
	}
	return f.Name(), w.Close()
}
