package audio

import (
	"fmt"
	"os"

	"github.com/braheezy/shine-mp3/pkg/mp3"
	gomp3 "github.com/hajimehoshi/go-mp3"
)

// EncodeMP3 mirrors a merged WAV's samples into a compact MP3 archival
// artifact (non-authoritative — the PCM chunks and WAV merge remain the
// source of truth) using the pure-Go shine-mp3 encoder, avoiding an
// FFmpeg dependency.
func EncodeMP3(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create mp3 %s: %w", path, err)
	}
	defer f.Close()

	enc := mp3.NewEncoder(sampleRate, 1)
	blockSize := 1152
	padded := samples
	if rem := len(padded) % blockSize; rem != 0 {
		padded = append(append([]int16{}, padded...), make([]int16, blockSize-rem)...)
	}
	enc.Write(f, padded)
	return nil
}

// DecodeMP3SampleCount reports the sample count of an encoded MP3 file,
// used by tests validating EncodeMP3's round trip.
func DecodeMP3SampleCount(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// go-mp3 always decodes to 16-bit stereo; length is in bytes.
	return dec.Length() / 4, nil
}
