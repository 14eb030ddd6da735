// Package audio provides WAV and MP3 encoding for merged meeting
// recordings, using a placeholder-then-rewrite RIFF header technique so
// a writer never needs to know the final size up front.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	BytesPerSample = 2 // s16le
)

// WAVWriter streams int16 PCM samples to a 16-bit mono WAV file, writing a
// placeholder header up front and rewriting it with the final sizes on
// Close/Flush so a crash mid-write still leaves a header-consistent-enough
// file for recovery tooling to inspect.
type WAVWriter struct {
	file          *os.File
	sampleRate    int
	channels      int
	bitsPerSample int
	samplesWritten int64
}

func NewWAVWriter(path string, sampleRate, channels int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create wav %s: %w", path, err)
	}
	w := &WAVWriter{file: f, sampleRate: sampleRate, channels: channels, bitsPerSample: 16}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAVWriter) writeHeader() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	byteRate := w.sampleRate * w.channels * w.bitsPerSample / 8
	blockAlign := w.channels * w.bitsPerSample / 8
	dataSize := uint32(w.samplesWritten * int64(w.bitsPerSample/8))

	if _, err := w.file.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint32(36+dataSize)); err != nil {
		return err
	}
	if _, err := w.file.WriteString("WAVE"); err != nil {
		return err
	}
	if _, err := w.file.WriteString("fmt "); err != nil {
		return err
	}
	for _, v := range []any{
		uint32(16), uint16(1), uint16(w.channels), uint32(w.sampleRate),
		uint32(byteRate), uint16(blockAlign), uint16(w.bitsPerSample),
	} {
		if err := binary.Write(w.file, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.file.WriteString("data"); err != nil {
		return err
	}
	return binary.Write(w.file, binary.LittleEndian, dataSize)
}

// Write appends int16 samples and updates the running sample count.
func (w *WAVWriter) Write(samples []int16) error {
	if err := binary.Write(w.file, binary.LittleEndian, samples); err != nil {
		return err
	}
	w.samplesWritten += int64(len(samples))
	return nil
}

// FlushHeader rewrites the header in place without disturbing the current
// write position, so readers of a still-open file see a consistent size.
func (w *WAVWriter) FlushHeader() error {
	pos, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	_, err = w.file.Seek(pos, io.SeekStart)
	return err
}

// SamplesWritten reports the running sample count.
func (w *WAVWriter) SamplesWritten() int64 { return w.samplesWritten }

func (w *WAVWriter) Close() error {
	if err := w.writeHeader(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// ReadWAV decodes a 16-bit mono WAV file back into int16 samples, used to
// validate MergeToWAV's round trip (testable property 5).
func ReadWAV(path string) (samples []int16, sampleRate int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var riffID, wave [4]byte
	if _, err := io.ReadFull(f, riffID[:]); err != nil {
		return nil, 0, err
	}
	var chunkSize uint32
	if err := binary.Read(f, binary.LittleEndian, &chunkSize); err != nil {
		return nil, 0, err
	}
	if _, err := io.ReadFull(f, wave[:]); err != nil {
		return nil, 0, err
	}
	if string(riffID[:]) != "RIFF" || string(wave[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var channels, bitsPerSample uint16
	for {
		var id [4]byte
		if _, err := io.ReadFull(f, id[:]); err != nil {
			return nil, 0, err
		}
		var size uint32
		if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
			return nil, 0, err
		}
		switch string(id[:]) {
		case "fmt ":
			var audioFormat uint16
			binary.Read(f, binary.LittleEndian, &audioFormat)
			binary.Read(f, binary.LittleEndian, &channels)
			var sr uint32
			binary.Read(f, binary.LittleEndian, &sr)
			sampleRate = int(sr)
			var byteRate uint32
			var blockAlign uint16
			binary.Read(f, binary.LittleEndian, &byteRate)
			binary.Read(f, binary.LittleEndian, &blockAlign)
			binary.Read(f, binary.LittleEndian, &bitsPerSample)
			if remaining := int64(size) - 16; remaining > 0 {
				f.Seek(remaining, io.SeekCurrent)
			}
		case "data":
			n := int(size) / 2
			samples = make([]int16, n)
			if err := binary.Read(f, binary.LittleEndian, samples); err != nil {
				return nil, 0, err
			}
			return samples, sampleRate, nil
		default:
			f.Seek(int64(size), io.SeekCurrent)
		}
	}
}
