package wsproto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AudioFrameHeaderBytes is the fixed-size client-authoritative timestamp
// prefix on every binary audio frame: an 8-byte little-endian float64
// giving the frame's start time in seconds of audio, relative to the
// session's stream start.
const AudioFrameHeaderBytes = 8

// AudioFrame is one decoded binary WebSocket frame.
type AudioFrame struct {
	AudioStartSec float64
	PCM16Mono     []byte // raw s16le samples, as received
}

// DecodeAudioFrame parses the wire layout
// [f64 LE audio_start_sec][int16 LE PCM samples]. A frame shorter than the
// header or with an odd-length sample payload is rejected as invalid.
func DecodeAudioFrame(data []byte) (AudioFrame, error) {
	if len(data) < AudioFrameHeaderBytes {
		return AudioFrame{}, fmt.Errorf("wsproto: frame too short: %d bytes", len(data))
	}
	payload := data[AudioFrameHeaderBytes:]
	if len(payload)%2 != 0 {
		return AudioFrame{}, fmt.Errorf("wsproto: odd-length PCM payload: %d bytes", len(payload))
	}

	bits := binary.LittleEndian.Uint64(data[:AudioFrameHeaderBytes])
	startSec := math.Float64frombits(bits)

	pcm := make([]byte, len(payload))
	copy(pcm, payload)
	return AudioFrame{AudioStartSec: startSec, PCM16Mono: pcm}, nil
}

// EncodeAudioFrame is the inverse of DecodeAudioFrame, used by tests to
// construct synthetic client frames.
func EncodeAudioFrame(startSec float64, pcm []byte) []byte {
	out := make([]byte, AudioFrameHeaderBytes+len(pcm))
	binary.LittleEndian.PutUint64(out[:AudioFrameHeaderBytes], math.Float64bits(startSec))
	copy(out[AudioFrameHeaderBytes:], pcm)
	return out
}
