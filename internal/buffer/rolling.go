// Package buffer implements a per-session sliding PCM window that grows
// with incoming audio and slides forward once a window is committed.
package buffer

import (
	"sync"

	"github.com/askidmobile/meetingscribe/internal/logging"
)

// RollingBuffer is a per-session sliding window of 16kHz mono int16
// samples, held in a growing slice. Every method takes an internal mutex;
// it is not lock-free. Within a Session only the single processor task
// calls it.
type RollingBuffer struct {
	mu sync.Mutex

	sampleRate int
	windowSec  float64
	overlapSec float64
	maxWindowSec float64

	samples  []int16
	startSec float64 // audio_start_sec of samples[0]

	log       logging.Logger
	dropCount int
}

// Option configures a RollingBuffer at construction.
type Option func(*RollingBuffer)

func WithMaxWindowSec(sec float64) Option {
	return func(b *RollingBuffer) { b.maxWindowSec = sec }
}

func WithLogger(log logging.Logger) Option {
	return func(b *RollingBuffer) { b.log = log }
}

// New builds a RollingBuffer with the given window/overlap in seconds over
// sampleRate Hz mono PCM.
func New(sampleRate int, windowSec, overlapSec float64, opts ...Option) *RollingBuffer {
	b := &RollingBuffer{
		sampleRate:   sampleRate,
		windowSec:    windowSec,
		overlapSec:   overlapSec,
		maxWindowSec: 15.0,
		log:          logging.NoOp(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append adds samples to the tail of the window. If appending would push
// the buffer beyond max_window_sec, the oldest samples are dropped (never
// the newest) and a drop count is logged.
func (b *RollingBuffer) Append(samples []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)

	maxSamples := int(b.maxWindowSec * float64(b.sampleRate))
	if len(b.samples) > maxSamples {
		overflow := len(b.samples) - maxSamples
		b.samples = b.samples[overflow:]
		b.startSec += float64(overflow) / float64(b.sampleRate)
		b.dropCount += overflow
		b.log.Warn("rolling buffer overflow, dropped oldest samples",
			"dropped_samples", overflow, "total_dropped", b.dropCount)
	}
}

// Snapshot returns a copy of the current window and the audio-clock range
// it covers.
func (b *RollingBuffer) Snapshot() (samples []int16, startSec, endSec float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]int16, len(b.samples))
	copy(out, b.samples)
	start := b.startSec
	end := b.startSec + float64(len(b.samples))/float64(b.sampleRate)
	return out, start, end
}

// Len reports the number of samples currently held.
func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// DurationSec reports the current window's duration in seconds.
func (b *RollingBuffer) DurationSec() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(len(b.samples)) / float64(b.sampleRate)
}

// WindowSec is the configured target window size.
func (b *RollingBuffer) WindowSec() float64 { return b.windowSec }

// Slide retains exactly the trailing overlap_sec of audio and discards the
// rest, advancing the buffer's start-of-window clock accordingly.
func (b *RollingBuffer) Slide() {
	b.mu.Lock()
	defer b.mu.Unlock()

	overlapSamples := int(b.overlapSec * float64(b.sampleRate))
	if overlapSamples >= len(b.samples) {
		return
	}
	discarded := len(b.samples) - overlapSamples
	b.samples = b.samples[discarded:]
	b.startSec += float64(discarded) / float64(b.sampleRate)
}

// Drain returns all remaining samples and empties the buffer, used on
// Session teardown to force a final flush even below window_sec.
func (b *RollingBuffer) Drain() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.samples
	b.samples = nil
	return out
}
