// Package vad classifies fixed-length 16kHz mono s16le frames as speech or
// silence, with three priority tiers (Hi, Ml, Energy) selected at
// construction time and a logged, never-fatal fallback chain between them.
package vad

import (
	"fmt"

	"github.com/askidmobile/meetingscribe/internal/errs"
	"github.com/askidmobile/meetingscribe/internal/logging"
)

// VAD decides whether a frame contains speech. Implementations are
// stateful and must not be shared across sessions.
type VAD interface {
	// IsSpeech classifies a frame. frameMs must be 10, 20, or 30; the frame
	// must contain exactly frameMs*16 int16 samples (16kHz mono) or
	// errs.ErrFrameLength is returned.
	IsSpeech(frame []int16, frameMs int) (speech bool, speechProb float64, err error)
	// Reset clears any hysteresis/adaptive state, e.g. between sessions.
	Reset()
	// Tier names which implementation is active, for logs/metrics.
	Tier() string
}

// Tier names used in logs and the fallback chain.
const (
	TierHi     = "hi"
	TierMl     = "ml"
	TierEnergy = "energy"
)

func validateFrame(frame []int16, frameMs int) error {
	switch frameMs {
	case 10, 20, 30:
	default:
		return errs.Newf("frame_ms must be 10, 20 or 30, got %d", frameMs).
			Category(errs.CategoryFrame).Build()
	}
	want := frameMs * 16
	if len(frame) != want {
		return fmt.Errorf("%w: want %d samples for %dms, got %d", errs.ErrFrameLength, want, frameMs, len(frame))
	}
	return nil
}

// New constructs a session-local VAD, attempting Hi first, then Ml, then
// Energy. A tier that fails to initialize is logged and skipped; Energy
// never fails to construct, so New never returns an error.
func New(log logging.Logger) VAD {
	if hi, err := newHiVAD(); err == nil {
		log.Info("vad tier selected", "tier", TierHi)
		return hi
	} else {
		log.Warn("vad hi tier unavailable, falling back", "error", err.Error())
	}

	if ml, err := newMlVAD(); err == nil {
		log.Info("vad tier selected", "tier", TierMl)
		return ml
	} else {
		log.Warn("vad ml tier unavailable, falling back", "error", err.Error())
	}

	log.Info("vad tier selected", "tier", TierEnergy)
	return newEnergyVAD()
}
