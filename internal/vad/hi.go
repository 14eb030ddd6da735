package vad

import "math"

// hiVAD is the deterministic, low-latency tier: an adaptive-threshold RMS
// detector with a confirmation window, recast as a per-frame streaming
// classifier rather than a whole-buffer scan. It never fails to
// construct, but New tries it first because it is the highest-quality
// tier available without an ML runtime dependency.
type hiVAD struct {
	runningEnergy float64
	frameCount    int
	confirmed     int
}

const (
	hiBaseThreshold  = 0.005
	hiAdaptiveFactor = 0.2
	hiConfirmFrames  = 3
	hiEmaAlpha       = 0.05
)

func newHiVAD() (*hiVAD, error) {
	return &hiVAD{}, nil
}

func (h *hiVAD) IsSpeech(frame []int16, frameMs int) (bool, float64, error) {
	if err := validateFrame(frame, frameMs); err != nil {
		return false, 0, err
	}

	energy := rmsEnergy(frame)

	if h.frameCount == 0 {
		h.runningEnergy = energy
	} else {
		h.runningEnergy = (1-hiEmaAlpha)*h.runningEnergy + hiEmaAlpha*energy
	}
	h.frameCount++

	threshold := hiBaseThreshold
	if h.runningEnergy*hiAdaptiveFactor > threshold {
		threshold = h.runningEnergy * hiAdaptiveFactor
	}

	isSpeechFrame := energy >= threshold
	if isSpeechFrame {
		if h.confirmed < hiConfirmFrames {
			h.confirmed++
		}
	} else {
		h.confirmed = 0
	}

	confirmed := h.confirmed >= hiConfirmFrames
	prob := 0.0
	if threshold > 0 {
		prob = math.Min(energy/threshold/2.0, 1.0)
	}
	if confirmed && prob < 0.5 {
		prob = 0.5
	}
	return confirmed, prob, nil
}

func (h *hiVAD) Reset() {
	h.runningEnergy = 0
	h.frameCount = 0
	h.confirmed = 0
}

func (h *hiVAD) Tier() string { return TierHi }

// rmsEnergy computes the root-mean-square energy of an int16 frame,
// normalized to [0, 1], matching calculateWindowEnergy's float32 formula.
func rmsEnergy(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
