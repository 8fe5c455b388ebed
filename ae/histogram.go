package ae

import (
	"sync"

	"camserver/config"
)

// Histogram implements the histogram-based AE algorithm: PI control of a
// brightness error against a desired mean-sample-value, gated to run every
// UpdatePeriod frames.
type Histogram struct {
	tuning config.HistogramTuning

	mu         sync.Mutex
	integral   float64
	frameCount int
}

// NewHistogram builds a Histogram algorithm from its tuning parameters.
func NewHistogram(t config.HistogramTuning) *Histogram {
	return &Histogram{tuning: t}
}

// Update implements Algorithm.
func (h *Histogram) Update(luminance []byte, current ExpGain) (ExpGain, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.frameCount++
	period := h.tuning.UpdatePeriod
	if period < 1 {
		period = 1
	}
	if h.frameCount%period != 0 {
		return current, false
	}

	mean := meanBrightness(luminance)
	errVal := h.tuning.DesiredMSV - mean
	if absF(errVal) < h.tuning.GoodThresh {
		return current, false
	}

	h.integral += errVal
	h.integral = clampF64(h.integral, -h.tuning.MaxI, h.tuning.MaxI)

	adjust := h.tuning.KP*errVal + h.tuning.KI*h.integral

	next := current
	next.ExposureNs = clampI64(current.ExposureNs+int64(adjust*float64(current.ExposureNs)), h.tuning.ExposureMinNs, h.tuning.ExposureMaxNs)

	// Exposure alone ran out of headroom: push gain along the same
	// direction so the loop keeps converging instead of stalling.
	if next.ExposureNs == current.ExposureNs && adjust != 0 {
		newGain := float64(current.Gain) * (1 + adjust)
		next.Gain = float32(clampF64(newGain, h.tuning.GainMin, h.tuning.GainMax))
	}

	return next, true
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
