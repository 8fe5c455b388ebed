// Package ae implements the two software auto-exposure algorithms (§4.5):
// histogram-based PI control and mean-sample-value with low-pass filtering.
// Neither algorithm's real math is present anywhere in the retrieval pack
// — the original implementation delegates to an external vendor library —
// so both are built directly from the specification's prose description.
package ae

import (
	"math"
	"sync/atomic"

	"camserver/config"
)

// ExpGain is an (exposure, gain) pair, the unit AE algorithms and the
// ExposureState they feed operate on.
type ExpGain struct {
	ExposureNs int64
	Gain       float32
}

// Algorithm consumes a luminance plane and the currently-applied exposure
// and gain, returning the next (exposure, gain) and whether it actually
// changed (good-threshold suppresses churn, §4.5).
type Algorithm interface {
	Update(luminance []byte, current ExpGain) (ExpGain, bool)
}

// ExposureState is the per-pipeline, mutex-free (atomics) holder of the
// exposure/gain to apply to the next request. Writers are AutoExposure and
// ControlChannel; the RequestLoop is the sole reader. Stereo AE mirroring
// (§4.5, §9) writes here directly as a one-way, lock-free channel from
// master to slave.
type ExposureState struct {
	exposureNs atomic.Int64
	gainBits   atomic.Uint32
}

// NewExposureState seeds the state with an initial exposure/gain.
func NewExposureState(exposureNs int64, gain float32) *ExposureState {
	s := &ExposureState{}
	s.Set(exposureNs, gain)
	return s
}

// Set atomically updates both fields.
func (s *ExposureState) Set(exposureNs int64, gain float32) {
	s.exposureNs.Store(exposureNs)
	s.gainBits.Store(math.Float32bits(gain))
}

// Get atomically reads both fields.
func (s *ExposureState) Get() (int64, float32) {
	return s.exposureNs.Load(), math.Float32frombits(s.gainBits.Load())
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func meanBrightness(luminance []byte) float64 {
	if len(luminance) == 0 {
		return 0
	}
	var sum int64
	for _, b := range luminance {
		sum += int64(b)
	}
	return float64(sum) / float64(len(luminance)) / 255.0
}

// NewAlgorithm builds the configured software AE algorithm for a camera, or
// nil for AEOff/AEIsp (hardware/no-op modes).
func NewAlgorithm(mode config.AEMode, cam config.CameraConfig) Algorithm {
	switch mode {
	case config.AELmeHist:
		return NewHistogram(cam.AEHistogram)
	case config.AELmeMSV:
		return NewMSV(cam.AEMSV)
	default:
		return nil
	}
}
