package ae

import (
	"sync"

	"camserver/config"
)

const msvTargetMean = 0.5

// MSV implements the mean-sample-value AE algorithm: a weighted brightness
// statistic over a partitioned histogram, ignoring the most-saturated
// fraction of samples, low-pass-filtered via alpha, moved along separately
// tunable exposure/gain slopes on separately tunable update periods.
type MSV struct {
	tuning config.MSVTuning

	mu               sync.Mutex
	filtered         float64
	initialized      bool
	exposureFrameCnt int
	gainFrameCnt     int
}

// NewMSV builds an MSV algorithm from its tuning parameters.
func NewMSV(t config.MSVTuning) *MSV {
	return &MSV{tuning: t}
}

// Update implements Algorithm.
func (m *MSV) Update(luminance []byte, current ExpGain) (ExpGain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw := computeMSV(luminance, m.tuning.IgnoreFraction)
	if !m.initialized {
		m.filtered = raw
		m.initialized = true
	} else {
		alpha := m.tuning.Alpha
		if alpha <= 0 || alpha > 1 {
			alpha = 1
		}
		m.filtered = alpha*raw + (1-alpha)*m.filtered
	}

	errVal := msvTargetMean - m.filtered
	if absF(errVal) < m.tuning.GoodThresh {
		m.exposureFrameCnt++
		m.gainFrameCnt++
		return current, false
	}

	next := current
	changed := false

	m.exposureFrameCnt++
	expPeriod := m.tuning.ExposureUpdatePeriod
	if expPeriod < 1 {
		expPeriod = 1
	}
	if m.exposureFrameCnt%expPeriod == 0 {
		adjust := errVal * m.tuning.ExposureSlope
		next.ExposureNs = clampI64(current.ExposureNs+int64(adjust*float64(current.ExposureNs)), m.tuning.ExposureMinNs, m.tuning.ExposureMaxNs)
		changed = changed || next.ExposureNs != current.ExposureNs
	}

	m.gainFrameCnt++
	gainPeriod := m.tuning.GainUpdatePeriod
	if gainPeriod < 1 {
		gainPeriod = 1
	}
	if m.gainFrameCnt%gainPeriod == 0 {
		adjust := errVal * m.tuning.GainSlope
		newGain := float64(current.Gain) * (1 + adjust)
		next.Gain = float32(clampF64(newGain, m.tuning.GainMin, m.tuning.GainMax))
		changed = changed || next.Gain != current.Gain
	}

	return next, changed
}

// computeMSV partitions the luminance samples into 32 histogram bins,
// drops ignoreFraction of the samples, taking them from the brightest bins
// first, and returns the
// weighted mean of what remains, normalized to [0, 1].
func computeMSV(luminance []byte, ignoreFraction float64) float64 {
	const bins = 32
	var hist [bins]int
	for _, b := range luminance {
		hist[int(b)*bins/256]++
	}

	total := len(luminance)
	if total == 0 {
		return 0
	}

	ignoreFraction = clampF64(ignoreFraction, 0, 0.99)
	ignoreCount := int(float64(total) * ignoreFraction)

	// Drop the brightest bins first until the ignore budget is spent.
	remaining := make([]int, bins)
	copy(remaining, hist[:])
	dropped := 0
	for i := bins - 1; i >= 0 && dropped < ignoreCount; i-- {
		take := remaining[i]
		if dropped+take > ignoreCount {
			take = ignoreCount - dropped
		}
		remaining[i] -= take
		dropped += take
	}

	var weightedSum, count float64
	for i, c := range remaining {
		if c == 0 {
			continue
		}
		binCenter := (float64(i) + 0.5) / bins
		weightedSum += binCenter * float64(c)
		count += float64(c)
	}
	if count == 0 {
		return 0
	}
	return weightedSum / count
}
