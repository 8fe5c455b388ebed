package ae

import (
	"testing"

	"camserver/config"
)

func darkPlane(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = 10
	}
	return p
}

func brightPlane(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = 250
	}
	return p
}

func TestExposureStateRoundTrip(t *testing.T) {
	s := NewExposureState(5_000_000, 2.5)
	exp, gain := s.Get()
	if exp != 5_000_000 || gain != 2.5 {
		t.Fatalf("Get() = (%d, %v), want (5000000, 2.5)", exp, gain)
	}
	s.Set(1_000_000, 1.0)
	exp, gain = s.Get()
	if exp != 1_000_000 || gain != 1.0 {
		t.Fatalf("Get() after Set = (%d, %v), want (1000000, 1.0)", exp, gain)
	}
}

func TestHistogramIncreasesExposureWhenDark(t *testing.T) {
	h := NewHistogram(config.HistogramTuning{
		DesiredMSV: 0.5, KP: 0.5, KI: 0.1, MaxI: 5,
		UpdatePeriod: 1, GoodThresh: 0.01,
		ExposureMinNs: 1000, ExposureMaxNs: 50_000_000,
		GainMin: 1, GainMax: 8,
	})
	current := ExpGain{ExposureNs: 10_000_000, Gain: 1}
	next, changed := h.Update(darkPlane(256), current)
	if !changed {
		t.Fatal("expected a change for a dark plane far from target")
	}
	if next.ExposureNs <= current.ExposureNs {
		t.Errorf("ExposureNs = %d, want > %d (dark plane should increase exposure)", next.ExposureNs, current.ExposureNs)
	}
}

func TestHistogramNoChangeWithinThreshold(t *testing.T) {
	h := NewHistogram(config.HistogramTuning{
		DesiredMSV: 10.0 / 255.0, KP: 0.5, KI: 0.1, MaxI: 5,
		UpdatePeriod: 1, GoodThresh: 0.5,
		ExposureMinNs: 1000, ExposureMaxNs: 50_000_000,
		GainMin: 1, GainMax: 8,
	})
	current := ExpGain{ExposureNs: 10_000_000, Gain: 1}
	next, changed := h.Update(darkPlane(256), current)
	if changed {
		t.Errorf("expected no change within threshold, got %+v", next)
	}
	if next != current {
		t.Errorf("unchanged update must return the current value unmodified")
	}
}

func TestHistogramRespectsUpdatePeriod(t *testing.T) {
	h := NewHistogram(config.HistogramTuning{
		DesiredMSV: 0.5, KP: 0.5, KI: 0.1, MaxI: 5,
		UpdatePeriod: 3, GoodThresh: 0.01,
		ExposureMinNs: 1000, ExposureMaxNs: 50_000_000,
		GainMin: 1, GainMax: 8,
	})
	current := ExpGain{ExposureNs: 10_000_000, Gain: 1}
	if _, changed := h.Update(darkPlane(256), current); changed {
		t.Error("frame 1 of 3 should not update")
	}
	if _, changed := h.Update(darkPlane(256), current); changed {
		t.Error("frame 2 of 3 should not update")
	}
	if _, changed := h.Update(darkPlane(256), current); !changed {
		t.Error("frame 3 of 3 should update")
	}
}

func TestMSVDecreasesExposureWhenBright(t *testing.T) {
	m := NewMSV(config.MSVTuning{
		Alpha: 1.0, IgnoreFraction: 0.05,
		ExposureSlope: 0.5, GainSlope: 0.5,
		ExposureUpdatePeriod: 1, GainUpdatePeriod: 1,
		GoodThresh:    0.01,
		ExposureMinNs: 1000, ExposureMaxNs: 50_000_000,
		GainMin: 1, GainMax: 8,
	})
	current := ExpGain{ExposureNs: 10_000_000, Gain: 1}
	next, changed := m.Update(brightPlane(256), current)
	if !changed {
		t.Fatal("expected a change for a bright plane far from target")
	}
	if next.ExposureNs >= current.ExposureNs {
		t.Errorf("ExposureNs = %d, want < %d (bright plane should decrease exposure)", next.ExposureNs, current.ExposureNs)
	}
}

func TestComputeMSVIgnoresSaturatedTail(t *testing.T) {
	plane := make([]byte, 1000)
	for i := 0; i < 900; i++ {
		plane[i] = 10
	}
	for i := 900; i < 1000; i++ {
		plane[i] = 255
	}
	withIgnore := computeMSV(plane, 0.1)
	withoutIgnore := computeMSV(plane, 0)
	if withIgnore >= withoutIgnore {
		t.Errorf("ignoring the saturated tail should lower the MSV: with=%.4f without=%.4f", withIgnore, withoutIgnore)
	}
}

func TestNewAlgorithmSelectsByMode(t *testing.T) {
	cam := config.CameraConfig{
		AEHistogram: config.HistogramTuning{UpdatePeriod: 1},
		AEMSV:       config.MSVTuning{ExposureUpdatePeriod: 1, GainUpdatePeriod: 1},
	}
	if _, ok := NewAlgorithm(config.AELmeHist, cam).(*Histogram); !ok {
		t.Error("AELmeHist should select Histogram")
	}
	if _, ok := NewAlgorithm(config.AELmeMSV, cam).(*MSV); !ok {
		t.Error("AELmeMSV should select MSV")
	}
	if NewAlgorithm(config.AEOff, cam) != nil {
		t.Error("AEOff should select no algorithm")
	}
	if NewAlgorithm(config.AEIsp, cam) != nil {
		t.Error("AEIsp should select no algorithm")
	}
}
