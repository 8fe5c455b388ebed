package encoder

import (
	"testing"

	"camserver/buffer"
	"camserver/metadata"
)

type fakeSink struct {
	pending      int
	submitted    []uint64
	submitErr    error
	outputCh     chan Packet
}

func newFakeSink() *fakeSink {
	return &fakeSink{outputCh: make(chan Packet, 4)}
}

func (f *fakeSink) Submit(seq uint64, meta metadata.Frame, h buffer.Handle) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, seq)
	return nil
}
func (f *fakeSink) Pending() int           { return f.pending }
func (f *fakeSink) Output() <-chan Packet  { return f.outputCh }
func (f *fakeSink) Close() error           { close(f.outputCh); return nil }

func TestFeederAcceptsBelowThreshold(t *testing.T) {
	pool := buffer.NewPool(1, 16, buffer.NewIONAllocator())
	sink := newFakeSink()
	sink.pending = 0
	released := false
	f := NewFeeder(sink, 1, func(h buffer.Handle) { released = true; pool.Release(h) })

	h, _ := pool.TryAcquire()
	accepted, err := f.Feed(1, metadata.Frame{}, h)
	if err != nil || !accepted {
		t.Fatalf("Feed() = (%v, %v), want (true, nil)", accepted, err)
	}
	if !released {
		t.Error("buffer was not released after Submit")
	}
	if len(sink.submitted) != 1 || sink.submitted[0] != 1 {
		t.Errorf("submitted = %v, want [1]", sink.submitted)
	}
}

func TestFeederDropsAtOrAboveThreshold(t *testing.T) {
	pool := buffer.NewPool(1, 16, buffer.NewIONAllocator())
	sink := newFakeSink()
	sink.pending = 2
	released := false
	f := NewFeeder(sink, 2, func(h buffer.Handle) { released = true; pool.Release(h) })

	h, _ := pool.TryAcquire()
	accepted, err := f.Feed(1, metadata.Frame{}, h)
	if err != nil || accepted {
		t.Fatalf("Feed() = (%v, %v), want (false, nil)", accepted, err)
	}
	if !released {
		t.Error("dropped buffer must still be released")
	}
	if len(sink.submitted) != 0 {
		t.Errorf("submitted = %v, want empty (frame should have been dropped)", sink.submitted)
	}
}

func TestSplitAnnexBAndParameterSetDetection(t *testing.T) {
	sps := append(append([]byte{}, h264StartCode...), 0x67, 0xAA)
	idr := append(append([]byte{}, h264StartCode...), 0x65, 0xBB, 0xCC)
	buf := append(append([]byte{}, sps...), idr...)

	nals := splitAnnexB(buf)
	if len(nals) != 2 {
		t.Fatalf("splitAnnexB returned %d NALs, want 2", len(nals))
	}
	if !isParameterSetNAL(nals[0]) {
		t.Error("first NAL (type 7, SPS) should be detected as a parameter set")
	}
	if isParameterSetNAL(nals[1]) {
		t.Error("second NAL (type 5, IDR) should not be a parameter set")
	}
}
