package depth

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

type fakeCounter struct {
	counts map[string]int
}

func (f *fakeCounter) NumSubscribers(channel string) int { return f.counts[channel] }

func samplePoints() []Point {
	return []Point{
		{X: 1, Y: 2, Z: 2.5, GrayValue: 1200, DepthConfidence: 200},
		{X: -1, Y: 0, Z: 10, GrayValue: 2895, DepthConfidence: 50}, // Z beyond 5m clamp, GrayValue at input ceiling
		{X: 0, Y: 0, Z: -1, GrayValue: 0, DepthConfidence: 0},      // negative Z clamps to 0
	}
}

func TestBuildIRRescalesToEightBit(t *testing.T) {
	out := buildIR(samplePoints())
	if out[1] != 255 {
		t.Errorf("GrayValue at input ceiling (2895) should rescale to 255, got %d", out[1])
	}
	if out[2] != 0 {
		t.Errorf("GrayValue 0 should rescale to 0, got %d", out[2])
	}
}

func TestBuildDepthClampsToFiveMeters(t *testing.T) {
	out := buildDepth(samplePoints())
	if out[1] != 255 {
		t.Errorf("Z=10 beyond 5m ceiling should clamp to 255, got %d", out[1])
	}
	if out[2] != 0 {
		t.Errorf("negative Z should clamp to 0, got %d", out[2])
	}
}

func TestBuildPointCloudInterleavesFloat32LE(t *testing.T) {
	pts := samplePoints()
	out := buildPointCloud(pts)
	if len(out) != len(pts)*12 {
		t.Fatalf("len = %d, want %d", len(out), len(pts)*12)
	}
	x := math.Float32frombits(binary.LittleEndian.Uint32(out[0:4]))
	if x != pts[0].X {
		t.Errorf("first float = %v, want %v", x, pts[0].X)
	}
}

func TestAdapterSkipsUnsubscribedChannels(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{}}
	a := NewAdapter("tof0", counter)
	out := a.Build(Frame{Points: samplePoints()})

	if out.IR != nil || out.Depth != nil || out.Confidence != nil || out.PointCloud != nil || out.Composite != nil {
		t.Error("no channel has subscribers; Build should return an empty Outputs")
	}
}

func TestAdapterBuildsOnlySubscribedChannel(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"tof0_ir": 1}}
	a := NewAdapter("tof0", counter)
	out := a.Build(Frame{Points: samplePoints()})

	if out.IR == nil {
		t.Error("tof0_ir has a subscriber; IR should be built")
	}
	if out.Depth != nil || out.Composite != nil {
		t.Error("no other channel has subscribers; Depth/Composite should stay nil")
	}
}

func TestAdapterCompositeSubscriberBuildsEverything(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{"tof0": 1}}
	a := NewAdapter("tof0", counter)
	out := a.Build(Frame{Points: samplePoints()})

	if out.IR == nil || out.Depth == nil || out.Confidence == nil || out.PointCloud == nil || out.Composite == nil {
		t.Error("composite subscriber should cause every packet to be built")
	}
}

func TestSimBridgeSubmitDeliversOneFramePerCall(t *testing.T) {
	b := NewSimBridge(4, 4)
	received := make(chan Frame, 8)
	b.SetCallback(func(f Frame) { received <- f })

	b.Submit([]byte{0x01}, 123, 7)

	select {
	case f := <-received:
		if f.FrameID != 7 {
			t.Errorf("FrameID = %d, want 7", f.FrameID)
		}
		if f.TimestampNs != 123 {
			t.Errorf("TimestampNs = %d, want 123", f.TimestampNs)
		}
		if len(f.Points) != 16 {
			t.Errorf("Points len = %d, want 16", len(f.Points))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the submitted frame")
	}
}

func TestSimBridgeCloseStopsDelivery(t *testing.T) {
	b := NewSimBridge(2, 2)
	received := make(chan Frame, 1)
	b.SetCallback(func(f Frame) { received <- f })
	if err := b.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}

	b.Submit([]byte{0x01}, 1, 1)
	select {
	case <-received:
		t.Fatal("Submit delivered a frame after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
