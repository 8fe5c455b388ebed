package depth

import (
	"sync"
	"sync/atomic"
)

// SimBridge is a synthetic stand-in for the vendor depth sensor bridge: it
// holds no frame cadence of its own and instead synthesizes one Frame per
// Submit call, so the decimation decision of §4.3/§4.8 lives entirely in the
// caller.
type SimBridge struct {
	width, height int

	mu       sync.Mutex
	callback func(Frame)

	closed atomic.Bool
}

// NewSimBridge builds a SimBridge that synthesizes width*height points per
// delivered Frame.
func NewSimBridge(width, height int) *SimBridge {
	return &SimBridge{width: width, height: height}
}

// SetCallback implements Bridge.
func (b *SimBridge) SetCallback(cb func(Frame)) {
	b.mu.Lock()
	b.callback = cb
	b.mu.Unlock()
}

// Submit implements Bridge: raw is ignored beyond its presence (this is a
// simulator, not a decoder), but timestampNs/frameID are threaded through so
// the delivered Frame lines up with the preview frame that triggered it.
func (b *SimBridge) Submit(raw []byte, timestampNs int64, frameID uint64) {
	if b.closed.Load() {
		return
	}
	b.mu.Lock()
	cb := b.callback
	b.mu.Unlock()
	if cb != nil {
		cb(b.synthesize(timestampNs, frameID))
	}
}

// synthesize fabricates a plausible depth scene: a flat plane at 2m with
// constant high confidence and gray values proportional to inverse distance.
func (b *SimBridge) synthesize(timestampNs int64, frameID uint64) Frame {
	points := make([]Point, b.width*b.height)
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			i := y*b.width + x
			points[i] = Point{
				X:               float32(x-b.width/2) * 0.01,
				Y:               float32(y-b.height/2) * 0.01,
				Z:               2.0,
				GrayValue:       1200,
				DepthConfidence: 200,
			}
		}
	}
	return Frame{
		TimestampNs: timestampNs,
		FrameID:     frameID,
		Width:       b.width,
		Height:      b.height,
		Points:      points,
	}
}

// Close implements Bridge.
func (b *SimBridge) Close() error {
	b.closed.Store(true)
	return nil
}
