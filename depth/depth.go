// Package depth implements the ToF post-processing adapter (§4.8):
// receives post-processed depth callbacks from the vendor depth bridge and
// fans out IR, depth, confidence, point-cloud, and composite packets,
// grounded on original_source's RoyaleDataDone callback.
package depth

import (
	"encoding/binary"
	"math"
)

const (
	maxIRValueIn  = 2895 // 12-bit input ceiling
	maxIRValueOut = 256  // 8-bit output ceiling
	maxDepthMeters = 5.0
)

// Point is one ToF sample as delivered by the depth bridge.
type Point struct {
	X, Y, Z         float32
	GrayValue       uint16 // 12-bit, [0, 2895]
	DepthConfidence uint8
	Noise           float32
}

// Frame is one callback's worth of points plus its timestamp.
type Frame struct {
	TimestampNs int64
	FrameID     uint64
	Width       int
	Height      int
	Points      []Point
}

// Bridge is the capability interface the vendor depth sensor satisfies;
// out of scope per §1. SimBridge is this module's concrete stand-in. Submit
// hands the bridge one raw preview buffer to turn into a Frame callback; the
// caller (CameraPipeline.processToFPreview) is responsible for the
// standby-gated decimation decision of §4.3 and only calls Submit on frames
// that pass it.
type Bridge interface {
	SetCallback(func(Frame))
	Submit(raw []byte, timestampNs int64, frameID uint64)
	Close() error
}

// SubscriberCounter reports whether a named channel currently has
// subscribers, so Adapter can skip building packets nobody will receive.
type SubscriberCounter interface {
	NumSubscribers(channel string) int
}

// Outputs is the five post-processed packets Adapter builds from one Frame,
// each only populated when its corresponding channel has subscribers.
type Outputs struct {
	IR         []byte // grayscale 8-bit, width*height
	Depth      []byte // grayscale 8-bit, width*height
	Confidence []byte // 8-bit, width*height
	PointCloud []byte // interleaved float32 (x,y,z) little-endian
	Composite  []byte // the four outputs above, each preceded by a 4-byte little-endian length
}

// Adapter builds Outputs from a depth.Frame, gating each output on whether
// its publisher currently has subscribers (§4.8).
type Adapter struct {
	channelIR, channelDepth, channelConf, channelPC, channelComposite string
	subs                                                              SubscriberCounter
}

// NewAdapter builds an Adapter whose channel names are derived from the
// camera name per §6 (<name>_ir, <name>_depth, <name>_conf, <name>_pc,
// <name>).
func NewAdapter(cameraName string, subs SubscriberCounter) *Adapter {
	return &Adapter{
		channelIR:        cameraName + "_ir",
		channelDepth:     cameraName + "_depth",
		channelConf:      cameraName + "_conf",
		channelPC:        cameraName + "_pc",
		channelComposite: cameraName,
		subs:             subs,
	}
}

// Build produces only the outputs whose channel currently has subscribers.
func (a *Adapter) Build(f Frame) Outputs {
	var out Outputs
	wantComposite := a.subs.NumSubscribers(a.channelComposite) > 0

	if wantComposite || a.subs.NumSubscribers(a.channelIR) > 0 {
		out.IR = buildIR(f.Points)
	}
	if wantComposite || a.subs.NumSubscribers(a.channelDepth) > 0 {
		out.Depth = buildDepth(f.Points)
	}
	if wantComposite || a.subs.NumSubscribers(a.channelConf) > 0 {
		out.Confidence = buildConfidence(f.Points)
	}
	if wantComposite || a.subs.NumSubscribers(a.channelPC) > 0 {
		out.PointCloud = buildPointCloud(f.Points)
	}
	if wantComposite {
		out.Composite = buildComposite(f, out)
	}
	return out
}

// buildIR rescales grayValue from 12-bit [0, 2895] to 8-bit.
func buildIR(points []Point) []byte {
	out := make([]byte, len(points))
	for i, p := range points {
		v := int(p.GrayValue) * maxIRValueOut / maxIRValueIn
		if v > 255 {
			v = 255
		}
		out[i] = byte(v)
	}
	return out
}

// buildDepth clamps z to [0, 5m] and rescales to 8-bit.
func buildDepth(points []Point) []byte {
	out := make([]byte, len(points))
	for i, p := range points {
		z := float64(p.Z)
		if z < 0 {
			z = 0
		}
		if z > maxDepthMeters {
			z = maxDepthMeters
		}
		out[i] = byte((z / maxDepthMeters) * 255)
	}
	return out
}

func buildConfidence(points []Point) []byte {
	out := make([]byte, len(points))
	for i, p := range points {
		out[i] = p.DepthConfidence
	}
	return out
}

// buildPointCloud interleaves (x, y, z) as little-endian float32 triples.
func buildPointCloud(points []Point) []byte {
	out := make([]byte, len(points)*3*4)
	o := 0
	for _, p := range points {
		binary.LittleEndian.PutUint32(out[o:], math.Float32bits(p.X))
		o += 4
		binary.LittleEndian.PutUint32(out[o:], math.Float32bits(p.Y))
		o += 4
		binary.LittleEndian.PutUint32(out[o:], math.Float32bits(p.Z))
		o += 4
	}
	return out
}

// buildComposite concatenates IR + Depth + Confidence + PointCloud, each
// length-prefixed, matching the original tof_data_t composite struct shape.
func buildComposite(f Frame, out Outputs) []byte {
	ir := out.IR
	if ir == nil {
		ir = buildIR(f.Points)
	}
	depth := out.Depth
	if depth == nil {
		depth = buildDepth(f.Points)
	}
	conf := out.Confidence
	if conf == nil {
		conf = buildConfidence(f.Points)
	}
	pc := out.PointCloud
	if pc == nil {
		pc = buildPointCloud(f.Points)
	}

	buf := make([]byte, 0, 16+len(ir)+len(depth)+len(conf)+len(pc))
	var lenBuf [4]byte
	appendSection := func(section []byte) {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(section)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, section...)
	}
	appendSection(ir)
	appendSection(depth)
	appendSection(conf)
	appendSection(pc)
	return buf
}
