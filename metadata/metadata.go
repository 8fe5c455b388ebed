// Package metadata defines the per-frame metadata schema published
// alongside every frame (§6 EXTERNAL INTERFACES) and the bounded ring
// buffer the ResultRouter parks partial metadata in until the
// ProcessingWorker joins it with returned buffers.
package metadata

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies this wire version of the metadata schema.
const Magic uint32 = 0x43414d31 // "CAM1"

// FormatCode tags the pixel/encoded format of the payload that follows a
// metadata packet.
type FormatCode uint16

const (
	FormatRAW8 FormatCode = iota
	FormatNV12
	FormatNV21
	FormatH264
	FormatH265
	FormatJPG
	FormatStereoRaw8
	FormatStereoNV12
)

func (f FormatCode) String() string {
	switch f {
	case FormatRAW8:
		return "RAW8"
	case FormatNV12:
		return "NV12"
	case FormatNV21:
		return "NV21"
	case FormatH264:
		return "H264"
	case FormatH265:
		return "H265"
	case FormatJPG:
		return "JPG"
	case FormatStereoRaw8:
		return "StereoRaw8"
	case FormatStereoNV12:
		return "StereoNV12"
	default:
		return "Invalid"
	}
}

// WireSize is the packed little-endian encoded size in bytes.
const WireSize = 4 + 8 + 8 + 4 + 8 + 2 + 4 + 4 + 4 + 4 + 4

// Frame is the per-frame metadata schema: {magic_number, frame_id,
// timestamp_ns, gain, exposure_ns, format_code, width, height, stride,
// size_bytes, framerate}.
type Frame struct {
	FrameID     uint64
	TimestampNs int64
	Gain        float32
	ExposureNs  int64
	Format      FormatCode
	Width       uint32
	Height      uint32
	Stride      uint32
	SizeBytes   uint32
	Framerate   uint32
}

// SentinelSequence marks encoder packets carrying codec parameters (SPS/PPS)
// rather than a frame payload; they do not consume a metadata-ring entry.
const SentinelSequence = ^uint64(0)

// Encode packs f into its little-endian wire representation.
func Encode(f Frame) []byte {
	b := make([]byte, WireSize)
	o := 0
	binary.LittleEndian.PutUint32(b[o:], Magic)
	o += 4
	binary.LittleEndian.PutUint64(b[o:], f.FrameID)
	o += 8
	binary.LittleEndian.PutUint64(b[o:], uint64(f.TimestampNs))
	o += 8
	binary.LittleEndian.PutUint32(b[o:], float32bits(f.Gain))
	o += 4
	binary.LittleEndian.PutUint64(b[o:], uint64(f.ExposureNs))
	o += 8
	binary.LittleEndian.PutUint16(b[o:], uint16(f.Format))
	o += 2
	binary.LittleEndian.PutUint32(b[o:], f.Width)
	o += 4
	binary.LittleEndian.PutUint32(b[o:], f.Height)
	o += 4
	binary.LittleEndian.PutUint32(b[o:], f.Stride)
	o += 4
	binary.LittleEndian.PutUint32(b[o:], f.SizeBytes)
	o += 4
	binary.LittleEndian.PutUint32(b[o:], f.Framerate)
	return b
}

// Decode unpacks a wire metadata record, validating the magic number.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if len(b) < WireSize {
		return f, fmt.Errorf("metadata: short buffer (%d bytes, want %d)", len(b), WireSize)
	}
	o := 0
	magic := binary.LittleEndian.Uint32(b[o:])
	if magic != Magic {
		return f, fmt.Errorf("metadata: bad magic 0x%x (want 0x%x)", magic, Magic)
	}
	o += 4
	f.FrameID = binary.LittleEndian.Uint64(b[o:])
	o += 8
	f.TimestampNs = int64(binary.LittleEndian.Uint64(b[o:]))
	o += 8
	f.Gain = float32frombits(binary.LittleEndian.Uint32(b[o:]))
	o += 4
	f.ExposureNs = int64(binary.LittleEndian.Uint64(b[o:]))
	o += 8
	f.Format = FormatCode(binary.LittleEndian.Uint16(b[o:]))
	o += 2
	f.Width = binary.LittleEndian.Uint32(b[o:])
	o += 4
	f.Height = binary.LittleEndian.Uint32(b[o:])
	o += 4
	f.Stride = binary.LittleEndian.Uint32(b[o:])
	o += 4
	f.SizeBytes = binary.LittleEndian.Uint32(b[o:])
	o += 4
	f.Framerate = binary.LittleEndian.Uint32(b[o:])
	return f, nil
}
