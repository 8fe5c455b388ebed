// Package hal abstracts the platform's low-level camera abstraction layer:
// accepts capture requests, returns (metadata, buffers) via a
// non-blocking, message-passing callback boundary (§9). The real HAL and
// vendor depth bridge are out of scope (§1); SimDevice is the concrete
// implementation this module ships so the pipeline runs and is testable
// without target hardware.
package hal

import "camserver/buffer"

// StreamID identifies one of a camera's up-to-four streams.
type StreamID int

const (
	StreamPreview StreamID = iota
	StreamSmallVideo
	StreamLargeVideo
	StreamSnapshot
)

func (s StreamID) String() string {
	switch s {
	case StreamPreview:
		return "preview"
	case StreamSmallVideo:
		return "small_video"
	case StreamLargeVideo:
		return "large_video"
	case StreamSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// PixelFormat is the HAL-reported format of a stream's raw payload.
type PixelFormat int

const (
	PixelRAW8 PixelFormat = iota
	PixelRAW10
	PixelNV12
	PixelNV21
	PixelBlobJPEG
	PixelTOF
)

// StreamSpec describes one stream's negotiated geometry.
type StreamSpec struct {
	Width  int
	Height int
	Format PixelFormat
}

// CaptureRequest is submitted by the RequestLoop for one frame; Buffers maps
// each targeted stream to the pool buffer it should be filled into.
type CaptureRequest struct {
	Sequence   uint64
	Buffers    map[StreamID]buffer.Handle
	ExposureNs int64
	Gain       float32
}

// ErrorKind classifies a HAL notify-callback error (§4.2, §7).
type ErrorKind int

const (
	ErrorDevice ErrorKind = iota
	ErrorRequest
	ErrorResult
	ErrorBuffer
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorDevice:
		return "device"
	case ErrorRequest:
		return "request"
	case ErrorResult:
		return "result"
	case ErrorBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// MetadataCallback delivers a partial result: sensor timestamp and the
// exposure/gain actually applied, keyed by request sequence. Must be
// non-blocking.
type MetadataCallback func(seq uint64, timestampNs int64, exposureActualNs int64, gainActual float32)

// BufferCallback delivers one returned buffer for one stream of a request.
// Must be non-blocking.
type BufferCallback func(seq uint64, stream StreamID, h buffer.Handle)

// NotifyCallback reports a HAL error. Must be non-blocking.
type NotifyCallback func(kind ErrorKind, err error)

// Callbacks bundles the three callback kinds a Device invokes.
type Callbacks struct {
	OnMetadata MetadataCallback
	OnBuffer   BufferCallback
	OnNotify   NotifyCallback
}

// Device is the capability interface the RequestLoop drives. A real
// implementation wraps vendor HAL3/libcamera bindings; SimDevice is the
// software stand-in this module ships.
type Device interface {
	// SubmitRequest hands one capture request to the device. Returns an
	// error only on a device-level fault (the caller must treat this as
	// grounds for emergency-stop, §4.1).
	SubmitRequest(req CaptureRequest) error
	// Close releases the device. Outstanding requests are abandoned.
	Close() error
}
