package hal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SimDevice is a software stand-in for a real camera HAL: a goroutine per
// submitted request synthesizes a plausible payload for each targeted
// stream after one frame period and delivers it through the same
// non-blocking callback boundary a real HAL would use. This mirrors the
// teacher's GStreamer-subprocess capture loop's "produce frames, hand them
// across a boundary, never block the producer" discipline, adapted from a
// process boundary to a HAL-callback boundary.
type SimDevice struct {
	streams     map[StreamID]StreamSpec
	framePeriod time.Duration
	cb          Callbacks
	raw10IsTrue10Bit bool

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewSimDevice builds a simulator for the given stream geometry and frame
// rate. raw10IsTrue10Bit controls whether synthesized RAW10 frames carry a
// non-zero tail row (exercising the "truly 10-bit" branch of the
// ProcessingWorker's one-time heuristic, §4.3/§9) or an all-zero one (the
// "actually 8-bit" branch).
func NewSimDevice(streams map[StreamID]StreamSpec, frameRate int, cb Callbacks, raw10IsTrue10Bit bool) *SimDevice {
	if frameRate <= 0 {
		frameRate = 30
	}
	return &SimDevice{
		streams:          streams,
		framePeriod:      time.Second / time.Duration(frameRate),
		cb:               cb,
		raw10IsTrue10Bit: raw10IsTrue10Bit,
	}
}

// SubmitRequest synthesizes the requested buffers asynchronously, the way a
// real HAL would fill and return them on its own thread.
func (d *SimDevice) SubmitRequest(req CaptureRequest) error {
	if d.closed.Load() {
		return fmt.Errorf("hal: device closed")
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(d.framePeriod)
		defer timer.Stop()
		<-timer.C
		if d.closed.Load() {
			return
		}

		ts := time.Now().UnixNano()
		for stream, h := range req.Buffers {
			spec, ok := d.streams[stream]
			if !ok {
				continue
			}
			d.fillSynthetic(h.Bytes(), spec, req.Sequence)
		}

		d.cb.OnMetadata(req.Sequence, ts, req.ExposureNs, req.Gain)
		for stream, h := range req.Buffers {
			d.cb.OnBuffer(req.Sequence, stream, h)
		}
	}()
	return nil
}

// Close waits for in-flight synthesis goroutines to finish and stops
// accepting new requests.
func (d *SimDevice) Close() error {
	d.closed.Store(true)
	d.wg.Wait()
	return nil
}

func (d *SimDevice) fillSynthetic(buf []byte, spec StreamSpec, seq uint64) {
	pixelValue := byte(seq%200 + 20)
	switch spec.Format {
	case PixelRAW10:
		fillRaw10(buf, spec.Width, spec.Height, pixelValue, d.raw10IsTrue10Bit)
	case PixelRAW8:
		for i := range buf {
			buf[i] = pixelValue
		}
	case PixelNV12, PixelNV21:
		ySize := spec.Width * spec.Height
		for i := 0; i < ySize && i < len(buf); i++ {
			buf[i] = pixelValue
		}
		for i := ySize; i < len(buf); i++ {
			buf[i] = 128
		}
	case PixelBlobJPEG:
		fillJPEGBlob(buf, pixelValue)
	case PixelTOF:
		for i := range buf {
			buf[i] = pixelValue
		}
	}
}

// fillRaw10 writes a MIPI RAW10-packed payload (4 pixels per 5 bytes). The
// last row is the heuristic tail row ProcessingWorker examines once (§9):
// non-zero when the sensor is truly 10-bit, all-zero when an 8-bit sensor
// is merely routed through a 10-bit-shaped path.
func fillRaw10(buf []byte, width, height int, pixelValue byte, true10bit bool) {
	rowBytes := width * 5 / 4
	for row := 0; row < height; row++ {
		start := row * rowBytes
		end := start + rowBytes
		if end > len(buf) {
			end = len(buf)
		}
		isTailRow := row == height-1
		for i := start; i < end; i++ {
			if isTailRow && !true10bit {
				buf[i] = 0
				continue
			}
			if (i+1)%5 == 0 {
				// low-bits byte: non-zero only for a true 10-bit tail row,
				// otherwise a small deterministic low-bit pattern.
				if isTailRow {
					buf[i] = 0x01
				} else {
					buf[i] = pixelValue & 0x03
				}
			} else {
				buf[i] = pixelValue
			}
		}
	}
}

// fillJPEGBlob embeds a minimal SOI/EOI-delimited JPEG inside a larger BLOB
// buffer, the way the vendor HAL returns a fixed-size snapshot buffer with
// the actual JPEG somewhere inside it (§4.3 snapshot extraction).
func fillJPEGBlob(buf []byte, pixelValue byte) {
	for i := range buf {
		buf[i] = 0
	}
	if len(buf) < 8 {
		return
	}
	buf[0], buf[1] = 0xFF, 0xD8 // SOI
	body := buf[2 : len(buf)-2]
	for i := range body {
		body[i] = pixelValue
	}
	buf[len(buf)-2], buf[len(buf)-1] = 0xFF, 0xD9 // EOI
}
