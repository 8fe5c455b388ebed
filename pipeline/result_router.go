package pipeline

import (
	"go.uber.org/zap"

	"camserver/buffer"
	"camserver/hal"
	"camserver/metadata"
)

// resultItem is one returned buffer, queued by the HAL callback for
// ProcessingWorker to consume (§4.2).
type resultItem struct {
	sequence uint64
	stream   hal.StreamID
	handle   buffer.Handle
}

// callbacks builds the hal.Callbacks message-passing boundary: OnBuffer
// enqueues onto resultQueue, OnMetadata stores into the metadata ring under
// the ring's own mutex, and OnNotify escalates device errors through p.fail,
// which reaches the server's emergency-stop handler and its lock.
func (p *CameraPipeline) callbacks() hal.Callbacks {
	return hal.Callbacks{
		OnMetadata: p.onMetadata,
		OnBuffer:   p.onBuffer,
		OnNotify:   p.onNotify,
	}
}

// onMetadata implements the metadata-partial callback of §4.2.
func (p *CameraPipeline) onMetadata(seq uint64, timestampNs int64, exposureActualNs int64, gainActual float32) {
	p.metaRing.Put(seq, metadata.Frame{
		FrameID:     seq,
		TimestampNs: timestampNs,
		ExposureNs:  exposureActualNs,
		Gain:        gainActual,
		Framerate:   uint32(p.cfg.FrameRate),
	})
}

// onBuffer implements the buffer-return callback of §4.2: a non-blocking
// enqueue with a drop-and-count fallback so a slow ProcessingWorker can
// never stall the HAL's own goroutine.
func (p *CameraPipeline) onBuffer(seq uint64, stream hal.StreamID, h buffer.Handle) {
	select {
	case p.resultQueue <- resultItem{sequence: seq, stream: stream, handle: h}:
	default:
		p.droppedResults.Add(1)
		if pool, ok := p.pools[stream]; ok {
			pool.Release(h)
		}
		p.logger.Warn("result queue full, dropping buffer",
			zap.String("pipeline", p.cfg.Name), zap.Uint64("sequence", seq), zap.Int("stream", int(stream)))
	}
}

// onNotify implements the HAL error-notify callback of §4.2: a device
// error is fatal and triggers emergency stop; other kinds are logged.
func (p *CameraPipeline) onNotify(kind hal.ErrorKind, err error) {
	if kind == hal.ErrorDevice {
		p.fail("hal_fatal", err)
		return
	}
	p.logger.Warn("hal_notify", zap.String("pipeline", p.cfg.Name), zap.String("kind", kind.String()), zap.Error(err))
}
