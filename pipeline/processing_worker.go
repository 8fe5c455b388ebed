package pipeline

import (
	"bytes"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"camserver/ae"
	"camserver/config"
	"camserver/encoder"
	"camserver/hal"
	"camserver/metadata"
)

// runProcessingWorker implements §4.3: dequeue buffers, join with metadata,
// repack/publish, recycle. It exits once resultQueue is closed and drained;
// Stop closes the queue after closing the device, which abandons requests
// still in flight (pipeline.go's Stop).
func (p *CameraPipeline) runProcessingWorker() {
	defer p.wg.Done()

	for item := range p.resultQueue {
		p.process(item)
	}
}

func (p *CameraPipeline) process(item resultItem) {
	meta, ok := p.metaRing.Get(item.sequence)
	if !ok {
		p.logger.Warn("metadata missing for returned buffer, dropping",
			zap.String("pipeline", p.cfg.Name), zap.Uint64("sequence", item.sequence))
		p.pools[item.stream].Release(item.handle)
		return
	}

	switch item.stream {
	case hal.StreamPreview:
		p.processPreview(item, meta)
	case hal.StreamSmallVideo:
		p.processVideo(item, meta, p.cfg.SmallVideo, p.channels.smallGrey, p.channels.smallColor, p.channels.smallH264, p.smallFeeder)
	case hal.StreamLargeVideo:
		p.processVideo(item, meta, p.cfg.LargeVideo, p.channels.largeGrey, p.channels.largeColor, p.channels.largeH264, p.largeFeeder)
	case hal.StreamSnapshot:
		p.processSnapshot(item, meta)
	}
}

// processPreview implements §4.3's Preview handling, including the
// stereo master/slave branches of §4.6 and the ToF decimator branch.
func (p *CameraPipeline) processPreview(item resultItem, meta metadata.Frame) {
	buf := item.handle.Bytes()

	if p.cfg.Type.IsToF() {
		p.processToFPreview(item, meta)
		return
	}

	isColor := p.cfg.Type.IsColor()
	var y, uv []byte
	if p.streams[hal.StreamPreview].Format == hal.PixelRAW10 {
		y = p.convertOrPassThroughRaw10(buf, p.cfg.Preview.Width, p.cfg.Preview.Height)
		meta.Format = metadata.FormatRAW8
	} else {
		ySize := p.cfg.Preview.Width * p.cfg.Preview.Height
		if ySize > len(buf) {
			ySize = len(buf)
		}
		y = buf[:ySize]
		uv = buf[ySize:]
		meta.Format = metadata.FormatNV12
	}
	meta.Width = uint32(p.cfg.Preview.Width)
	meta.Height = uint32(p.cfg.Preview.Height)

	if p.isStereoSlave {
		p.runStereoSlave(meta, y)
		p.pools[hal.StreamPreview].Release(item.handle)
		return
	}

	p.publishGreyAndColor(p.channels.grey, p.channels.color, meta, y, uv, isColor)
	p.feedAutoExposure(y)

	if p.isStereoMaster {
		p.runStereoMaster(meta, y, uv, isColor)
	}

	p.pools[hal.StreamPreview].Release(item.handle)
}

// convertOrPassThroughRaw10 implements the one-time heuristic of §4.3/§9:
// the decision made on the first frame is never revisited.
func (p *CameraPipeline) convertOrPassThroughRaw10(buf []byte, width, height int) []byte {
	if !p.raw10Decided.Load() {
		p.raw10IsTrue10Bit.Store(tailRowIsNonZero(buf, width, height))
		p.raw10Decided.Store(true)
	}
	if p.raw10IsTrue10Bit.Load() {
		return convertRaw10ToRaw8InPlace(buf, width, height)
	}
	// "Actually 8-bit": the sensor never populated the RAW10 packing, so
	// the first width*height bytes already hold the real pixel data.
	size := width * height
	if size > len(buf) {
		size = len(buf)
	}
	return buf[:size]
}

func tailRowIsNonZero(buf []byte, width, height int) bool {
	rowBytes := width * 5 / 4
	start := (height - 1) * rowBytes
	if start < 0 || start >= len(buf) {
		return false
	}
	end := start + rowBytes
	if end > len(buf) {
		end = len(buf)
	}
	for _, b := range buf[start:end] {
		if b != 0 {
			return true
		}
	}
	return false
}

// convertRaw10ToRaw8InPlace drops every fifth byte of a MIPI RAW10 payload
// (5 bytes per 4 pixels), compacting left-to-right; safe in place because
// the destination index never exceeds the source index.
func convertRaw10ToRaw8InPlace(buf []byte, width, height int) []byte {
	rowBytesIn := width * 5 / 4
	dst := 0
	for row := 0; row < height; row++ {
		rowStart := row * rowBytesIn
		for i := 0; i < width; i++ {
			srcGroup := rowStart + (i/4)*5
			srcIdx := srcGroup + (i % 4)
			if srcIdx >= len(buf) {
				break
			}
			buf[dst] = buf[srcIdx]
			dst++
		}
	}
	return buf[:dst]
}

func (p *CameraPipeline) publishGreyAndColor(greyChan, colorChan string, meta metadata.Frame, y, uv []byte, isColor bool) {
	meta.SizeBytes = uint32(len(y))
	if greyChan != "" {
		if err := p.registry.Channel(greyChan).Write(meta, metadata.Encode(meta), y); err != nil {
			p.logger.Debug("publish failed", zap.String("channel", greyChan), zap.Error(err))
		}
	}
	if isColor && colorChan != "" && len(uv) > 0 {
		colorMeta := meta
		colorMeta.Format = metadata.FormatNV12
		colorMeta.SizeBytes = uint32(len(y) + len(uv))
		if err := p.registry.Channel(colorChan).Write(colorMeta, metadata.Encode(colorMeta), y, uv); err != nil {
			p.logger.Debug("publish failed", zap.String("channel", colorChan), zap.Error(err))
		}
	}
}

func (p *CameraPipeline) feedAutoExposure(luminance []byte) {
	algo := p.getAEAlgo()
	if algo == nil {
		return
	}
	ns, gain := p.exposure.Get()
	next, changed := algo.Update(luminance, ae.ExpGain{ExposureNs: ns, Gain: gain})
	if !changed {
		return
	}
	p.exposure.Set(next.ExposureNs, next.Gain)
	if p.isStereoMaster && !p.cfg.IndependentExposure && p.slave != nil {
		p.slave.exposure.Set(next.ExposureNs, next.Gain)
	}
}

// processVideo implements §4.3's SmallVideo/LargeVideo handling: always
// publish raw/color, additionally hand off to the encoder when its H.264
// publisher has subscribers (the Feeder itself enforces the pending-queue
// threshold and releases the buffer either way, §4.7).
func (p *CameraPipeline) processVideo(item resultItem, meta metadata.Frame, stream config.StreamConfig, greyChan, colorChan, h264Chan string, feeder *encoder.Feeder) {
	buf := item.handle.Bytes()
	ySize := stream.Width * stream.Height
	if ySize > len(buf) {
		ySize = len(buf)
	}
	y := buf[:ySize]
	uv := buf[ySize:]
	meta.Width = uint32(stream.Width)
	meta.Height = uint32(stream.Height)

	p.publishGreyAndColor(greyChan, colorChan, meta, y, uv, true)

	if feeder == nil || p.registry.NumSubscribers(h264Chan) == 0 {
		p.pools[item.stream].Release(item.handle)
		return
	}
	if _, err := feeder.Feed(item.sequence, meta, item.handle); err != nil {
		p.logger.Warn("encoder feed failed", zap.String("pipeline", p.cfg.Name), zap.Error(err))
	}
}

// processSnapshot implements §4.3's Snapshot handling: locate the embedded
// JPEG, publish it, and optionally persist it to the next queued path.
func (p *CameraPipeline) processSnapshot(item resultItem, meta metadata.Frame) {
	buf := item.handle.Bytes()
	jpeg, ok := extractJPEG(buf)
	meta.Format = metadata.FormatJPG
	if ok {
		meta.SizeBytes = uint32(len(jpeg))
		if err := p.registry.Channel(p.channels.snapshot).Write(meta, metadata.Encode(meta), jpeg); err != nil {
			p.logger.Debug("publish failed", zap.String("channel", p.channels.snapshot), zap.Error(err))
		}
		if path, ok := p.snapshotQueue.Pop(); ok {
			if err := writeSnapshotFile(path, jpeg); err != nil {
				p.logger.Warn("snapshot write failed", zap.String("path", path), zap.Error(err))
			}
		}
	} else {
		p.logger.Warn("no JPEG markers found in snapshot buffer", zap.String("pipeline", p.cfg.Name))
	}
	p.pools[hal.StreamSnapshot].Release(item.handle)
}

// extractJPEG scans for the SOI/EOI markers the HAL embeds inside a larger
// BLOB buffer (§4.3).
func extractJPEG(buf []byte) ([]byte, bool) {
	soi := bytes.Index(buf, []byte{0xFF, 0xD8})
	if soi < 0 {
		return nil, false
	}
	eoi := bytes.Index(buf[soi:], []byte{0xFF, 0xD9})
	if eoi < 0 {
		return nil, false
	}
	end := soi + eoi + 2
	return buf[soi:end], true
}

func writeSnapshotFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
