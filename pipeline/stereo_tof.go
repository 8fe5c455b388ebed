package pipeline

import (
	"time"

	"go.uber.org/zap"

	"camserver/depth"
	"camserver/hal"
	"camserver/metadata"
	"camserver/stereo"
)

// runStereoMaster implements the master side of §4.6's rendezvous protocol.
// Local Y/UV have already been published by the caller (processPreview).
func (p *CameraPipeline) runStereoMaster(meta metadata.Frame, y, uv []byte, isColor bool) {
	framePeriodNs := int64(time.Second) / int64(p.cfg.FrameRate)

	slaveFrame, reason := p.rendezvous.Pair(meta.TimestampNs, framePeriodNs)
	if reason != stereo.DiscardNone {
		// DiscardStopped: pipeline is shutting down. DiscardSlaveTooNew:
		// this master frame is stale relative to the pending slave frame;
		// either way there is nothing to publish for this frame.
		return
	}
	p.publishStereoPair(meta, y, uv, isColor, slaveFrame)
}

func (p *CameraPipeline) publishStereoPair(meta metadata.Frame, masterY, masterUV []byte, isColor bool, slave stereo.SlaveFrame) {
	if slave.TimestampNs < meta.TimestampNs {
		meta.TimestampNs = slave.TimestampNs
	}

	if isColor {
		meta.Format = metadata.FormatStereoNV12
		meta.SizeBytes = uint32(len(masterY) + len(masterUV) + len(slave.Y) + len(slave.UV))
		if err := p.registry.Channel(p.channels.grey).Write(meta, metadata.Encode(meta), masterY, masterUV, slave.Y, slave.UV); err != nil {
			p.logger.Debug("stereo publish failed", zap.String("channel", p.channels.grey), zap.Error(err))
		}
	} else {
		meta.Format = metadata.FormatStereoRaw8
		meta.SizeBytes = uint32(len(masterY) + len(slave.Y))
		if err := p.registry.Channel(p.channels.grey).Write(meta, metadata.Encode(meta), masterY, slave.Y); err != nil {
			p.logger.Debug("stereo publish failed", zap.String("channel", p.channels.grey), zap.Error(err))
		}
	}
}

// runStereoSlave implements the slave side of §4.6: deposit the local frame
// into the master's rendezvous slot, wait for the master to consume it, and
// (if independently exposed) run AE locally.
func (p *CameraPipeline) runStereoSlave(meta metadata.Frame, y []byte) {
	yCopy := append([]byte(nil), y...)
	p.rendezvous.Deposit(stereo.SlaveFrame{TimestampNs: meta.TimestampNs, Y: yCopy})

	if p.cfg.IndependentExposure {
		p.feedAutoExposure(y)
	}
}

// processToFPreview implements §4.3's ToF branch: while standby is enabled,
// only every Decimator-th frame is submitted to the depth bridge; outside
// standby every frame is submitted.
func (p *CameraPipeline) processToFPreview(item resultItem, meta metadata.Frame) {
	count := p.decimatorCount.Add(1)
	decimator := p.cfg.Decimator
	if decimator < 1 {
		decimator = 1
	}
	skip := p.cfg.StandbyEnabled && count%int64(decimator) != 0
	if !skip && p.depthBridge != nil {
		raw := append([]byte(nil), item.handle.Bytes()...)
		p.depthBridge.Submit(raw, meta.TimestampNs, item.sequence)
	}
	p.pools[hal.StreamPreview].Release(item.handle)
}

// handleDepthFrame is the depth.Bridge callback (§4.8): adapt the frame
// into gated output packets and publish each on its channel.
func (p *CameraPipeline) handleDepthFrame(f depth.Frame) {
	if p.depthAdapter == nil {
		return
	}
	out := p.depthAdapter.Build(f)
	meta := metadata.Frame{
		FrameID:     f.FrameID,
		TimestampNs: f.TimestampNs,
		Width:       uint32(f.Width),
		Height:      uint32(f.Height),
		Framerate:   uint32(p.cfg.FrameRate),
	}

	publishIfPresent := func(channel string, format metadata.FormatCode, payload []byte) {
		if payload == nil {
			return
		}
		m := meta
		m.Format = format
		m.SizeBytes = uint32(len(payload))
		if err := p.registry.Channel(channel).Write(m, metadata.Encode(m), payload); err != nil {
			p.logger.Debug("depth publish failed", zap.String("channel", channel), zap.Error(err))
		}
	}

	publishIfPresent(p.channels.ir, metadata.FormatRAW8, out.IR)
	publishIfPresent(p.channels.depth, metadata.FormatRAW8, out.Depth)
	publishIfPresent(p.channels.conf, metadata.FormatRAW8, out.Confidence)
	publishIfPresent(p.channels.pc, metadata.FormatRAW8, out.PointCloud)
	publishIfPresent(p.channels.composite, metadata.FormatRAW8, out.Composite)
}
