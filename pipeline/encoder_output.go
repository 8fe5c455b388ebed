package pipeline

import (
	"go.uber.org/zap"

	"camserver/encoder"
	"camserver/metadata"
)

// runEncoderOutput implements §4.7's output side: await completed packets
// from the encoder sink and publish them on the encoded channel with fresh
// H264 metadata carrying the packet's sequence (the sentinel sequence for
// codec-parameter packets), size and the pipeline frame rate. The metadata
// queued at Submit time is not attached: timestamp, exposure, gain and
// dimensions are left zero.
func (p *CameraPipeline) runEncoderOutput(sink encoder.Sink, channel string) {
	defer p.encoderWG.Done()

	for pkt := range sink.Output() {
		meta := metadata.Frame{
			FrameID:   pkt.Sequence,
			Format:    metadata.FormatH264,
			SizeBytes: uint32(len(pkt.Data)),
			Framerate: uint32(p.cfg.FrameRate),
		}
		if err := p.registry.Channel(channel).Write(meta, metadata.Encode(meta), pkt.Data); err != nil {
			p.logger.Debug("encoded publish failed", zap.String("channel", channel), zap.Error(err))
		}
	}
}
