// Package encoder abstracts the hardware video encoder as a typed frame
// sink with backpressure (§1, §4.7): the EncoderFeeder forwards YUV frames
// unless the sink's pending-queue is at or above a threshold, in which case the
// frame is dropped and the buffer recycled.
package encoder

import (
	"camserver/buffer"
	"camserver/metadata"
)

// Packet is one encoded output unit. SPS/PPS-style codec-parameter packets
// (detected by the Sink implementation via a start-marker pattern) carry
// metadata.SentinelSequence and consume no metadata-ring entry (§4.7).
type Packet struct {
	Sequence uint64
	Data     []byte
}

// Sink is the frame sink interface a real hardware encoder implementation
// satisfies. Submit consumes h's bytes before it returns; the caller
// (Feeder.Feed) releases h to its pool afterwards, so a Sink never holds h
// past Submit.
type Sink interface {
	Submit(seq uint64, meta metadata.Frame, h buffer.Handle) error
	Pending() int
	Output() <-chan Packet
	Close() error
}

// Feeder implements the backpressure policy of §4.7: submit to the sink
// unless its pending depth is already at or above threshold, in which case
// drop (recycle) and report the drop via the returned bool.
type Feeder struct {
	sink      Sink
	threshold int
	release   func(buffer.Handle)
}

// NewFeeder builds a Feeder around sink with the stream's drop threshold
// (1 for small video, 2 for large video, favoring latency, §4.3) and the
// pool-release function to call when a frame is dropped.
func NewFeeder(sink Sink, threshold int, release func(buffer.Handle)) *Feeder {
	return &Feeder{sink: sink, threshold: threshold, release: release}
}

// Feed submits a frame to the encoder, or drops it (returns accepted=false)
// when the sink's queue is already saturated. Either way the buffer is
// released back to its pool before Feed returns: Submit synchronously
// copies the frame into the sink's own pipeline, so the caller's buffer is
// never held past this call (§4.7).
func (f *Feeder) Feed(seq uint64, meta metadata.Frame, h buffer.Handle) (accepted bool, err error) {
	defer f.release(h)

	if f.sink.Pending() >= f.threshold {
		return false, nil
	}
	if err := f.sink.Submit(seq, meta, h); err != nil {
		return false, err
	}
	return true, nil
}
