package encoder

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"camserver/buffer"
	"camserver/metadata"
)

// h264StartCode is the Annex-B NAL start code encoder output is framed with.
var h264StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// nalTypeSPS/PPS identify codec-parameter NAL units (§4.7 sentinel packets).
const (
	nalTypeSPS = 7
	nalTypePPS = 8
)

// GStreamerSink feeds raw YUV frames to a `gst-launch-1.0` subprocess over
// its stdin and reads back Annex-B H.264 over stdout, the way the teacher's
// camera/capture.go drives GStreamer as a subprocess rather than linking a
// hardware-encoder library directly (no Go encoder library exists in the
// pack; the external executable is the teacher's own choice for this
// concern, §DESIGN.md).
type GStreamerSink struct {
	width, height int
	bitrate       int
	logger        *zap.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	pending int64
	queue   map[uint64]pendingEntry
	mu      sync.Mutex

	output chan Packet
	done   chan struct{}
}

type pendingEntry struct {
	meta    metadata.Frame
	release buffer.Handle
}

// NewGStreamerSink launches the encode pipeline for the given geometry and
// bitrate. encoderElement is the GStreamer element name probed by the
// caller (e.g. "x264enc" or a platform hardware encoder), mirroring the
// teacher's getAvailableH264Encoder probing step.
func NewGStreamerSink(width, height, bitrate int, encoderElement string, logger *zap.Logger) (*GStreamerSink, error) {
	pipeline := buildPipeline(width, height, bitrate, encoderElement)
	cmd := exec.Command("gst-launch-1.0", "-q", "fdsrc", "fd=0", "!", pipeline, "!", "fdsink", "fd=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("encoder: start gst-launch-1.0: %w", err)
	}

	s := &GStreamerSink{
		width: width, height: height, bitrate: bitrate,
		logger: logger,
		cmd:    cmd, stdin: stdin, stdout: stdout,
		queue:  make(map[uint64]pendingEntry),
		output: make(chan Packet, 8),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func buildPipeline(width, height, bitrate int, encoderElement string) string {
	return fmt.Sprintf(
		"videoparse width=%d height=%d format=i420 ! %s bitrate=%d ! h264parse",
		width, height, encoderElement, bitrate/1000,
	)
}

// Submit implements Sink. The buffer is written to stdin synchronously and
// not released here; GStreamer owns its own internal copy once the write
// returns, so the caller (Feeder.Feed) releases the buffer back to its pool
// as soon as Submit returns, matching the teacher's encodingLoop
// passthrough-then-drop-reference discipline.
func (s *GStreamerSink) Submit(seq uint64, meta metadata.Frame, h buffer.Handle) error {
	atomic.AddInt64(&s.pending, 1)
	s.mu.Lock()
	s.queue[seq] = pendingEntry{meta: meta}
	s.mu.Unlock()

	if _, err := s.stdin.Write(h.Bytes()); err != nil {
		atomic.AddInt64(&s.pending, -1)
		s.mu.Lock()
		delete(s.queue, seq)
		s.mu.Unlock()
		return fmt.Errorf("encoder: write frame: %w", err)
	}
	return nil
}

// Pending implements Sink.
func (s *GStreamerSink) Pending() int {
	return int(atomic.LoadInt64(&s.pending))
}

// Output implements Sink.
func (s *GStreamerSink) Output() <-chan Packet { return s.output }

func (s *GStreamerSink) readLoop() {
	defer close(s.output)
	r := bufio.NewReaderSize(s.stdout, 1<<20)

	buf, err := io.ReadAll(r)
	if err != nil && s.logger != nil {
		s.logger.Debug("encoder stdout closed", zap.Error(err))
	}
	for _, nal := range splitAnnexB(buf) {
		pkt := Packet{Data: nal}
		if isParameterSetNAL(nal) {
			pkt.Sequence = metadata.SentinelSequence
		} else {
			pkt.Sequence = s.nextQueuedSequence()
			atomic.AddInt64(&s.pending, -1)
		}
		select {
		case s.output <- pkt:
		case <-s.done:
			return
		}
	}
}

// nextQueuedSequence pops the oldest still-pending sequence; the GStreamer
// pipeline is FIFO so output NALs correspond to submissions in order.
func (s *GStreamerSink) nextQueuedSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest uint64
	found := false
	for seq := range s.queue {
		if !found || seq < oldest {
			oldest = seq
			found = true
		}
	}
	if found {
		delete(s.queue, oldest)
	}
	return oldest
}

// Close terminates the subprocess and waits for it to exit.
func (s *GStreamerSink) Close() error {
	close(s.done)
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		if s.logger != nil {
			s.logger.Debug("gst-launch-1.0 exited", zap.Error(err))
		}
	}
	return nil
}

// splitAnnexB splits a byte stream on 4-byte Annex-B start codes.
func splitAnnexB(buf []byte) [][]byte {
	var nals [][]byte
	start := -1
	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 0 && buf[i+3] == 1 {
			if start >= 0 && i > start {
				nals = append(nals, buf[start:i])
			}
			start = i
		}
	}
	if start >= 0 && start < len(buf) {
		nals = append(nals, buf[start:])
	}
	return nals
}

func isParameterSetNAL(nal []byte) bool {
	if len(nal) <= len(h264StartCode) {
		return false
	}
	nalType := nal[len(h264StartCode)] & 0x1F
	return nalType == nalTypeSPS || nalType == nalTypePPS
}
