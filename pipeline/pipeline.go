// Package pipeline wires one configured camera end to end: RequestLoop,
// ResultRouter, ProcessingWorker, AutoExposure, StereoSynchronizer,
// EncoderFeeder, DepthAdapter, ControlChannel, and the buffer pools that
// tie them together (§2-§4.10), generalizing the teacher's camera/manager.go
// `Manager`/`Camera` pair from two hardcoded cameras to N configured
// pipelines sharing the same per-camera wiring.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"camserver/ae"
	"camserver/buffer"
	"camserver/config"
	"camserver/depth"
	"camserver/encoder"
	"camserver/hal"
	"camserver/metadata"
	"camserver/publish"
	"camserver/stereo"
)

// State is the pipeline lifecycle state machine of §4.10.
type State int

const (
	StateInit State = iota
	StateConfiguring
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const bufferPoolSize = 16

// channelSet names every Publisher channel a pipeline can write to (§6).
type channelSet struct {
	grey, color                   string
	smallGrey, smallColor, smallH264 string
	largeGrey, largeColor, largeH264 string
	snapshot                      string
	composite, ir, depth, conf, pc string
}

func newChannelSet(name string) channelSet {
	return channelSet{
		grey: name + "_grey", color: name + "_color",
		smallGrey: name + "_small_grey", smallColor: name + "_small_color", smallH264: name + "_small_h264",
		largeGrey: name + "_large_grey", largeColor: name + "_large_color", largeH264: name + "_large_h264",
		snapshot:  name + "_snapshot",
		composite: name, ir: name + "_ir", depth: name + "_depth", conf: name + "_conf", pc: name + "_pc",
	}
}

// DeviceFactory builds the hal.Device for a pipeline given the streams it
// must configure; SimDevice is the only concrete implementation in this
// repo (§4.13), but pipelines are built against the interface.
type DeviceFactory func(streams map[hal.StreamID]hal.StreamSpec, frameRate int, cb hal.Callbacks) (hal.Device, error)

// BridgeFactory builds the hal.Device's ToF counterpart (§4.14). Decimation
// is the pipeline's own decision (processToFPreview), not the bridge's, so
// the factory only needs the frame geometry.
type BridgeFactory func(width, height int) depth.Bridge

// CameraPipeline is the per-camera state machine described in §2.
type CameraPipeline struct {
	cfg    config.CameraConfig
	logger *zap.Logger

	channels channelSet
	registry *publish.Registry

	pools   map[hal.StreamID]*buffer.Pool
	streams map[hal.StreamID]hal.StreamSpec

	device      hal.Device
	resultQueue chan resultItem
	droppedResults atomic.Int64

	metaRing *metadata.Ring

	exposure *ae.ExposureState
	aeMu     sync.Mutex // guards aeAlgo: written by ControlChannel, read by ProcessingWorker
	aeAlgo   ae.Algorithm

	smallFeeder, largeFeeder *encoder.Feeder
	smallSink, largeSink     encoder.Sink

	rendezvous     *stereo.Rendezvous
	isStereoMaster bool
	isStereoSlave  bool
	slave          *CameraPipeline // master's handle to its slave, set by the caller wiring them together

	depthBridge  depth.Bridge
	depthAdapter *depth.Adapter

	snapshotQueue   *SnapshotQueue
	pendingSnapshots atomic.Int64
	snapshotNameLimiter *rate.Limiter
	lastSnapshotIndex   int // touched only by runControlChannel's goroutine

	raw10Decided    atomic.Bool
	raw10IsTrue10Bit atomic.Bool

	decimatorCount atomic.Int64

	seq         atomic.Uint64
	terminalSeq atomic.Uint64

	stop  atomic.Bool
	estop atomic.Bool

	limiter *rate.Limiter

	stateMu sync.Mutex
	state   State

	onEmergencyStop func(pipelineName string, err error)

	// wg tracks RequestLoop/ProcessingWorker/ControlChannel: the goroutines
	// Stop must wait on before it is safe to close the encoder sinks.
	// encoderWG tracks the encoder-output goroutines separately, since they
	// only exit once the sinks are closed — closing the sinks before wg is
	// done would deadlock.
	wg        sync.WaitGroup
	encoderWG sync.WaitGroup
}

// Options bundles construction-time collaborators that are either shared
// across pipelines (the registry) or platform-specific (device/bridge
// factories), keeping NewCameraPipeline's signature manageable.
type Options struct {
	Registry        *publish.Registry
	NewDevice       DeviceFactory
	NewDepthBridge  BridgeFactory
	NewEncoderSink  func(width, height, bitrate int) (encoder.Sink, error)
	OnEmergencyStop func(pipelineName string, err error)
}

// NewCameraPipeline allocates buffer pools and constructs (but does not
// start) a pipeline for cfg.
func NewCameraPipeline(cfg config.CameraConfig, logger *zap.Logger, opts Options) (*CameraPipeline, error) {
	p := &CameraPipeline{
		cfg:             cfg,
		logger:          logger,
		channels:        newChannelSet(cfg.Name),
		registry:        opts.Registry,
		pools:           make(map[hal.StreamID]*buffer.Pool),
		streams:         make(map[hal.StreamID]hal.StreamSpec),
		resultQueue:     make(chan resultItem, 4*bufferPoolSize),
		metaRing:        metadata.NewRing(bufferPoolSize),
		snapshotQueue:   NewSnapshotQueue(),
		limiter:         rate.NewLimiter(rate.Every(10*time.Millisecond), 1),
		snapshotNameLimiter: rate.NewLimiter(rate.Every(time.Millisecond), 1),
		state:           StateInit,
		onEmergencyStop: opts.OnEmergencyStop,
	}

	initialExposure, initialGain := cfg.FixedExposureNs, float32(cfg.FixedGain)
	p.exposure = ae.NewExposureState(initialExposure, initialGain)
	p.aeAlgo = ae.NewAlgorithm(cfg.AEMode, cfg)

	p.setState(StateConfiguring)

	if err := p.configureStreams(); err != nil {
		return nil, fmt.Errorf("pipeline %s: configure streams: %w", cfg.Name, err)
	}

	device, err := opts.NewDevice(p.streams, cfg.FrameRate, p.callbacks())
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: open device: %w", cfg.Name, err)
	}
	p.device = device

	if cfg.SmallVideo.Enabled && cfg.SmallVideo.H265 == false && opts.NewEncoderSink != nil {
		sink, err := opts.NewEncoderSink(cfg.SmallVideo.Width, cfg.SmallVideo.Height, cfg.SmallVideo.Bitrate)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: small video encoder: %w", cfg.Name, err)
		}
		p.smallSink = sink
		p.smallFeeder = encoder.NewFeeder(sink, 1, func(h buffer.Handle) { p.pools[hal.StreamSmallVideo].Release(h) })
	}
	if cfg.LargeVideo.Enabled && opts.NewEncoderSink != nil {
		sink, err := opts.NewEncoderSink(cfg.LargeVideo.Width, cfg.LargeVideo.Height, cfg.LargeVideo.Bitrate)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: large video encoder: %w", cfg.Name, err)
		}
		p.largeSink = sink
		p.largeFeeder = encoder.NewFeeder(sink, 2, func(h buffer.Handle) { p.pools[hal.StreamLargeVideo].Release(h) })
	}

	if cfg.Type.IsToF() {
		p.depthAdapter = depth.NewAdapter(cfg.Name, p.registry)
		if opts.NewDepthBridge != nil {
			p.depthBridge = opts.NewDepthBridge(cfg.Preview.Width, cfg.Preview.Height)
		}
	}

	return p, nil
}

// configureStreams determines which streams are enabled and allocates their
// pools, sized per §3 (16 buffers per enabled stream).
func (p *CameraPipeline) configureStreams() error {
	add := func(id hal.StreamID, s config.StreamConfig, format hal.PixelFormat) error {
		if !s.Enabled {
			return nil
		}
		spec := hal.StreamSpec{Width: s.Width, Height: s.Height, Format: format}
		p.streams[id] = spec
		bufSize := estimateBufferSize(spec)
		pool := buffer.NewPool(bufferPoolSize, bufSize, buffer.NewIONAllocator())
		p.pools[id] = pool
		return nil
	}

	previewFormat := hal.PixelRAW10
	if p.cfg.Type.IsToF() {
		previewFormat = hal.PixelTOF
	} else if p.cfg.Type.IsColor() {
		previewFormat = hal.PixelNV12
	}
	if err := add(hal.StreamPreview, p.cfg.Preview, previewFormat); err != nil {
		return err
	}
	if err := add(hal.StreamSmallVideo, p.cfg.SmallVideo, hal.PixelNV12); err != nil {
		return err
	}
	if err := add(hal.StreamLargeVideo, p.cfg.LargeVideo, hal.PixelNV12); err != nil {
		return err
	}
	if err := add(hal.StreamSnapshot, p.cfg.Snapshot, hal.PixelBlobJPEG); err != nil {
		return err
	}
	return nil
}

// estimateBufferSize sizes a stream's buffers; JPEG blobs follow the
// original's width*height/2-rounded-to-4KiB formula (§9), others are
// the plane size for their pixel format.
func estimateBufferSize(spec hal.StreamSpec) int {
	switch spec.Format {
	case hal.PixelBlobJPEG:
		raw := spec.Width * spec.Height / 2
		const block = 4096
		return ((raw + block - 1) / block) * block
	case hal.PixelRAW10:
		return (spec.Width * spec.Height * 5) / 4
	case hal.PixelNV12, hal.PixelNV21:
		return spec.Width * spec.Height * 3 / 2
	case hal.PixelTOF:
		return spec.Width * spec.Height * 16 // generous per-point payload headroom for the simulator
	default:
		return spec.Width * spec.Height
	}
}

func (p *CameraPipeline) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

// Name returns the configured camera name this pipeline was built from.
func (p *CameraPipeline) Name() string { return p.cfg.Name }

// State returns the pipeline's current lifecycle state.
func (p *CameraPipeline) State() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// AttachSlave wires this (master) pipeline to its stereo slave, sharing one
// Rendezvous between the two (§9's stereo-pairing resolution).
func (p *CameraPipeline) AttachSlave(slave *CameraPipeline) {
	r := stereo.NewRendezvous()
	p.rendezvous = r
	p.isStereoMaster = true
	slave.rendezvous = r
	slave.isStereoSlave = true
	p.slave = slave
}

// Start launches the RequestLoop, ProcessingWorker and ControlChannel
// goroutines plus one encoder-output goroutine per encoder sink, registers
// the depth callback on ToF pipelines (it runs inside Bridge.Submit on the
// ProcessingWorker goroutine, not on a goroutine of its own), and enters
// StateRunning.
func (p *CameraPipeline) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.runRequestLoop(ctx)

	p.wg.Add(1)
	go p.runProcessingWorker()

	p.wg.Add(1)
	go p.runControlChannel()

	if p.depthBridge != nil {
		p.depthBridge.SetCallback(p.handleDepthFrame)
	}
	if p.smallSink != nil {
		p.encoderWG.Add(1)
		go p.runEncoderOutput(p.smallSink, p.channels.smallH264)
	}
	if p.largeSink != nil {
		p.encoderWG.Add(1)
		go p.runEncoderOutput(p.largeSink, p.channels.largeH264)
	}

	p.setState(StateRunning)
}

// Stop halts the pipeline: the RequestLoop stops issuing new requests and
// the device is closed. hal.SimDevice abandons requests still in flight at
// that moment without delivering their callbacks, so their buffers are not
// returned to the pools. Then the result queue is closed and
// ProcessingWorker drains the buffers already delivered before exiting
// (§4.10).
func (p *CameraPipeline) Stop() {
	p.setState(StateStopping)
	p.stop.Store(true)
	p.terminalSeq.Store(p.seq.Load())

	if p.device != nil {
		p.device.Close()
	}
	close(p.resultQueue)

	if p.rendezvous != nil {
		p.rendezvous.Stop()
	}
	p.wg.Wait()

	if p.smallSink != nil {
		p.smallSink.Close()
	}
	if p.largeSink != nil {
		p.largeSink.Close()
	}
	p.encoderWG.Wait()

	if p.depthBridge != nil {
		p.depthBridge.Close()
	}
	p.setState(StateStopped)
}

// EmergencyStop aborts immediately: no attempt is made to drain in-flight
// requests, matching §7's "buffers outstanding to HAL are effectively
// leaked for the remaining process lifetime" allowance.
func (p *CameraPipeline) EmergencyStop() {
	p.estop.Store(true)
	if p.rendezvous != nil {
		p.rendezvous.Stop()
	}
	p.Stop()
}

func (p *CameraPipeline) getAEAlgo() ae.Algorithm {
	p.aeMu.Lock()
	defer p.aeMu.Unlock()
	return p.aeAlgo
}

func (p *CameraPipeline) setAEAlgo(a ae.Algorithm) {
	p.aeMu.Lock()
	p.aeAlgo = a
	p.aeMu.Unlock()
}

func (p *CameraPipeline) fail(stage string, err error) {
	p.logger.Error("pipeline_failure", zap.String("pipeline", p.cfg.Name), zap.String("stage", stage), zap.Error(err))
	if p.onEmergencyStop != nil {
		p.onEmergencyStop(p.cfg.Name, err)
	}
}
