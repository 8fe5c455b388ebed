// Package server owns the full set of configured camera pipelines plus the
// signaling/debug HTTP surface they are reached through, generalizing the
// teacher's main.go Application staged-initialization shape (camera manager
// -> WebRTC servers -> web server -> start) to N configured pipelines
// sharing one signaling endpoint and one status endpoint (§4.11, §4.12).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"camserver/config"
	"camserver/depth"
	"camserver/encoder"
	"camserver/hal"
	"camserver/pipeline"
	"camserver/publish"
)

// Server owns every configured camera's pipeline, the shared Publisher
// registry they write to, and the signaling/debug HTTP listener subscribers
// connect through.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *publish.Registry
	publisher *publish.WebRTCPublisher

	mu        sync.Mutex
	pipelines []*pipeline.CameraPipeline
	stopped   bool

	httpServer *http.Server
}

// New constructs a Server and every pipeline named in cfg.Cameras, wiring
// stereo pairs (§9) and the emergency-stop broadcast (§7) before returning.
// No pipeline is started yet; call Run for that.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: publish.NewRegistry(logger),
	}
	s.publisher = publish.NewWebRTCPublisher(s.registry, webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}, nil, logger)

	byName := make(map[string]*pipeline.CameraPipeline, len(cfg.Cameras))
	slaveOf := make(map[string]config.CameraConfig) // master name -> synthesized slave config

	for _, cam := range cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		p, err := pipeline.NewCameraPipeline(cam, logger, s.pipelineOptions())
		if err != nil {
			return nil, fmt.Errorf("server: build pipeline %s: %w", cam.Name, err)
		}
		byName[cam.Name] = p
		s.pipelines = append(s.pipelines, p)

		if cam.IsStereoMaster() {
			slaveOf[cam.Name] = synthesizeSlaveConfig(cam)
		}
	}

	for masterName, slaveCfg := range slaveOf {
		master := byName[masterName]
		slave, err := pipeline.NewCameraPipeline(slaveCfg, logger, s.pipelineOptions())
		if err != nil {
			return nil, fmt.Errorf("server: build stereo slave for %s: %w", masterName, err)
		}
		master.AttachSlave(slave)
		s.pipelines = append(s.pipelines, slave)
		byName[slaveCfg.Name] = slave
	}

	return s, nil
}

// synthesizeSlaveConfig derives the slave pipeline's configuration from its
// master (§9's Open Question resolution: the slave never appears as its own
// [[cameras]] record — CameraIDSecond is enough to construct it). The slave
// shares the master's stream geometry and frame rate but captures from the
// second sensor and never runs its own AE unless IndependentExposure is set.
func synthesizeSlaveConfig(master config.CameraConfig) config.CameraConfig {
	slave := master
	slave.Name = master.Name + "_slave"
	slave.CameraID = *master.CameraIDSecond
	slave.CameraIDSecond = nil
	if !master.IndependentExposure {
		slave.AEMode = config.AEOff
	}
	return slave
}

// pipelineOptions builds the Options every pipeline this Server constructs
// shares: the registry and the platform factories (SimDevice, SimBridge,
// GStreamer) this module ships (§4.13, §4.14).
func (s *Server) pipelineOptions() pipeline.Options {
	return pipeline.Options{
		Registry: s.registry,
		NewDevice: func(streams map[hal.StreamID]hal.StreamSpec, frameRate int, cb hal.Callbacks) (hal.Device, error) {
			return hal.NewSimDevice(streams, frameRate, cb, true), nil
		},
		NewDepthBridge: func(width, height int) depth.Bridge {
			return depth.NewSimBridge(width, height)
		},
		NewEncoderSink: func(width, height, bitrate int) (encoder.Sink, error) {
			return encoder.NewGStreamerSink(width, height, bitrate, "x264enc", s.logger)
		},
		OnEmergencyStop: s.handleEmergencyStop,
	}
}

// handleEmergencyStop implements §7: any one pipeline's fatal HAL error
// emergency-stops every pipeline this Server owns, not just the one that
// failed, since a partially-alive server offers no useful guarantee.
func (s *Server) handleEmergencyStop(pipelineName string, err error) {
	s.logger.Error("emergency stop triggered", zap.String("pipeline", pipelineName), zap.Error(err))

	s.mu.Lock()
	pipelines := append([]*pipeline.CameraPipeline(nil), s.pipelines...)
	alreadyStopped := s.stopped
	s.stopped = true
	s.mu.Unlock()

	if alreadyStopped {
		return
	}
	for _, p := range pipelines {
		if p.State() == pipeline.StateRunning {
			go p.EmergencyStop()
		}
	}
}

// Run starts every pipeline and the signaling/debug HTTP listener, blocking
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for _, p := range s.pipelines {
		p.Start(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.publisher.HandleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.BindAddr, s.cfg.Server.DebugHTTPPort)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("server running", zap.String("addr", addr), zap.Int("cameras", len(s.pipelines)))

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("server: debug http listener: %w", err)
	}
}

// cameraStatus is the JSON shape /status reports for one pipeline.
type cameraStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	pipelines := append([]*pipeline.CameraPipeline(nil), s.pipelines...)
	s.mu.Unlock()

	out := make([]cameraStatus, 0, len(pipelines))
	for _, p := range pipelines {
		out = append(out, cameraStatus{Name: p.Name(), State: p.State().String()})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Stop gracefully stops every pipeline and the HTTP listener, returning once
// every pipeline has reached StateStopped or ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	pipelines := append([]*pipeline.CameraPipeline(nil), s.pipelines...)
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, p := range pipelines {
			wg.Add(1)
			go func(p *pipeline.CameraPipeline) {
				defer wg.Done()
				if p.State() != pipeline.StateStopped {
					p.Stop()
				}
			}(p)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: shutdown timed out with pipelines still stopping")
	}
}
