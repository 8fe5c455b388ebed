// Package config loads and validates the populated configuration record the
// core pipeline consumes: an array of per-camera records plus the ambient
// server/timeout/logging/limits sections.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// SensorKind identifies the physical sensor driving a pipeline.
type SensorKind string

const (
	SensorOV7251 SensorKind = "ov7251"
	SensorOV9782 SensorKind = "ov9782"
	SensorIMX214 SensorKind = "imx214"
	SensorIMX412 SensorKind = "imx412"
	SensorIMX678 SensorKind = "imx678"
	SensorPMDTof SensorKind = "pmd-tof"
)

func (k SensorKind) Valid() bool {
	switch k {
	case SensorOV7251, SensorOV9782, SensorIMX214, SensorIMX412, SensorIMX678, SensorPMDTof:
		return true
	default:
		return false
	}
}

// IsColor reports whether the sensor produces a chroma plane (NV12 color
// publishing) as opposed to monochrome-only output.
func (k SensorKind) IsColor() bool {
	switch k {
	case SensorOV9782, SensorIMX214, SensorIMX412, SensorIMX678:
		return true
	default:
		return false
	}
}

func (k SensorKind) IsToF() bool { return k == SensorPMDTof }

// AEMode selects the auto-exposure algorithm.
type AEMode string

const (
	AEOff      AEMode = "off"
	AEIsp      AEMode = "isp"
	AELmeHist  AEMode = "lme_hist"
	AELmeMSV   AEMode = "lme_msv"
)

func (m AEMode) Valid() bool {
	switch m {
	case AEOff, AEIsp, AELmeHist, AELmeMSV:
		return true
	default:
		return false
	}
}

func (m AEMode) Software() bool { return m == AELmeHist || m == AELmeMSV }

// StreamConfig describes one of a camera's up-to-four streams.
type StreamConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	Width   int  `toml:"width" json:"width"`
	Height  int  `toml:"height" json:"height"`
	Bitrate int  `toml:"bitrate" json:"bitrate"` // video streams only
	H265    bool `toml:"h265" json:"h265"`        // video streams only
}

// HistogramTuning configures the histogram-based AE algorithm (§4.5).
type HistogramTuning struct {
	DesiredMSV   float64 `toml:"desired_msv" json:"desired_msv"`
	KP           float64 `toml:"k_p" json:"k_p"`
	KI           float64 `toml:"k_i" json:"k_i"`
	MaxI         float64 `toml:"max_i" json:"max_i"`
	UpdatePeriod int     `toml:"update_period" json:"update_period"` // frames between updates
	GoodThresh   float64 `toml:"good_threshold" json:"good_threshold"`
	ExposureMinNs int64  `toml:"exposure_min_ns" json:"exposure_min_ns"`
	ExposureMaxNs int64  `toml:"exposure_max_ns" json:"exposure_max_ns"`
	GainMin       float64 `toml:"gain_min" json:"gain_min"`
	GainMax       float64 `toml:"gain_max" json:"gain_max"`
}

// MSVTuning configures the mean-sample-value AE algorithm (§4.5).
type MSVTuning struct {
	Alpha              float64 `toml:"alpha" json:"alpha"`
	IgnoreFraction     float64 `toml:"ignore_fraction" json:"ignore_fraction"`
	ExposureSlope      float64 `toml:"exposure_slope" json:"exposure_slope"`
	GainSlope          float64 `toml:"gain_slope" json:"gain_slope"`
	ExposureUpdatePeriod int   `toml:"exposure_update_period" json:"exposure_update_period"`
	GainUpdatePeriod     int   `toml:"gain_update_period" json:"gain_update_period"`
	GoodThresh         float64 `toml:"good_threshold" json:"good_threshold"`
	ExposureMinNs int64  `toml:"exposure_min_ns" json:"exposure_min_ns"`
	ExposureMaxNs int64  `toml:"exposure_max_ns" json:"exposure_max_ns"`
	GainMin       float64 `toml:"gain_min" json:"gain_min"`
	GainMax       float64 `toml:"gain_max" json:"gain_max"`
}

// CameraConfig is one [[cameras]] record: immutable input to a CameraPipeline.
type CameraConfig struct {
	Name        string     `toml:"name" json:"name"`
	Type        SensorKind `toml:"type" json:"type"`
	CameraID    int        `toml:"camera_id" json:"camera_id"`
	CameraIDSecond *int    `toml:"camera_id_second,omitempty" json:"camera_id_second,omitempty"`
	Enabled     bool       `toml:"enabled" json:"enabled"`
	FrameRate   int        `toml:"frame_rate" json:"frame_rate"`

	Preview    StreamConfig `toml:"preview" json:"preview"`
	SmallVideo StreamConfig `toml:"small_video" json:"small_video"`
	LargeVideo StreamConfig `toml:"large_video" json:"large_video"`
	Snapshot   StreamConfig `toml:"snapshot" json:"snapshot"`

	AEMode             AEMode          `toml:"ae_mode" json:"ae_mode"`
	AEHistogram        HistogramTuning `toml:"ae_histogram" json:"ae_histogram"`
	AEMSV              MSVTuning       `toml:"ae_msv" json:"ae_msv"`
	FixedExposureNs    int64           `toml:"fixed_exposure_ns" json:"fixed_exposure_ns"`
	FixedGain          float64         `toml:"fixed_gain" json:"fixed_gain"`
	IndependentExposure bool           `toml:"independent_exposure" json:"independent_exposure"`

	StandbyEnabled bool `toml:"standby_enabled" json:"standby_enabled"`
	Decimator      int  `toml:"decimator" json:"decimator"`
}

// IsStereoMaster reports whether this record drives a stereo pair.
func (c CameraConfig) IsStereoMaster() bool { return c.CameraIDSecond != nil }

// ServerConfig holds process-level networking settings. The server serves
// both /status and the /ws signaling endpoint on DebugHTTPPort;
// SignalingPort is not read.
type ServerConfig struct {
	BindAddr      string `toml:"bind_addr" json:"bind_addr"`
	SignalingPort int    `toml:"signaling_port" json:"signaling_port"`
	DebugHTTPPort int    `toml:"debug_http_port" json:"debug_http_port"`
}

// TimeoutConfig holds process-lifecycle timeouts (ambient, §4.11).
type TimeoutConfig struct {
	ShutdownSeconds int `toml:"shutdown_seconds" json:"shutdown_seconds"`
}

// LoggingConfig names a log verbosity (ambient, §4.11). Level is not read at
// start-up: the process log level comes from the -log-level flag.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// LimitConfig holds resource-sizing settings. The pipelines do not read
// them: pool and metadata-ring sizes and the encoder drop thresholds are
// fixed constants, and the snapshot queue is unbounded.
type LimitConfig struct {
	BufferPoolSize    int `toml:"buffer_pool_size" json:"buffer_pool_size"`
	MetadataRingSize  int `toml:"metadata_ring_size" json:"metadata_ring_size"`
	SnapshotQueueMax  int `toml:"snapshot_queue_max" json:"snapshot_queue_max"`
	EncoderQueueSmall int `toml:"encoder_queue_small" json:"encoder_queue_small"`
	EncoderQueueLarge int `toml:"encoder_queue_large" json:"encoder_queue_large"`
}

// Config is the top-level record the core consumes.
type Config struct {
	Cameras  []CameraConfig `toml:"cameras" json:"cameras"`
	Server   ServerConfig   `toml:"server" json:"server"`
	Timeouts TimeoutConfig  `toml:"timeouts" json:"timeouts"`
	Logging  LoggingConfig  `toml:"logging" json:"logging"`
	Limits   LimitConfig    `toml:"limits" json:"limits"`
}

func defaultConfig() *Config {
	return &Config{
		Cameras: []CameraConfig{
			{
				Name:      "tracking",
				Type:      SensorOV7251,
				CameraID:  0,
				Enabled:   true,
				FrameRate: 30,
				Preview:   StreamConfig{Enabled: true, Width: 640, Height: 480},
				Snapshot:  StreamConfig{Enabled: false, Width: 640, Height: 480},
				AEMode:    AELmeHist,
				AEHistogram: HistogramTuning{
					DesiredMSV: 0.5, KP: 0.2, KI: 0.05, MaxI: 2.0,
					UpdatePeriod: 1, GoodThresh: 0.02,
					ExposureMinNs: 100_000, ExposureMaxNs: 33_000_000,
					GainMin: 1.0, GainMax: 8.0,
				},
				Decimator: 1,
			},
		},
		Server: ServerConfig{
			BindAddr:      "0.0.0.0",
			SignalingPort: 9000,
			DebugHTTPPort: 8080,
		},
		Timeouts: TimeoutConfig{ShutdownSeconds: 5},
		Logging:  LoggingConfig{Level: "info"},
		Limits: LimitConfig{
			BufferPoolSize:    16,
			MetadataRingSize:  32,
			SnapshotQueueMax:  64,
			EncoderQueueSmall: 1,
			EncoderQueueLarge: 2,
		},
	}
}

// LoadConfig loads configuration from a TOML file, overlaying it onto
// compiled-in defaults; a missing file is not an error (defaults are used).
func LoadConfig(configPath string, logger *zap.Logger) (*Config, error) {
	cfg := defaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %q: %w", configPath, err)
		}
		logger.Info("config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("config file not found, using defaults", zap.String("path", configPath))
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the invariants the core relies on: every camera has a
// non-empty, unique name, a known sensor type and AE mode, and a positive
// frame rate, and ToF cameras have decimator ≥ 1. Stream sizes are not
// checked.
func Validate(cfg *Config) error {
	names := make(map[string]bool, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("cameras[%d]: name is required", i)
		}
		if names[cam.Name] {
			return fmt.Errorf("cameras[%d]: duplicate name %q", i, cam.Name)
		}
		names[cam.Name] = true

		if !cam.Type.Valid() {
			return fmt.Errorf("cameras[%d] (%s): invalid sensor type %q", i, cam.Name, cam.Type)
		}
		if !cam.AEMode.Valid() {
			return fmt.Errorf("cameras[%d] (%s): invalid ae_mode %q", i, cam.Name, cam.AEMode)
		}
		if cam.FrameRate <= 0 {
			return fmt.Errorf("cameras[%d] (%s): frame_rate must be positive", i, cam.Name)
		}
		if cam.Type.IsToF() && cam.Decimator < 1 {
			return fmt.Errorf("cameras[%d] (%s): decimator must be >= 1", i, cam.Name)
		}
	}
	return nil
}

// SaveConfig writes cfg back out as TOML.
func SaveConfig(cfg *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("create config file %q: %w", configPath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
