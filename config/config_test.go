package config

import (
	"os"
	"testing"

	"go.uber.org/zap"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("non-existent-config.toml", zap.NewNop())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if len(cfg.Cameras) != 1 {
		t.Fatalf("len(Cameras) = %d, want 1", len(cfg.Cameras))
	}
	cam := cfg.Cameras[0]
	if cam.Type != SensorOV7251 {
		t.Errorf("default camera type = %q, want ov7251", cam.Type)
	}
	if cam.FrameRate != 30 {
		t.Errorf("default frame_rate = %d, want 30", cam.FrameRate)
	}
	if cfg.Server.SignalingPort != 9000 {
		t.Errorf("default signaling port = %d, want 9000", cfg.Server.SignalingPort)
	}
	if cfg.Limits.BufferPoolSize != 16 {
		t.Errorf("default buffer pool size = %d, want 16", cfg.Limits.BufferPoolSize)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-config-*.toml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
[[cameras]]
name = "front"
type = "imx214"
camera_id = 2
enabled = true
frame_rate = 30
ae_mode = "off"
fixed_exposure_ns = 5259763
fixed_gain = 800

[cameras.preview]
enabled = true
width = 640
height = 480

[server]
signaling_port = 9100
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name(), zap.NewNop())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Cameras) != 1 {
		t.Fatalf("len(Cameras) = %d, want 1", len(cfg.Cameras))
	}
	cam := cfg.Cameras[0]
	if cam.Name != "front" || cam.Type != SensorIMX214 {
		t.Errorf("camera = %+v, want name=front type=imx214", cam)
	}
	if cam.FixedExposureNs != 5259763 {
		t.Errorf("FixedExposureNs = %d, want 5259763", cam.FixedExposureNs)
	}
	if cfg.Server.SignalingPort != 9100 {
		t.Errorf("SignalingPort = %d, want 9100", cfg.Server.SignalingPort)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-invalid-*.toml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.WriteString("[cameras\nbroken")
	tmpFile.Close()

	if _, err := LoadConfig(tmpFile.Name(), zap.NewNop()); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidateRejectsBadSensorType(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cameras[0].Type = "not-a-sensor"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for invalid sensor type")
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cameras = append(cfg.Cameras, cfg.Cameras[0])
	if err := Validate(cfg); err == nil {
		t.Error("expected error for duplicate camera name")
	}
}

func TestValidateRejectsZeroDecimatorForToF(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cameras[0].Type = SensorPMDTof
	cfg.Cameras[0].Decimator = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for decimator < 1 on a ToF camera")
	}
}

func TestSensorKindHelpers(t *testing.T) {
	if !SensorIMX214.IsColor() {
		t.Error("imx214 should be color")
	}
	if SensorOV7251.IsColor() {
		t.Error("ov7251 should not be color")
	}
	if !SensorPMDTof.IsToF() {
		t.Error("pmd-tof should be ToF")
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	cfg := defaultConfig()
	tmpFile, err := os.CreateTemp("", "test-save-*.toml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	if err := SaveConfig(cfg, tmpFile.Name()); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	reloaded, err := LoadConfig(tmpFile.Name(), zap.NewNop())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if reloaded.Cameras[0].Name != cfg.Cameras[0].Name {
		t.Errorf("round-trip camera name mismatch: %q != %q", reloaded.Cameras[0].Name, cfg.Cameras[0].Name)
	}
}
