package server

import (
	"testing"

	"camserver/config"
)

func TestSynthesizeSlaveConfigDerivesFromMaster(t *testing.T) {
	secondID := 1
	master := config.CameraConfig{
		Name: "stereo", CameraID: 0, CameraIDSecond: &secondID,
		Preview:             config.StreamConfig{Enabled: true, Width: 640, Height: 480},
		AEMode:              config.AELmeHist,
		IndependentExposure: false,
	}

	slave := synthesizeSlaveConfig(master)

	if slave.Name != "stereo_slave" {
		t.Errorf("slave.Name = %q, want %q", slave.Name, "stereo_slave")
	}
	if slave.CameraID != 1 {
		t.Errorf("slave.CameraID = %d, want 1", slave.CameraID)
	}
	if slave.CameraIDSecond != nil {
		t.Error("slave must not itself be a stereo master")
	}
	if slave.AEMode != config.AEOff {
		t.Errorf("slave.AEMode = %v, want AEOff when exposure is shared", slave.AEMode)
	}
	if slave.Preview.Width != 640 || slave.Preview.Height != 480 {
		t.Error("slave must inherit the master's stream geometry")
	}
}

func TestSynthesizeSlaveConfigKeepsOwnAEWhenIndependent(t *testing.T) {
	secondID := 1
	master := config.CameraConfig{
		Name: "stereo", CameraID: 0, CameraIDSecond: &secondID,
		AEMode:              config.AELmeHist,
		IndependentExposure: true,
	}

	slave := synthesizeSlaveConfig(master)

	if slave.AEMode != config.AELmeHist {
		t.Errorf("slave.AEMode = %v, want AELmeHist when exposure is independent", slave.AEMode)
	}
}
