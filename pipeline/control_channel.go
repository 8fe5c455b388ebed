package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"camserver/ae"
	"camserver/config"
)

// snapshotAutoDir is where a pathless "snapshot" command writes its
// auto-named file, matching the original's /data/snapshots/%s-%d.jpg scheme.
// Var rather than const so tests can point it at a scratch directory.
var snapshotAutoDir = "/data/snapshots"

// controlChannelNames lists every Publisher channel this pipeline exposes
// a control surface on (§4.9): any subscriber on any of the pipeline's
// channels may issue a command over its own signaling connection.
func (p *CameraPipeline) controlChannelNames() []string {
	names := []string{p.channels.grey}
	if p.cfg.Type.IsColor() {
		names = append(names, p.channels.color)
	}
	if p.cfg.SmallVideo.Enabled {
		names = append(names, p.channels.smallGrey, p.channels.smallH264)
	}
	if p.cfg.LargeVideo.Enabled {
		names = append(names, p.channels.largeGrey, p.channels.largeH264)
	}
	if p.cfg.Snapshot.Enabled {
		names = append(names, p.channels.snapshot)
	}
	if p.cfg.Type.IsToF() {
		names = append(names, p.channels.composite)
	}
	return names
}

// runControlChannel fans in commands from every channel this pipeline owns
// and applies them (§4.9) until the pipeline is stopped.
func (p *CameraPipeline) runControlChannel() {
	defer p.wg.Done()

	agg := make(chan string, 32)
	stopCh := make(chan struct{})
	var fan sync.WaitGroup

	for _, name := range p.controlChannelNames() {
		hub := p.registry.Channel(name)
		fan.Add(1)
		go func(commands <-chan string) {
			defer fan.Done()
			for {
				select {
				case cmd, ok := <-commands:
					if !ok {
						return
					}
					select {
					case agg <- cmd:
					case <-stopCh:
						return
					}
				case <-stopCh:
					return
				}
			}
		}(hub.Commands())
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case cmd := <-agg:
			p.handleCommand(cmd)
		case <-ticker.C:
			if p.stop.Load() || p.estop.Load() {
				close(stopCh)
				fan.Wait()
				return
			}
		}
	}
}

// handleCommand parses and applies one control command (§4.9). Invalid or
// malformed commands are logged and ignored.
func (p *CameraPipeline) handleCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "set_exp_gain":
		if len(args) != 2 {
			p.logWarnBadCommand(line)
			return
		}
		expMs, err1 := strconv.ParseFloat(args[0], 64)
		gain, err2 := strconv.ParseFloat(args[1], 64)
		if err1 != nil || err2 != nil {
			p.logWarnBadCommand(line)
			return
		}
		p.disableAE()
		p.setExposureGain(int64(expMs*1e6), float32(gain))

	case "set_exp":
		if len(args) != 1 {
			p.logWarnBadCommand(line)
			return
		}
		expMs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			p.logWarnBadCommand(line)
			return
		}
		p.disableAE()
		_, gain := p.exposure.Get()
		p.setExposureGain(int64(expMs*1e6), gain)

	case "set_gain":
		if len(args) != 1 {
			p.logWarnBadCommand(line)
			return
		}
		gain, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			p.logWarnBadCommand(line)
			return
		}
		p.disableAE()
		expNs, _ := p.exposure.Get()
		p.setExposureGain(expNs, float32(gain))

	case "start_ae":
		p.setAEAlgo(ae.NewAlgorithm(p.cfg.AEMode, p.cfg))

	case "stop_ae":
		p.setAEAlgo(nil)

	case "snapshot":
		switch len(args) {
		case 0:
			p.snapshotQueue.Push(p.nextSnapshotPath())
		case 1:
			p.snapshotQueue.Push(args[0])
		default:
			p.logWarnBadCommand(line)
			return
		}
		p.pendingSnapshots.Add(1)

	case "snapshot_no_save":
		p.pendingSnapshots.Add(1)

	default:
		p.logWarnBadCommand(line)
	}
}

// nextSnapshotPath generates a destination path for a pathless "snapshot"
// command: resume from the index this pipeline last used and advance until
// a free path is found, rather than rescanning from 0 every time. The
// limiter paces the stat retries so a directory full of collisions can't
// spin this goroutine.
func (p *CameraPipeline) nextSnapshotPath() string {
	for i := p.lastSnapshotIndex; ; i++ {
		if d := p.snapshotNameLimiter.Reserve().Delay(); d > 0 {
			time.Sleep(d)
		}
		path := filepath.Join(snapshotAutoDir, fmt.Sprintf("%s-%d.jpg", p.cfg.Name, i))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			p.lastSnapshotIndex = i
			return path
		}
	}
}

func (p *CameraPipeline) logWarnBadCommand(line string) {
	p.logger.Warn("invalid control command, ignoring", zap.String("pipeline", p.cfg.Name), zap.String("command", line))
}

// disableAE implements the "Disables AE" effect common to the manual
// exposure/gain commands of §4.9.
func (p *CameraPipeline) disableAE() {
	p.setAEAlgo(nil)
}

// setExposureGain clamps to the configured algorithm's min/max bounds and
// applies to this pipeline's ExposureState, mirroring to the stereo slave
// when exposure is shared (§4.9, §4.5).
func (p *CameraPipeline) setExposureGain(expNs int64, gain float32) {
	minExp, maxExp, minGain, maxGain := p.exposureBounds()
	if expNs < minExp {
		expNs = minExp
	}
	if expNs > maxExp {
		expNs = maxExp
	}
	if gain < minGain {
		gain = minGain
	}
	if gain > maxGain {
		gain = maxGain
	}
	p.exposure.Set(expNs, gain)
	if p.isStereoMaster && !p.cfg.IndependentExposure && p.slave != nil {
		p.slave.exposure.Set(expNs, gain)
	}
}

// exposureBounds returns the configured algorithm's min/max exposure and
// gain, used to clamp manual control-channel overrides even while AE is
// disabled.
func (p *CameraPipeline) exposureBounds() (minExp, maxExp int64, minGain, maxGain float32) {
	switch p.cfg.AEMode {
	case config.AELmeHist:
		t := p.cfg.AEHistogram
		return t.ExposureMinNs, t.ExposureMaxNs, float32(t.GainMin), float32(t.GainMax)
	case config.AELmeMSV:
		t := p.cfg.AEMSV
		return t.ExposureMinNs, t.ExposureMaxNs, float32(t.GainMin), float32(t.GainMax)
	default:
		return 0, 1_000_000_000, 0, 64
	}
}
