package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"camserver/buffer"
	"camserver/config"
	"camserver/hal"
)

// runRequestLoop implements §4.1: decide which streams to request this
// iteration, acquire their buffers, stamp exposure/gain, and submit.
func (p *CameraPipeline) runRequestLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		if p.estop.Load() || p.stop.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		wanted := p.selectStreams()
		if len(wanted) == 0 {
			p.admissionWait(ctx)
			continue
		}

		req := hal.CaptureRequest{Sequence: p.seq.Load(), Buffers: make(map[hal.StreamID]buffer.Handle)}
		for _, id := range wanted {
			h, ok := p.pools[id].TryAcquire()
			if !ok {
				p.logger.Debug("pool exhausted, omitting stream", zap.String("pipeline", p.cfg.Name), zap.Int("stream", int(id)))
				continue
			}
			req.Buffers[id] = h
		}
		if len(req.Buffers) == 0 {
			p.admissionWait(ctx)
			continue
		}

		if p.cfg.AEMode != config.AEIsp {
			expNs, gain := p.exposure.Get()
			req.ExposureNs = expNs
			req.Gain = gain
		}

		if err := p.device.SubmitRequest(req); err != nil {
			p.releaseAll(req.Buffers)
			p.fail("request_loop", err)
			return
		}
		p.seq.Add(1)
	}
}

func (p *CameraPipeline) releaseAll(buffers map[hal.StreamID]buffer.Handle) {
	for id, h := range buffers {
		if pool, ok := p.pools[id]; ok {
			pool.Release(h)
		}
	}
}

// admissionWait backs off 10ms when no wanted stream had a free buffer,
// using a rate.Limiter instead of a bare time.Sleep so a recovering pool
// gets an immediate burst rather than waiting out a fixed tick (§4.12).
func (p *CameraPipeline) admissionWait(ctx context.Context) {
	reservation := p.limiter.Reserve()
	delay := reservation.Delay()
	if delay <= 0 {
		return
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// selectStreams applies §4.1 step 1's demand rules and returns the set of
// enabled streams to request this iteration.
func (p *CameraPipeline) selectStreams() []hal.StreamID {
	var wanted []hal.StreamID

	wantSmall := p.cfg.SmallVideo.Enabled && (p.registry.NumSubscribers(p.channels.smallGrey) > 0 ||
		p.registry.NumSubscribers(p.channels.smallColor) > 0 ||
		p.registry.NumSubscribers(p.channels.smallH264) > 0)
	if wantSmall {
		wanted = append(wanted, hal.StreamSmallVideo)
	}

	wantLarge := p.cfg.LargeVideo.Enabled && (p.registry.NumSubscribers(p.channels.largeGrey) > 0 ||
		p.registry.NumSubscribers(p.channels.largeColor) > 0 ||
		p.registry.NumSubscribers(p.channels.largeH264) > 0)
	if wantLarge {
		wanted = append(wanted, hal.StreamLargeVideo)
	}

	wantSnapshot := false
	if p.cfg.Snapshot.Enabled && p.pendingSnapshots.Load() > 0 {
		wantSnapshot = true
		p.pendingSnapshots.Add(-1)
		wanted = append(wanted, hal.StreamSnapshot)
	}

	previewSubscribed := p.registry.NumSubscribers(p.channels.grey) > 0 || p.registry.NumSubscribers(p.channels.color) > 0 ||
		p.registry.NumSubscribers(p.channels.composite) > 0
	aeSoftware := p.cfg.AEMode.Software()
	aeISPNeedsStream := p.cfg.AEMode == config.AEIsp && !wantSmall && !wantLarge && !wantSnapshot
	if p.cfg.Preview.Enabled && (previewSubscribed || aeSoftware || aeISPNeedsStream) {
		wanted = append(wanted, hal.StreamPreview)
	}

	return wanted
}
