// Package stereo implements the master-side rendezvous point that pairs a
// stereo master's frame with its slave counterpart by timestamp (§4.6),
// translated from the original HAL3 camera manager's
// pthread_mutex/pthread_cond_wait rendezvous loop into sync.Mutex/sync.Cond.
package stereo

import "sync"

// DiscardReason explains why a Pair call returned a discard instead of a
// paired frame.
type DiscardReason int

const (
	DiscardNone DiscardReason = iota
	// DiscardSlaveTooNew: the slave's pending frame is newer than the
	// master's by more than the skew threshold, so this master frame is
	// discarded while the slave slot is kept intact (§4.6 step 4).
	DiscardSlaveTooNew
	DiscardStopped
)

// SlaveFrame is what the slave deposits into the rendezvous slot.
type SlaveFrame struct {
	TimestampNs int64
	Y           []byte
	UV          []byte // nil for mono streams
}

// Rendezvous is the mutex+two-condition-variable hand-off point (§4.6, §9).
// It holds at most one pending slave frame; the master consumes it,
// the slave blocks until the master signals it has done so.
type Rendezvous struct {
	mu    sync.Mutex
	slave *sync.Cond // slave waits on this until master consumes
	master *sync.Cond // master waits on this until slave deposits

	pending  *SlaveFrame
	consumed bool // flips true once master has pulled the pending frame this round
	stopped  bool
}

// NewRendezvous constructs an empty rendezvous point.
func NewRendezvous() *Rendezvous {
	r := &Rendezvous{}
	r.slave = sync.NewCond(&r.mu)
	r.master = sync.NewCond(&r.mu)
	return r
}

// Deposit is called by the slave pipeline: it places its frame into the
// slot, wakes the master, and blocks until the master has consumed it.
func (r *Rendezvous) Deposit(f SlaveFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.pending != nil && !r.stopped {
		// Previous frame not yet consumed: wait for room in the slot.
		r.slave.Wait()
	}
	if r.stopped {
		return
	}
	r.pending = &f
	r.consumed = false
	r.master.Signal()

	for !r.consumed && !r.stopped {
		r.slave.Wait()
	}
}

// Pair is called by the master pipeline with its own timestamp and frame
// period. It waits for a slave frame, applies the skew-discard protocol,
// and returns either a paired slave frame or a DiscardReason.
func (r *Rendezvous) Pair(masterTsNs int64, framePeriodNs int64) (SlaveFrame, DiscardReason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := int64(float64(framePeriodNs) * 0.9)

	for {
		for r.pending == nil && !r.stopped {
			r.master.Wait()
		}
		if r.stopped {
			r.slave.Broadcast()
			return SlaveFrame{}, DiscardStopped
		}

		diff := masterTsNs - r.pending.TimestampNs
		switch {
		case diff > threshold:
			// Master is too new: discard the stale slave frame, signal it
			// free, and wait again for a fresher one.
			r.pending = nil
			r.consumed = true
			r.slave.Signal()
			continue
		case diff < -threshold:
			// Slave is too new: discard this master frame but keep the
			// slave slot intact for the next master frame.
			return SlaveFrame{}, DiscardSlaveTooNew
		default:
			frame := *r.pending
			r.pending = nil
			r.consumed = true
			r.slave.Signal()
			return frame, DiscardNone
		}
	}
}

// Stop broadcasts on both condition variables so neither side can remain
// blocked (§5 cancellation).
func (r *Rendezvous) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.master.Broadcast()
	r.slave.Broadcast()
}
