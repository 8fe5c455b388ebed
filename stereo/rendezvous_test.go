package stereo

import (
	"testing"
	"time"
)

const framePeriodNs = int64(time.Second) / 30

func TestPairWithinSkewSucceeds(t *testing.T) {
	r := NewRendezvous()
	go r.Deposit(SlaveFrame{TimestampNs: 1_000_000_000, Y: []byte{1, 2, 3}})

	frame, reason := r.Pair(1_000_001_000, framePeriodNs)
	if reason != DiscardNone {
		t.Fatalf("reason = %v, want DiscardNone", reason)
	}
	if len(frame.Y) != 3 {
		t.Fatalf("got Y len %d, want 3", len(frame.Y))
	}
}

func TestPairDiscardsWhenSlaveTooNew(t *testing.T) {
	r := NewRendezvous()
	done := make(chan struct{})
	go func() {
		r.Deposit(SlaveFrame{TimestampNs: 10_000_000_000})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond) // let Deposit park its frame

	// Master timestamp far earlier than slave -> slave too new, master frame discarded.
	_, reason := r.Pair(1_000_000_000, framePeriodNs)
	if reason != DiscardSlaveTooNew {
		t.Fatalf("reason = %v, want DiscardSlaveTooNew", reason)
	}

	// The slot should still hold the slave's frame for the next master call.
	frame, reason2 := r.Pair(10_000_000_500, framePeriodNs)
	if reason2 != DiscardNone {
		t.Fatalf("second Pair reason = %v, want DiscardNone", reason2)
	}
	if frame.TimestampNs != 10_000_000_000 {
		t.Fatalf("TimestampNs = %d, want 10000000000", frame.TimestampNs)
	}
	<-done
}

func TestPairDiscardsStaleSlaveAndWaitsForFresh(t *testing.T) {
	r := NewRendezvous()

	go func() {
		r.Deposit(SlaveFrame{TimestampNs: 0}) // stale: far behind master
	}()
	time.Sleep(20 * time.Millisecond)

	resultCh := make(chan SlaveFrame, 1)
	go func() {
		// Master timestamp far ahead -> first pending (stale) slave frame is
		// discarded internally, then Pair waits for a fresh deposit.
		f, reason := r.Pair(100_000_000_000, framePeriodNs)
		if reason == DiscardNone {
			resultCh <- f
		}
	}()

	time.Sleep(20 * time.Millisecond)
	go r.Deposit(SlaveFrame{TimestampNs: 100_000_001_000})

	select {
	case f := <-resultCh:
		if f.TimestampNs != 100_000_001_000 {
			t.Fatalf("TimestampNs = %d, want 100000001000", f.TimestampNs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fresh pair")
	}
}

func TestStopUnblocksBothSides(t *testing.T) {
	// Each side blocks on its own Rendezvous, so only Stop can release it.
	r := NewRendezvous()
	r2 := NewRendezvous()
	depositDone := make(chan struct{})
	pairDone := make(chan DiscardReason, 1)

	go func() {
		r.Deposit(SlaveFrame{TimestampNs: 1})
		close(depositDone)
	}()

	go func() {
		_, reason := r2.Pair(999_999_999_999, framePeriodNs)
		pairDone <- reason
	}()

	time.Sleep(10 * time.Millisecond)
	r.Stop()
	r2.Stop()

	select {
	case reason := <-pairDone:
		if reason != DiscardStopped {
			t.Fatalf("reason = %v, want DiscardStopped", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pair did not unblock after Stop")
	}

	select {
	case <-depositDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Deposit did not unblock after Stop")
	}
}
