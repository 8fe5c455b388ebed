package publish

import (
	"errors"
	"testing"
	"time"

	"camserver/metadata"
)

type fakeSubscriber struct {
	id        string
	written   [][]byte
	durations []time.Duration
	writeErr  error
	commands  chan string
	closed    bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id, commands: make(chan string, 4)}
}

func (f *fakeSubscriber) ID() string { return f.id }
func (f *fakeSubscriber) WriteSample(data []byte, duration time.Duration) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, data)
	f.durations = append(f.durations, duration)
	return nil
}
func (f *fakeSubscriber) Commands() <-chan string { return f.commands }
func (f *fakeSubscriber) Close() error            { f.closed = true; return nil }

func TestHubWriteFansOutToAllSubscribers(t *testing.T) {
	h := NewHub("test", nil)
	a, b := newFakeSubscriber("a"), newFakeSubscriber("b")
	h.Add(a)
	h.Add(b)

	if err := h.Write(metadata.Frame{Framerate: 30}, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write() = %v, want nil", err)
	}
	if len(a.written) != 1 || len(b.written) != 1 {
		t.Fatalf("expected both subscribers to receive one write, got a=%d b=%d", len(a.written), len(b.written))
	}
	wantDur := time.Second / 30
	if a.durations[0] != wantDur {
		t.Errorf("duration = %v, want %v", a.durations[0], wantDur)
	}
}

func TestHubWriteWithNoSubscribersIsNotAnError(t *testing.T) {
	h := NewHub("empty", nil)
	if err := h.Write(metadata.Frame{}, []byte{1}); err != nil {
		t.Errorf("Write() with no subscribers = %v, want nil", err)
	}
}

func TestHubWriteJoinsMultipleSegments(t *testing.T) {
	h := NewHub("stereo", nil)
	s := newFakeSubscriber("s")
	h.Add(s)

	if err := h.Write(metadata.Frame{}, []byte{1, 2}, []byte{3, 4}); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	want := []byte{1, 2, 3, 4}
	got := s.written[0]
	if len(got) != len(want) {
		t.Fatalf("joined payload len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("joined payload = %v, want %v", got, want)
		}
	}
}

func TestHubDropsFailingSubscriberButKeepsOthers(t *testing.T) {
	h := NewHub("mixed", nil)
	ok := newFakeSubscriber("ok")
	bad := newFakeSubscriber("bad")
	bad.writeErr = errors.New("boom")
	h.Add(ok)
	h.Add(bad)

	if err := h.Write(metadata.Frame{}, []byte{1}); err != nil {
		t.Fatalf("Write() = %v, want nil (not all subscribers failed)", err)
	}
	if h.NumSubscribers() != 1 {
		t.Errorf("NumSubscribers() = %d, want 1 after dropping the failing one", h.NumSubscribers())
	}
}

func TestHubCommandsFanInFromSubscribers(t *testing.T) {
	h := NewHub("ctrl", nil)
	s := newFakeSubscriber("s")
	h.Add(s)
	s.commands <- "set_exp 10"

	select {
	case cmd := <-h.Commands():
		if cmd != "set_exp 10" {
			t.Errorf("cmd = %q, want %q", cmd, "set_exp 10")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fanned-in command")
	}
}

func TestHubCloseClosesAllSubscribers(t *testing.T) {
	h := NewHub("close", nil)
	s := newFakeSubscriber("s")
	h.Add(s)
	h.Close()
	if !s.closed {
		t.Error("subscriber should be closed when Hub closes")
	}
	if h.NumSubscribers() != 0 {
		t.Errorf("NumSubscribers() after Close() = %d, want 0", h.NumSubscribers())
	}
}

func TestRegistryNumSubscribersForUnknownChannelIsZero(t *testing.T) {
	r := NewRegistry(nil)
	if r.NumSubscribers("never-referenced") != 0 {
		t.Error("unknown channel should report zero subscribers")
	}
}

func TestRegistryChannelIsStableAcrossCalls(t *testing.T) {
	r := NewRegistry(nil)
	a := r.Channel("x")
	b := r.Channel("x")
	if a != b {
		t.Error("Channel() should return the same Hub for the same name")
	}
}
