// Package publish implements the named IPC channels frames are broadcast on
// (§2, §6): a Publisher is a typed channel with possibly-many subscribers,
// a write fans out to all of them, and subscription state is observable via
// NumSubscribers so upstream code (depth.Adapter, the request loop's stream
// selection and video processing) can skip building output nobody will
// receive.
package publish

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"camserver/metadata"
)

// Publisher is the capability interface every published channel satisfies.
// Commands returns the channel's inbound control-command stream (§4.9); a
// channel with no control surface (e.g. a raw point-cloud feed) may return
// a channel that is never written to.
type Publisher interface {
	Write(meta metadata.Frame, segments ...[]byte) error
	NumSubscribers() int
	Commands() <-chan string
	Close() error
}

// Subscriber is one connected consumer of a channel's frames. Hub is
// transport-agnostic: WebRTCPublisher's subscribers satisfy this interface
// by wrapping a pion PeerConnection's TrackLocalStaticSample; tests and the
// in-process Hub use simpler stand-ins.
type Subscriber interface {
	ID() string
	WriteSample(data []byte, duration time.Duration) error
	Commands() <-chan string
	Close() error
}

// Hub is the in-process Publisher implementation (§9's "publish.Hub"):
// fan-out to a set of Subscribers plus fan-in of their control commands.
// WebRTCPublisher composes one Hub per named channel.
type Hub struct {
	name   string
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]Subscriber
	cancels     map[string]chan struct{}

	commands chan string
	closed   bool
}

// NewHub builds an empty Hub for the named channel.
func NewHub(name string, logger *zap.Logger) *Hub {
	return &Hub{
		name:        name,
		logger:      logger,
		subscribers: make(map[string]Subscriber),
		cancels:     make(map[string]chan struct{}),
		commands:    make(chan string, 64),
	}
}

// Add registers a new subscriber and starts fanning its commands into the
// Hub's shared Commands() stream.
func (h *Hub) Add(s Subscriber) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Close()
		return
	}
	stop := make(chan struct{})
	h.subscribers[s.ID()] = s
	h.cancels[s.ID()] = stop
	h.mu.Unlock()

	go h.pumpCommands(s, stop)
}

func (h *Hub) pumpCommands(s Subscriber, stop chan struct{}) {
	for {
		select {
		case cmd, ok := <-s.Commands():
			if !ok {
				return
			}
			select {
			case h.commands <- cmd:
			default:
				if h.logger != nil {
					h.logger.Warn("control command dropped, backlog full", zap.String("channel", h.name))
				}
			}
		case <-stop:
			return
		}
	}
}

// Remove unregisters a subscriber (e.g. on disconnect) without closing the
// Hub itself.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if stop, ok := h.cancels[id]; ok {
		close(stop)
		delete(h.cancels, id)
	}
	delete(h.subscribers, id)
}

// Write implements Publisher: concatenates segments in order into a single
// payload (pipeline callers pass the encoded metadata header followed by
// one or more planes, e.g. Y, Y then UV, or a stereo pair's planes back to
// back) and fans it out to every current subscriber. A per-subscriber write error is
// logged and that subscriber is dropped; Write itself only fails if every
// subscriber write failed.
func (h *Hub) Write(meta metadata.Frame, segments ...[]byte) error {
	payload := joinSegments(segments)
	duration := frameDuration(meta)

	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	failures := 0
	for _, s := range subs {
		if err := s.WriteSample(payload, duration); err != nil {
			failures++
			if h.logger != nil {
				h.logger.Warn("subscriber write failed, dropping",
					zap.String("channel", h.name), zap.String("subscriber", s.ID()), zap.Error(err))
			}
			h.Remove(s.ID())
		}
	}
	if failures == len(subs) {
		return fmt.Errorf("publish: all %d subscribers on %q failed", failures, h.name)
	}
	return nil
}

// NumSubscribers implements Publisher and depth.SubscriberCounter's
// per-channel query shape.
func (h *Hub) NumSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Commands implements Publisher.
func (h *Hub) Commands() <-chan string { return h.commands }

// Close disconnects every subscriber and stops accepting new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	for _, stop := range h.cancels {
		close(stop)
	}
	h.subscribers = make(map[string]Subscriber)
	h.cancels = make(map[string]chan struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	close(h.commands)
	return nil
}

func joinSegments(segments [][]byte) []byte {
	if len(segments) == 1 {
		return segments[0]
	}
	total := 0
	for _, s := range segments {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}

func frameDuration(meta metadata.Frame) time.Duration {
	if meta.Framerate == 0 {
		return 0
	}
	return time.Second / time.Duration(meta.Framerate)
}
