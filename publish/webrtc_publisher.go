package publish

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// signalingMessage mirrors the teacher's webrtc/signaling.go wire shape:
// a typed envelope carrying an SDP offer/answer, an ICE candidate, or (new
// in this module) a control-channel command string, all multiplexed over
// one WebSocket so a subscriber needs only one connection per channel.
type signalingMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WebRTCPublisher serves one WebSocket signaling endpoint that, per
// connection, subscribes the caller to a single named channel (selected by
// the `channel` query parameter) and hands them a dedicated video track,
// generalizing the teacher's single-camera PeerConnection/SignalingServer
// pair to an arbitrary set of Publisher channels (§4.12).
type WebRTCPublisher struct {
	registry       *Registry
	upgrader       websocket.Upgrader
	webrtcConfig   webrtc.Configuration
	logger         *zap.Logger
	allowedOrigins []string
}

// NewWebRTCPublisher builds a WebRTCPublisher backed by registry.
func NewWebRTCPublisher(registry *Registry, webrtcConfig webrtc.Configuration, allowedOrigins []string, logger *zap.Logger) *WebRTCPublisher {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	p := &WebRTCPublisher{
		registry:       registry,
		webrtcConfig:   webrtcConfig,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	p.upgrader = websocket.Upgrader{
		CheckOrigin:     p.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return p
}

func (p *WebRTCPublisher) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range p.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	p.logger.Warn("origin not allowed", zap.String("origin", origin))
	return false
}

// HandleWebSocket upgrades the request, creates a peer connection and video
// track for the requested channel, and registers the subscriber with that
// channel's Hub.
func (p *WebRTCPublisher) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "missing channel query parameter", http.StatusBadRequest)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	sub, err := newWebRTCSubscriber(channel, p.webrtcConfig, conn, p.logger)
	if err != nil {
		p.logger.Error("failed to create subscriber", zap.String("channel", channel), zap.Error(err))
		conn.Close()
		return
	}

	hub := p.registry.Channel(channel)
	hub.Add(sub)
	go sub.readPump(func() { hub.Remove(sub.id) })
}

// webrtcSubscriber adapts one pion PeerConnection + TrackLocalStaticSample
// to the Subscriber interface, the way the teacher's PeerConnection wraps
// the same pair in webrtc/peer.go's WriteFrame.
type webrtcSubscriber struct {
	id     string
	conn   *websocket.Conn
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	logger *zap.Logger

	commands chan string
	closed   atomic.Bool
	mu       sync.Mutex
}

func newWebRTCSubscriber(channel string, config webrtc.Configuration, conn *websocket.Conn, logger *zap.Logger) (*webrtcSubscriber, error) {
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("publish: new peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		channel, channel+"-stream",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("publish: new track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("publish: add track: %w", err)
	}

	id := uuid.New().String()
	s := &webrtcSubscriber{
		id:       id,
		conn:     conn,
		pc:       pc,
		track:    track,
		logger:   logger.With(zap.String("subscriber_id", id), zap.String("channel", channel)),
		commands: make(chan string, 16),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.sendJSON(signalingMessage{Type: "ice-candidate", Data: c.ToJSON()})
	})

	return s, nil
}

func (s *webrtcSubscriber) ID() string { return s.id }

// WriteSample implements Subscriber by forwarding to the peer's video track.
func (s *webrtcSubscriber) WriteSample(data []byte, duration time.Duration) error {
	return s.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

func (s *webrtcSubscriber) Commands() <-chan string { return s.commands }

// readPump handles the signaling/control multiplex for this subscriber's
// connection until it errors out or closes, mirroring the teacher's
// SignalingClient.readPump dispatch shape.
func (s *webrtcSubscriber) readPump(onClose func()) {
	defer func() {
		s.Close()
		if onClose != nil {
			onClose()
		}
	}()

	for {
		var msg signalingMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "offer":
			s.handleOffer(msg.Data)
		case "ice-candidate":
			s.handleICE(msg.Data)
		case "command":
			s.handleCommand(msg.Data)
		default:
			s.logger.Debug("unknown signaling message type", zap.String("type", msg.Type))
		}
	}
}

func (s *webrtcSubscriber) handleOffer(data interface{}) {
	var offer webrtc.SessionDescription
	if err := remarshal(data, &offer); err != nil {
		s.logger.Warn("invalid offer", zap.Error(err))
		return
	}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		s.logger.Warn("set remote description failed", zap.Error(err))
		return
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.logger.Warn("create answer failed", zap.Error(err))
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.logger.Warn("set local description failed", zap.Error(err))
		return
	}
	s.sendJSON(signalingMessage{Type: "answer", Data: answer})
}

func (s *webrtcSubscriber) handleICE(data interface{}) {
	var candidate webrtc.ICECandidateInit
	if err := remarshal(data, &candidate); err != nil {
		s.logger.Warn("invalid ICE candidate", zap.Error(err))
		return
	}
	if err := s.pc.AddICECandidate(candidate); err != nil {
		s.logger.Warn("add ICE candidate failed", zap.Error(err))
	}
}

// handleCommand accepts a control command string (§4.9) arriving in-band
// over this subscriber's own signaling socket, per §4.12's reuse of the
// WebSocket transport for the control surface.
func (s *webrtcSubscriber) handleCommand(data interface{}) {
	cmd, ok := data.(string)
	if !ok {
		s.logger.Warn("command payload is not a string")
		return
	}
	select {
	case s.commands <- cmd:
	default:
		s.logger.Warn("control command dropped, subscriber backlog full")
	}
}

func (s *webrtcSubscriber) sendJSON(msg signalingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Warn("signaling write failed", zap.Error(err))
	}
}

// Close implements Subscriber.
func (s *webrtcSubscriber) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.commands)
	s.pc.Close()
	return s.conn.Close()
}

func remarshal(data interface{}, target interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}
