package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/infrastructure/signal"
)

var errTransportClosed = errors.New("transport closed")

// Transport implements ports.Transport on pion PeerConnections, one per data
// or media link, negotiated through the signaling broker. Offers and answers
// carry fully gathered SDP.
type Transport struct {
	cfg     Config
	api     *webrtc.API
	metrics Metrics
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	localID domain.PeerID
	handler ports.TransportHandler
	signal  *signalClient
	conns   map[string]*connection
	closed  bool
	stop    chan struct{}
}

// NewTransport builds a transport. metrics may be nil.
func NewTransport(cfg Config, metrics Metrics, logger *zap.SugaredLogger) (*Transport, error) {
	api, err := newAPI(cfg)
	if err != nil {
		return nil, err
	}
	return &Transport{
		cfg:     cfg,
		api:     api,
		metrics: metrics,
		logger:  logger,
		conns:   make(map[string]*connection),
		stop:    make(chan struct{}),
	}, nil
}

// Register connects to the broker as localID. The handler's OnOpen fires once
// the broker confirms the identity.
func (t *Transport) Register(ctx context.Context, localID domain.PeerID, handler ports.TransportHandler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	if t.signal != nil {
		t.mu.Unlock()
		return fmt.Errorf("already registered as %s", t.localID)
	}
	t.mu.Unlock()

	client, err := dialSignal(ctx, t.cfg, localID)
	if err != nil {
		return &ports.TransportError{Kind: ports.ErrKindNetwork, Message: err.Error()}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		client.close()
		return errTransportClosed
	}
	t.localID = localID
	t.handler = handler
	t.signal = client
	t.mu.Unlock()

	go t.readLoop(client, handler)
	if t.cfg.HeartbeatInterval > 0 {
		go t.heartbeat(client)
	}

	t.logger.Infow("registering with signal server", "peer_id", localID, "signal_url", t.cfg.SignalURL)
	return nil
}

func (t *Transport) readLoop(client *signalClient, handler ports.TransportHandler) {
	for {
		msg, err := client.read()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Warnw("lost connection to signal server", "error", err)
				handler.OnError(&ports.TransportError{Kind: ports.ErrKindNetwork, Message: "lost connection to signal server"})
			}
			return
		}
		t.dispatch(handler, msg)
	}
}

func (t *Transport) heartbeat(client *signalClient) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := client.send(signal.Message{Type: signal.TypeHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (t *Transport) dispatch(handler ports.TransportHandler, msg signal.Message) {
	switch msg.Type {
	case signal.TypeOpen:
		handler.OnOpen()

	case signal.TypeError:
		handler.OnError(&ports.TransportError{Kind: errorKind(msg.Kind), Message: msg.Message})

	case signal.TypeOffer:
		t.handleOffer(handler, msg)

	case signal.TypeAnswer:
		var payload signal.SessionPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.logger.Warnw("invalid answer payload", "from", msg.From, "error", err)
			return
		}
		conn := t.lookup(payload.ConnectionID)
		if conn == nil || conn.remote != msg.From {
			return
		}
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}
		if err := conn.pc.SetRemoteDescription(answer); err != nil {
			t.logger.Warnw("failed to apply answer", "connection_id", conn.id, "error", err)
			conn.close(true)
		}

	case signal.TypeCandidate:
		var payload signal.CandidatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		conn := t.lookup(payload.ConnectionID)
		if conn == nil || conn.remote != msg.From {
			return
		}
		candidate := webrtc.ICECandidateInit{
			Candidate:     payload.Candidate,
			SDPMid:        payload.SDPMid,
			SDPMLineIndex: payload.SDPMLineIndex,
		}
		if err := conn.pc.AddICECandidate(candidate); err != nil {
			t.logger.Debugw("failed to add ICE candidate", "connection_id", conn.id, "error", err)
		}

	case signal.TypeLeave:
		var payload signal.SessionPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return
			}
		}
		for _, conn := range t.connectionsWith(msg.From) {
			if payload.ConnectionID == "" || payload.ConnectionID == conn.id {
				conn.close(false)
			}
		}

	default:
		t.logger.Debugw("ignoring signal message", "type", msg.Type)
	}
}

func errorKind(kind string) ports.TransportErrorKind {
	switch kind {
	case signal.KindUnavailableID:
		return ports.ErrKindUnavailableID
	case signal.KindPeerUnavailable:
		return ports.ErrKindPeerUnavailable
	default:
		return ports.ErrKindServer
	}
}

func (t *Transport) handleOffer(handler ports.TransportHandler, msg signal.Message) {
	var payload signal.SessionPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.logger.Warnw("invalid offer payload", "from", msg.From, "error", err)
		return
	}

	conn, err := t.newConnection(payload.ConnectionID, payload.ConnectionType, msg.From)
	if err != nil {
		t.logger.Warnw("failed to accept connection", "from", msg.From, "error", err)
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}

	switch payload.ConnectionType {
	case signal.ConnectionData:
		link := newDataLink(conn)
		conn.pc.OnDataChannel(link.attach)
		handler.OnConnection(link)
		go conn.answer(&offer)

	case signal.ConnectionMedia:
		link := newMediaLink(conn)
		if err := conn.pc.SetRemoteDescription(offer); err != nil {
			t.logger.Warnw("failed to apply offer", "connection_id", conn.id, "error", err)
			conn.close(true)
			return
		}
		handler.OnCall(link)

	default:
		conn.close(true)
	}
}

// Connect opens a reliable ordered data channel to remote.
func (t *Transport) Connect(remote domain.PeerID) (ports.DataLink, error) {
	conn, err := t.newConnection(uuid.NewString(), signal.ConnectionData, remote)
	if err != nil {
		return nil, err
	}

	ordered := true
	dc, err := conn.pc.CreateDataChannel("data", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		conn.close(false)
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	link := newDataLink(conn)
	link.attach(dc)
	go conn.offer()
	return link, nil
}

// Call starts a media call to remote sending the tracks of stream.
func (t *Transport) Call(remote domain.PeerID, stream ports.MediaStream) (ports.MediaLink, error) {
	conn, err := t.newConnection(uuid.NewString(), signal.ConnectionMedia, remote)
	if err != nil {
		return nil, err
	}

	link := newMediaLink(conn)
	if err := link.addTracks(stream); err != nil {
		conn.close(false)
		return nil, err
	}
	if err := link.receiveMissing(); err != nil {
		conn.close(false)
		return nil, err
	}
	link.markAnswered()
	go conn.offer()
	return link, nil
}

// Close hangs up every link and leaves the broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.stop)
	client := t.signal
	conns := make([]*connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.close(true)
	}
	if client != nil {
		return client.close()
	}
	return nil
}

func (t *Transport) newConnection(id, kind string, remote domain.PeerID) (*connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errTransportClosed
	}
	if t.signal == nil {
		return nil, fmt.Errorf("transport not registered")
	}
	if _, exists := t.conns[id]; exists {
		return nil, fmt.Errorf("duplicate connection id %s", id)
	}

	pc, err := t.createPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	conn := &connection{
		id:        id,
		kind:      kind,
		remote:    remote,
		pc:        pc,
		transport: t,
		logger:    t.logger.With("connection_id", id, "remote_id", remote, "connection_type", kind),
	}
	pc.OnICEConnectionStateChange(conn.handleICEConnectionState)
	pc.OnConnectionStateChange(conn.handleConnectionState)
	t.conns[id] = conn
	return conn, nil
}

func (t *Transport) lookup(id string) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[id]
}

func (t *Transport) connectionsWith(remote domain.PeerID) []*connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*connection
	for _, c := range t.conns {
		if c.remote == remote {
			out = append(out, c)
		}
	}
	return out
}

func (t *Transport) forget(c *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[c.id] == c {
		delete(t.conns, c.id)
	}
}

func (t *Transport) send(msg signal.Message) error {
	t.mu.Lock()
	client := t.signal
	t.mu.Unlock()
	if client == nil {
		return errTransportClosed
	}
	return client.send(msg)
}
