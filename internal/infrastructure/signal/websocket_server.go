package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/pkg/tracing"
	"peercord/pkg/validation"
)

// TokenVerifier checks that a token was issued for the claimed identity.
type TokenVerifier interface {
	VerifyIdentity(token string, id domain.PeerID) error
}

// Metrics receives broker counters.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageRouted(msgType string)
	MessageRejected(reason string)
}

// Relay carries messages between broker instances sharing one directory.
type Relay interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, deliver func(Message)) error
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	// Per-connection limit; zero disables it.
	MessagesPerSecond float64
	Burst             int

	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// session is one registered websocket connection.
type session struct {
	id      string
	peerID  domain.PeerID
	conn    *websocket.Conn
	limiter *rate.Limiter

	writeMu sync.Mutex
}

func (s *session) write(msg Message, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteJSON(msg)
}

func (s *session) ping(timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// WebSocketServer is the signaling broker. It registers identities and relays
// offers, answers, candidates and leaves between them.
type WebSocketServer struct {
	directory ports.PeerDirectory
	verifier  TokenVerifier
	metrics   Metrics
	relay     Relay
	opts      Options
	upgrader  websocket.Upgrader

	sessions map[domain.PeerID]*session
	mu       sync.RWMutex

	logger *zap.SugaredLogger
}

// NewWebSocketServer builds a broker. verifier and metrics may be nil.
func NewWebSocketServer(directory ports.PeerDirectory, verifier TokenVerifier, metrics Metrics, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	s := &WebSocketServer{
		directory: directory,
		verifier:  verifier,
		metrics:   metrics,
		opts:      opts,
		sessions:  make(map[domain.PeerID]*session),
		logger:    logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return s
}

// UseRelay routes messages for peers registered on other instances through
// relay. It must be called before the server accepts connections.
func (s *WebSocketServer) UseRelay(relay Relay) {
	s.relay = relay
}

// ServeRelay delivers messages published by other instances until ctx ends.
func (s *WebSocketServer) ServeRelay(ctx context.Context) error {
	if s.relay == nil {
		return nil
	}
	return s.relay.Subscribe(ctx, s.deliverRelayed)
}

func (s *WebSocketServer) deliverRelayed(msg Message) {
	s.mu.RLock()
	target, ok := s.sessions[msg.To]
	s.mu.RUnlock()
	if !ok {
		return
	}

	if err := target.write(msg, s.opts.WriteTimeout); err != nil {
		s.logger.Infow("error delivering relayed message", "type", msg.Type, "to_peer", msg.To, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.MessageRouted(msg.Type)
	}
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	peerID := domain.PeerID(r.URL.Query().Get("peer_id"))
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.verifier != nil {
		if err := s.verifier.VerifyIdentity(r.URL.Query().Get("token"), peerID); err != nil {
			s.logger.Warnw("rejected signaling session", "peer_id", peerID, "error", err)
			http.Error(w, "invalid identity token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := &session{
		id:     uuid.NewString(),
		peerID: peerID,
		conn:   conn,
	}
	if s.opts.MessagesPerSecond > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}

	// A live identity is never displaced.
	s.mu.Lock()
	if _, taken := s.sessions[peerID]; taken {
		s.mu.Unlock()
		s.logger.Infow("identity already registered", "peer_id", peerID)
		sess.write(ErrorMessage(KindUnavailableID, fmt.Sprintf("ID %q is taken", peerID)), s.opts.WriteTimeout)
		return
	}
	s.sessions[peerID] = sess
	s.mu.Unlock()

	ctx := context.Background()
	now := time.Now()
	err = s.directory.Register(ctx, ports.PeerPresence{
		ID:          peerID,
		SessionID:   sess.id,
		ConnectedAt: now,
		LastSeen:    now,
	})
	switch {
	case errors.Is(err, domain.ErrIdentityTaken):
		// Held by a session on another instance.
		s.mu.Lock()
		delete(s.sessions, peerID)
		s.mu.Unlock()
		s.logger.Infow("identity registered elsewhere", "peer_id", peerID)
		sess.write(ErrorMessage(KindUnavailableID, fmt.Sprintf("ID %q is taken", peerID)), s.opts.WriteTimeout)
		return
	case err != nil:
		s.logger.Warnw("failed to record peer presence", "peer_id", peerID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}

	s.logger.Infow("peer connected via WebSocket", "peer_id", peerID, "session_id", sess.id)

	if err := sess.write(Message{Type: TypeOpen, To: peerID}, s.opts.WriteTimeout); err != nil {
		s.logger.Infow("error sending open", "peer_id", peerID, "error", err)
		s.cleanup(sess)
		return
	}

	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Message, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if sess.limiter != nil && !sess.limiter.Allow() {
				if s.metrics != nil {
					s.metrics.MessageRejected(KindRateLimited)
				}
				sess.write(ErrorMessage(KindRateLimited, "slow down"), s.opts.WriteTimeout)
				continue
			}
			if err := s.handleMessage(ctx, sess, msg); err != nil {
				s.logger.Infow("error handling message from peer", "peer_id", peerID, "type", msg.Type, "error", err)
				if s.metrics != nil {
					s.metrics.MessageRejected(KindInvalidMessage)
				}
				sess.write(ErrorMessage(KindInvalidMessage, err.Error()), s.opts.WriteTimeout)
			}

		case <-pingTicker.C:
			if err := sess.ping(s.opts.WriteTimeout); err != nil {
				s.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", peerID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.cleanup(sess)
}

func (s *WebSocketServer) cleanup(sess *session) {
	s.mu.Lock()
	if s.sessions[sess.peerID] == sess {
		delete(s.sessions, sess.peerID)
	}
	s.mu.Unlock()

	if err := s.directory.Unregister(context.Background(), sess.peerID, sess.id); err != nil {
		s.logger.Infow("error removing peer presence", "peer_id", sess.peerID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}

	s.logger.Infow("peer disconnected", "peer_id", sess.peerID, "session_id", sess.id)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, from *session, msg Message) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if msg.From != "" && msg.From != from.peerID {
		return fmt.Errorf("from mismatch: expected %s, got %s", from.peerID, msg.From)
	}
	msg.From = from.peerID

	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, string(from.peerID))
	defer span.End()

	var err error
	switch msg.Type {
	case TypeOffer, TypeAnswer:
		err = s.handleSession(ctx, from, msg)
	case TypeCandidate:
		err = s.handleCandidate(ctx, from, msg)
	case TypeLeave:
		err = s.route(ctx, from, msg, false)
	case TypeHeartbeat:
		err = s.directory.Touch(ctx, from.peerID, time.Now())
	default:
		err = fmt.Errorf("unknown message type: %s", msg.Type)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (s *WebSocketServer) handleSession(ctx context.Context, from *session, msg Message) error {
	var payload SessionPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
	}
	if payload.ConnectionID == "" {
		return fmt.Errorf("connection_id is required")
	}
	if payload.ConnectionType != ConnectionData && payload.ConnectionType != ConnectionMedia {
		return fmt.Errorf("unknown connection_type %q", payload.ConnectionType)
	}
	if err := s.validateSDP(payload.SDP); err != nil {
		return fmt.Errorf("invalid SDP in %s: %w", msg.Type, err)
	}

	tracing.AddSpanAttributes(ctx,
		attribute.String("signal.connection_id", payload.ConnectionID),
		attribute.String("signal.connection_type", payload.ConnectionType),
	)
	s.logger.Infow("routing "+msg.Type,
		"from_peer", from.peerID,
		"to_peer", msg.To,
		"connection_id", payload.ConnectionID,
		"connection_type", payload.ConnectionType,
		"sdp_length", len(payload.SDP),
	)

	return s.route(ctx, from, msg, msg.Type == TypeOffer)
}

func (s *WebSocketServer) handleCandidate(ctx context.Context, from *session, msg Message) error {
	var payload CandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid candidate payload: %w", err)
	}
	if payload.Candidate == "" {
		return fmt.Errorf("ICE candidate is required")
	}

	s.logger.Debugw("routing ICE candidate",
		"from_peer", from.peerID,
		"to_peer", msg.To,
		"connection_id", payload.ConnectionID,
	)

	return s.route(ctx, from, msg, false)
}

// route forwards msg to its target, through the relay when the target is
// registered on another instance. Only offers report an unknown target back
// to the sender; late answers, candidates and leaves for a vanished peer are
// dropped.
func (s *WebSocketServer) route(ctx context.Context, from *session, msg Message, reportMissing bool) error {
	if msg.To == "" {
		return fmt.Errorf("target peer is required")
	}

	s.mu.RLock()
	target, ok := s.sessions[msg.To]
	s.mu.RUnlock()

	if !ok && s.relay != nil {
		if _, err := s.directory.Get(ctx, msg.To); err == nil {
			if err := s.relay.Publish(ctx, msg); err != nil {
				return fmt.Errorf("failed to relay %s to %s: %w", msg.Type, msg.To, err)
			}
			tracing.AddSpanAttributes(ctx, attribute.String("signal.to_peer", string(msg.To)), attribute.Bool("signal.relayed", true))
			if s.metrics != nil {
				s.metrics.MessageRouted(msg.Type)
			}
			return nil
		}
	}

	if !ok {
		if reportMissing {
			return from.write(ErrorMessage(KindPeerUnavailable, fmt.Sprintf("Could not connect to peer %s", msg.To)), s.opts.WriteTimeout)
		}
		s.logger.Debugw("dropping message for offline peer", "type", msg.Type, "to_peer", msg.To)
		return nil
	}

	tracing.AddSpanAttributes(ctx, attribute.String("signal.to_peer", string(msg.To)))
	if err := target.write(msg, s.opts.WriteTimeout); err != nil {
		return fmt.Errorf("failed to forward %s to %s: %w", msg.Type, msg.To, err)
	}
	if s.metrics != nil {
		s.metrics.MessageRouted(msg.Type)
	}
	return nil
}

// validateSDP checks the mandatory session-level fields.
func (s *WebSocketServer) validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}

// Shutdown closes every registered session.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.writeMu.Lock()
		deadline := time.Now().Add(s.opts.WriteTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		sess.writeMu.Unlock()
		sess.conn.Close()
	}
	return nil
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *WebSocketServer) GetConnectedPeers() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(s.sessions))
	for peerID := range s.sessions {
		peers = append(peers, peerID)
	}

	return peers
}

func (s *WebSocketServer) IsPeerConnected(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.sessions[peerID]
	return exists
}
