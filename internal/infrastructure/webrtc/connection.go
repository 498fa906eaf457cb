package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/internal/infrastructure/signal"
	"peercord/pkg/tracing"
)

// connection is the PeerConnection behind one data or media link.
type connection struct {
	id        string
	kind      string
	remote    domain.PeerID
	pc        *webrtc.PeerConnection
	transport *Transport
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	closed  bool
	onClose []func()
}

// offer negotiates an outbound connection. Failures close the connection.
func (c *connection) offer() {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.fail("failed to create offer", err)
		return
	}
	if err := c.sendLocal(signal.TypeOffer, offer); err != nil {
		c.fail("failed to send offer", err)
	}
}

// answer completes an inbound negotiation. A nil remote means the offer was
// already applied.
func (c *connection) answer(remote *webrtc.SessionDescription) {
	if remote != nil {
		if err := c.pc.SetRemoteDescription(*remote); err != nil {
			c.fail("failed to apply offer", err)
			return
		}
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.fail("failed to create answer", err)
		return
	}
	if err := c.sendLocal(signal.TypeAnswer, answer); err != nil {
		c.fail("failed to send answer", err)
	}
}

// sendLocal applies desc locally, waits for ICE gathering and sends the
// resulting description to the remote peer.
func (c *connection) sendLocal(msgType string, desc webrtc.SessionDescription) error {
	ctx, span := tracing.TraceNegotiation(context.Background(), msgType, c.kind, c.id, string(c.remote))
	defer span.End()

	start := time.Now()
	err := c.publish(msgType, desc)
	tracing.MeasureDuration(ctx, start, "negotiate")
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (c *connection) publish(msgType string, desc webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	timeout := c.transport.cfg.GatherTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-gatherComplete:
	case <-time.After(timeout):
		c.logger.Warnw("ICE gathering timed out, sending partial candidates", "timeout", timeout)
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return fmt.Errorf("no local description")
	}
	if c.isClosed() {
		return errTransportClosed
	}

	msg, err := signal.NewMessage(msgType, c.remote, signal.SessionPayload{
		ConnectionID:   c.id,
		ConnectionType: c.kind,
		SDP:            local.SDP,
	})
	if err != nil {
		return err
	}

	c.logger.Debugw("sending session description", "type", msgType, "sdp_length", len(local.SDP))
	return c.transport.send(msg)
}

func (c *connection) fail(msg string, err error) {
	c.logger.Warnw(msg, "error", err)
	c.close(true)
}

func (c *connection) handleICEConnectionState(state webrtc.ICEConnectionState) {
	c.logger.Debugw("ICE connection state changed", "state", state.String())
}

func (c *connection) handleConnectionState(state webrtc.PeerConnectionState) {
	c.logger.Infow("peer connection state changed", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		c.close(false)
	}
}

// whenClosed registers fn to run once the connection is torn down.
func (c *connection) whenClosed(fn func()) {
	c.mu.Lock()
	if !c.closed {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close tears the connection down once. With notify set the remote peer is
// told to drop its side as well.
func (c *connection) close(notify bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	hooks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	c.transport.forget(c)

	if notify {
		msg, err := signal.NewMessage(signal.TypeLeave, c.remote, signal.SessionPayload{
			ConnectionID:   c.id,
			ConnectionType: c.kind,
		})
		if err == nil {
			if err := c.transport.send(msg); err != nil {
				c.logger.Debugw("failed to send leave", "error", err)
			}
		}
	}

	if err := c.pc.Close(); err != nil {
		c.logger.Debugw("error closing peer connection", "error", err)
	}

	for _, fn := range hooks {
		fn()
	}
	c.logger.Infow("connection closed")
}
