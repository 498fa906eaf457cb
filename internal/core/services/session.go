package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/pkg/utils"
	"peercord/pkg/validation"
)

// Login derives the local identity from username, opens the capture devices
// and registers with the transport. Registration completes asynchronously;
// the session moves to LoggedIn when the transport reports open.
func (c *Client) Login(ctx context.Context, username string) error {
	var localID domain.PeerID
	err := c.do(func() error {
		switch c.session.Status {
		case domain.StatusConnecting, domain.StatusLoggedIn:
			return domain.ErrAlreadyLoggedIn
		}
		clean := validation.SanitizeUsername(username)
		if clean == "" {
			return domain.ErrInvalidUsername
		}
		localID = domain.PeerID(utils.DerivePeerID(clean, c.suffix()))
		c.session = domain.Session{
			LocalID:     localID,
			DisplayName: strings.TrimSpace(username),
			Status:      domain.StatusConnecting,
		}
		c.logger.Infow("starting session", "peer_id", localID)
		return nil
	})
	if err != nil {
		return err
	}

	stream, err := c.devices.GetUserMedia(ctx, ports.MediaConstraints{Audio: true, Video: true})
	if err != nil {
		c.logger.Warnw("media acquisition failed", "peer_id", localID, "error", err)
		_ = c.do(func() error {
			c.session.Status = domain.StatusError
			c.session.LoginError = domain.ErrMediaPermissionDenied.Error()
			return nil
		})
		return fmt.Errorf("%w: %v", domain.ErrMediaPermissionDenied, err)
	}

	if err := c.do(func() error {
		c.attachLocalStream(stream)
		return nil
	}); err != nil {
		stopStream(stream)
		return err
	}

	if err := c.transport.Register(ctx, localID, &transportEvents{c: c}); err != nil {
		c.logger.Errorw("transport registration failed", "peer_id", localID, "error", err)
		_ = c.do(func() error {
			c.onRegistrationError(err)
			return nil
		})
		return fmt.Errorf("register %s: %w", localID, err)
	}
	return nil
}

// attachLocalStream installs the camera/microphone stream with the camera off.
func (c *Client) attachLocalStream(stream ports.MediaStream) {
	stopStream(c.localStream)
	c.localStream = stream
	for _, t := range stream.Tracks() {
		if t.Kind() == domain.TrackVideo {
			t.SetEnabled(false)
		}
	}
	c.local.VideoEnabled = false
	c.pipeline.Attach(stream)
}

func (c *Client) onRegistrationError(err error) {
	var terr *ports.TransportError
	if errors.As(err, &terr) && terr.Kind == ports.ErrKindPeerUnavailable {
		c.onPeerUnavailable()
		return
	}
	if c.session.Status != domain.StatusLoggedIn {
		c.session.Status = domain.StatusError
		c.session.LoginError = "Error: " + err.Error()
		return
	}
	c.notifier.Error("Connection error: " + err.Error())
}

func (c *Client) onPeerUnavailable() {
	c.notifier.Error(domain.ErrPeerUnavailable.Error())
	for _, l := range c.links {
		if l.info.Phase == domain.PhaseDialing {
			c.teardown(l, "peer unavailable")
		}
	}
}

// transportEvents forwards transport callbacks onto the event loop.
type transportEvents struct {
	c *Client
}

func (e *transportEvents) OnOpen() {
	e.c.post(func() {
		c := e.c
		c.session.Status = domain.StatusLoggedIn
		c.session.LoginError = ""
		c.logger.Infow("registered with signaling", "peer_id", c.session.LocalID)
		c.notifier.Success("Logged in as " + string(c.session.LocalID))
	})
}

func (e *transportEvents) OnConnection(link ports.DataLink) {
	e.c.post(func() { e.c.onIncomingData(link) })
}

func (e *transportEvents) OnCall(link ports.MediaLink) {
	e.c.post(func() { e.c.onIncomingCall(link) })
}

func (e *transportEvents) OnError(err *ports.TransportError) {
	e.c.post(func() {
		e.c.logger.Warnw("transport error", "kind", err.Kind, "error", err.Message)
		e.c.onRegistrationError(err)
	})
}
