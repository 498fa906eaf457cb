package services

import (
	"context"
	"fmt"
	"strings"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

// InitiateCall opens a data channel and then a media call to remoteID.
func (c *Client) InitiateCall(remoteID string) error {
	return c.do(func() error {
		remote := domain.PeerID(strings.TrimSpace(remoteID))
		switch {
		case remote == "":
			return domain.ErrEmptyRemoteID
		case c.session.Status != domain.StatusLoggedIn:
			return c.fail(domain.ErrNotLoggedIn, "Log in before calling")
		case c.localStream == nil:
			return c.fail(domain.ErrNoLocalMedia, "Camera and microphone are required")
		case remote == c.session.LocalID:
			return c.fail(domain.ErrSelfCall, "You cannot call yourself")
		case c.busy():
			return c.fail(domain.ErrCallInProgress, "A call is already in progress")
		}

		// An idle data-only link is replaced by the new call.
		if l := c.active(); l != nil {
			c.teardown(l, "replaced by outgoing call")
		}

		data, err := c.transport.Connect(remote)
		if err != nil || data == nil {
			c.logger.Warnw("data channel creation failed", "remote_id", remote, "error", err)
			return c.fail(fmt.Errorf("%w: data channel to %s", domain.ErrConnectionFailed, remote), "Could not create the connection")
		}
		media, err := c.transport.Call(remote, c.pipeline.Stream())
		if err != nil || media == nil {
			_ = data.Close()
			c.logger.Warnw("media call creation failed", "remote_id", remote, "error", err)
			return c.fail(fmt.Errorf("%w: media call to %s", domain.ErrConnectionFailed, remote), "Could not create the connection")
		}

		link := c.newLink(remote, domain.PhaseDialing)
		c.wireData(link, data)
		c.wireMedia(link, media)
		c.startCallMedia(link)
		c.logger.Infow("calling", "remote_id", remote)
		c.notifier.Info("Calling " + string(remote) + "...")
		return nil
	})
}

// AcceptCall answers the pending invitation with the local stream.
func (c *Client) AcceptCall() error {
	return c.do(func() error {
		link := c.pending
		if link == nil {
			return domain.ErrNoPendingCall
		}
		if c.localStream == nil {
			return c.fail(domain.ErrNoLocalMedia, "Camera and microphone are required")
		}

		c.pending = nil
		c.presenter.StopCue(domain.CueRingtone)

		if err := link.media.Answer(c.pipeline.Stream()); err != nil {
			c.logger.Errorw("answer failed", "remote_id", link.info.RemoteID, "error", err)
			c.teardown(link, "answer failed")
			return c.fail(fmt.Errorf("%w: answer: %v", domain.ErrConnectionFailed, err), "Could not answer the call")
		}

		link.media.OnStream(func(s ports.MediaStream) {
			c.post(func() { c.onRemoteStream(link, s) })
		})
		c.startCallMedia(link)
		c.setConnected(link)
		c.notifier.Success("Call accepted")
		return nil
	})
}

// RejectCall declines the pending invitation and drops its links.
func (c *Client) RejectCall() error {
	return c.do(func() error {
		link := c.pending
		if link == nil {
			return domain.ErrNoPendingCall
		}
		c.logger.Infow("call rejected", "remote_id", link.info.RemoteID)
		c.teardownQuiet(link)
		return nil
	})
}

// EndCall hangs up. Calling it with no active link is a no-op.
func (c *Client) EndCall() error {
	return c.do(func() error {
		if link := c.active(); link != nil {
			c.teardown(link, "hangup")
		}
		return nil
	})
}

func (c *Client) newLink(remote domain.PeerID, phase domain.Phase) *peerLink {
	link := &peerLink{info: domain.PeerLink{RemoteID: remote, Phase: phase}}
	c.links[remote] = link
	c.lastEnded = false
	return link
}

func (c *Client) onIncomingData(data ports.DataLink) {
	remote := data.Peer()
	if l := c.active(); l != nil {
		switch {
		case l.info.RemoteID != remote && c.busy():
			c.logger.Infow("refusing data connection while busy", "remote_id", remote)
			_ = data.Close()
			return
		case l.info.RemoteID != remote:
			c.teardown(l, "replaced by incoming connection")
		case l.info.Phase == domain.PhaseConnected:
			c.logger.Infow("refusing second data connection", "remote_id", remote)
			_ = data.Close()
			return
		}
	}

	link := c.links[remote]
	if link == nil {
		link = c.newLink(remote, domain.PhaseIdle)
	} else if link.data != nil {
		old := link.data
		link.data = nil
		_ = old.Close()
	}
	c.wireData(link, data)
	c.logger.Infow("incoming data connection", "remote_id", remote)
}

func (c *Client) onIncomingCall(media ports.MediaLink) {
	remote := media.Peer()
	if c.busy() {
		c.logger.Infow("rejecting call while busy", "remote_id", remote)
		_ = media.Close()
		c.notifier.Info("Missed call from " + string(remote))
		return
	}
	if l := c.active(); l != nil && l.info.RemoteID != remote {
		c.teardown(l, "replaced by incoming call")
	}

	link := c.links[remote]
	if link == nil {
		link = c.newLink(remote, domain.PhaseRingingInbound)
	}
	link.info.Phase = domain.PhaseRingingInbound
	c.wireMedia(link, media)
	c.pending = link

	c.logger.Infow("incoming call", "remote_id", remote)
	c.presenter.PlayCue(domain.CueRingtone)
	c.notifier.Info("Incoming call from " + string(remote))
}

func (c *Client) wireData(link *peerLink, data ports.DataLink) {
	link.data = data
	data.OnOpen(func() {
		c.post(func() { c.onDataOpen(link, data) })
	})
	data.OnData(func(payload []byte) {
		c.post(func() { c.onData(link, data, payload) })
	})
	data.OnClose(func() {
		c.post(func() { c.onDataClose(link, data) })
	})
	if data.IsOpen() {
		c.onDataOpen(link, data)
	}
}

func (c *Client) wireMedia(link *peerLink, media ports.MediaLink) {
	link.media = media
	if link.info.Phase == domain.PhaseDialing {
		media.OnStream(func(s ports.MediaStream) {
			c.post(func() { c.onRemoteStream(link, s) })
		})
	}
	media.OnClose(func() {
		c.post(func() {
			if c.isCurrent(link) && link.media == media {
				c.logger.Infow("media call closed", "remote_id", link.info.RemoteID)
				c.teardown(link, "media closed")
			}
		})
	})
}

func (c *Client) onDataOpen(link *peerLink, data ports.DataLink) {
	if !c.isCurrent(link) || link.data != data || link.opened {
		return
	}
	link.opened = true
	c.logger.Infow("data channel open", "remote_id", link.info.RemoteID)
	c.notifier.Success("Connected to " + string(link.info.RemoteID))
	c.presenter.PlayCue(domain.CueJoin)

	c.pushStatus()
	if c.localAvatar != nil {
		c.pushAvatar()
	}
}

func (c *Client) onDataClose(link *peerLink, data ports.DataLink) {
	if !c.isCurrent(link) || link.data != data {
		return
	}
	c.logger.Infow("data channel closed", "remote_id", link.info.RemoteID)
	if link.opened || link.info.Phase != domain.PhaseIdle {
		c.notifier.Error("Connection lost")
	}
	c.teardown(link, "data closed")
}

// startCallMedia binds the outbound pipeline and local analysis to a call.
func (c *Client) startCallMedia(link *peerLink) {
	c.pipeline.Bind(link.media.Senders())
	c.startLocalSpeaking()
}

func (c *Client) onRemoteStream(link *peerLink, stream ports.MediaStream) {
	if !c.isCurrent(link) {
		return
	}
	link.remoteStream = stream
	if link.info.Phase == domain.PhaseDialing {
		c.setConnected(link)
	}
	c.remoteSpeaking.Start(stream, func(gen uint64, speaking bool) {
		c.post(func() {
			if c.remoteSpeaking.Current(gen) {
				c.speakingRemote = speaking
			}
		})
	})
	c.speakingRemote = false
}

func (c *Client) setConnected(link *peerLink) {
	link.info.Phase = domain.PhaseConnected
	link.info.ConnectedAt = c.clock.Now()
	c.metrics.CallStarted()
	c.logger.Infow("call connected", "remote_id", link.info.RemoteID)
}

func (c *Client) startLocalSpeaking() {
	c.speakingLocal = false
	c.localSpeaking.Start(c.pipeline.Stream(), func(gen uint64, speaking bool) {
		c.post(func() {
			if c.localSpeaking.Current(gen) {
				c.speakingLocal = speaking
			}
		})
	})
}

// teardownQuiet drops a link without the hang-up cue, used for rejections.
func (c *Client) teardownQuiet(link *peerLink) {
	c.release(link)
}

// teardown closes both transport handles and resets all per-call state.
func (c *Client) teardown(link *peerLink, reason string) {
	announce := link.opened || link.info.Phase == domain.PhaseConnected || link.info.Phase == domain.PhaseDialing
	c.release(link)
	c.logger.Infow("call ended", "remote_id", link.info.RemoteID, "reason", reason)
	if announce {
		c.lastEnded = true
		c.presenter.PlayCue(domain.CueLeave)
		c.notifier.Info("Call ended")
	}
}

func (c *Client) release(link *peerLink) {
	if !c.isCurrent(link) {
		return
	}
	delete(c.links, link.info.RemoteID)
	if c.pending == link {
		c.pending = nil
		c.presenter.StopCue(domain.CueRingtone)
	}

	c.remoteSpeaking.Stop()
	c.localSpeaking.Stop()
	c.speakingLocal, c.speakingRemote = false, false

	if link.media != nil {
		_ = link.media.Close()
	}
	if link.data != nil {
		_ = link.data.Close()
	}

	c.stopActivity(link)
	if c.screen.active() {
		c.endScreenShare()
		gen := c.screen.gen
		go func() { _ = c.reacquireCamera(context.Background(), gen) }()
	}
	c.pipeline.Unbind()
	c.pinned = domain.PinnedNone

	if link.info.Phase == domain.PhaseConnected {
		c.metrics.CallEnded(c.clock.Since(link.info.ConnectedAt).Seconds())
	}
	link.info.Phase = domain.PhaseEnded
	link.info.RemoteStatus = domain.StatusSnapshot{}
	link.info.RemoteAvatar = nil
	link.remoteStream = nil
}
