package services

import (
	"fmt"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/core/protocol"
)

// send encodes msg onto the active data channel. Messages for a closed or
// missing channel are dropped.
func (c *Client) send(msg protocol.Message) bool {
	typ := string(msg.MessageType())
	link := c.active()
	if link == nil || link.data == nil || !link.data.IsOpen() {
		c.metrics.MessageDropped(typ)
		c.logger.Debugw("dropping message, channel not open", "type", typ)
		return false
	}
	payload, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Errorw("encode failed", "type", typ, "error", err)
		return false
	}
	if err := link.data.Send(payload); err != nil {
		c.metrics.MessageDropped(typ)
		c.logger.Warnw("send failed", "type", typ, "remote_id", link.info.RemoteID, "error", err)
		return false
	}
	c.metrics.MessageSent(typ)
	return true
}

// pushStatus sends the complete local snapshot.
func (c *Client) pushStatus() {
	c.send(protocol.NewStatus(c.local))
}

func (c *Client) pushAvatar() {
	avatar := ""
	if c.localAvatar != nil {
		avatar = c.localAvatar.DataURL()
	}
	c.send(protocol.ProfileUpdate{Avatar: avatar})
}

// SetAvatar replaces the local avatar and announces it to the peer.
func (c *Client) SetAvatar(mimeType string, data []byte) error {
	return c.do(func() error {
		blob := domain.Blob{MIMEType: mimeType, Data: data}
		if !blob.IsImage() {
			return c.fail(fmt.Errorf("%w: %s", domain.ErrNotAnImage, mimeType), "Avatars must be images")
		}
		if len(data) > c.opts.MaxImageBytes {
			return c.fail(domain.ErrImageTooLarge, "Image too large (max 3MB)")
		}
		c.localAvatar = &blob
		c.pushAvatar()
		return nil
	})
}

func (c *Client) applyRemoteStatus(link *peerLink, msg protocol.Status) {
	link.info.RemoteStatus = msg.Snapshot()
	if msg.ScreenSharing {
		c.pinned = domain.PinnedRemote
	}
}

func (c *Client) applyProfileUpdate(link *peerLink, msg protocol.ProfileUpdate) {
	if msg.Avatar == "" {
		link.info.RemoteAvatar = nil
		return
	}
	blob, err := domain.ParseDataURL(msg.Avatar)
	if err != nil {
		c.logger.Warnw("ignoring invalid avatar", "remote_id", link.info.RemoteID, "error", err)
		return
	}
	link.info.RemoteAvatar = &blob
}

// onData dispatches one inbound data-channel payload.
func (c *Client) onData(link *peerLink, data ports.DataLink, payload []byte) {
	if !c.isCurrent(link) || link.data != data {
		return
	}
	msg, err := protocol.Decode(payload)
	if err != nil {
		c.metrics.MessageDropped("invalid")
		c.logger.Warnw("discarding message", "remote_id", link.info.RemoteID, "error", err)
		return
	}
	c.metrics.MessageReceived(string(msg.MessageType()))

	switch m := msg.(type) {
	case protocol.Status:
		c.applyRemoteStatus(link, m)
	case protocol.ProfileUpdate:
		c.applyProfileUpdate(link, m)
	case protocol.Chat:
		c.receiveChat(m)
	case protocol.FileShare:
		c.receiveFile(link, m)
	case protocol.Activity:
		c.receiveActivity(link, m)
	}
}
