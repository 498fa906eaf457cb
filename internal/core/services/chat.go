package services

import (
	"context"
	"fmt"
	"strings"

	"peercord/internal/core/domain"
	"peercord/internal/core/protocol"
	"peercord/pkg/utils"
	"peercord/pkg/validation"
)

// SendChat sends a text message. The message is kept in the local history
// even if the data channel has closed in the meantime.
func (c *Client) SendChat(text string) error {
	return c.do(func() error {
		text = strings.TrimSpace(text)
		if text == "" {
			return domain.ErrEmptyMessage
		}
		if _, err := c.requireLink(); err != nil {
			return err
		}
		c.send(protocol.Chat{Text: text, Sender: string(c.session.LocalID)})
		c.record(domain.ChatMessage{
			ID:        utils.GenerateMessageID(),
			Sender:    string(c.session.LocalID),
			Text:      text,
			Outgoing:  true,
			CreatedAt: c.clock.Now(),
		})
		return nil
	})
}

// ShareImage sends an image inline as a data URL.
func (c *Client) ShareImage(fileName, mimeType string, data []byte) error {
	return c.do(func() error {
		if err := validation.ValidateImage(mimeType, len(data), c.opts.MaxImageBytes); err != nil {
			if !strings.HasPrefix(mimeType, "image/") {
				return c.fail(fmt.Errorf("%w: %v", domain.ErrNotAnImage, err), "Only images can be shared")
			}
			return c.fail(fmt.Errorf("%w: %v", domain.ErrImageTooLarge, err), "Image too large (max 3MB)")
		}
		if _, err := c.requireLink(); err != nil {
			return err
		}
		blob := domain.Blob{MIMEType: mimeType, Data: data}
		c.send(protocol.FileShare{
			File:     blob.DataURL(),
			FileName: fileName,
			FileType: mimeType,
			Sender:   string(c.session.LocalID),
		})
		c.record(domain.ChatMessage{
			ID:        utils.GenerateMessageID(),
			Sender:    string(c.session.LocalID),
			Image:     &blob,
			FileName:  fileName,
			Outgoing:  true,
			CreatedAt: c.clock.Now(),
		})
		return nil
	})
}

func (c *Client) receiveChat(m protocol.Chat) {
	c.presenter.PlayCue(domain.CueMessage)
	c.record(domain.ChatMessage{
		ID:        utils.GenerateMessageID(),
		Sender:    m.Sender,
		Text:      m.Text,
		CreatedAt: c.clock.Now(),
	})
}

func (c *Client) receiveFile(l *peerLink, m protocol.FileShare) {
	blob, err := domain.ParseDataURL(m.File)
	if err != nil || !blob.IsImage() {
		c.logger.Warnw("discarding shared file", "remote_id", l.info.RemoteID, "file_name", m.FileName, "error", err)
		return
	}
	c.presenter.PlayCue(domain.CueMessage)
	c.record(domain.ChatMessage{
		ID:        utils.GenerateMessageID(),
		Sender:    m.Sender,
		Image:     &blob,
		FileName:  m.FileName,
		CreatedAt: c.clock.Now(),
	})
}

// record appends msg to the history and hands it to the presenter.
func (c *Client) record(msg domain.ChatMessage) {
	if c.chat != nil {
		if err := c.chat.Append(context.Background(), msg); err != nil {
			c.logger.Warnw("chat history append failed", "message_id", msg.ID, "error", err)
		}
	}
	c.presenter.ShowChat(msg)
}
