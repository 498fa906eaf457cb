package services

import (
	"context"
	"errors"
	"fmt"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

// screenShare tracks the display capture that temporarily occupies the video
// slot. gen increments on every start and stop so late camera re-acquisitions
// can tell they were overtaken.
type screenShare struct {
	display  ports.MediaStream
	wasVideo bool
	sharing  bool
	starting bool
	gen      uint64
}

func (s *screenShare) active() bool { return s.sharing }

// StartScreenShare replaces the outgoing camera with a display capture.
// The peer sees the switch without renegotiation.
func (c *Client) StartScreenShare(ctx context.Context) error {
	err := c.do(func() error {
		switch {
		case c.localStream == nil:
			return c.fail(domain.ErrNoLocalMedia, "Camera and microphone are required")
		case c.screen.sharing || c.screen.starting:
			return domain.ErrAlreadySharing
		}
		c.screen.starting = true
		return nil
	})
	if err != nil {
		return err
	}

	display, capErr := c.devices.GetDisplayMedia(ctx)
	err = c.do(func() error {
		c.screen.starting = false
		if capErr != nil {
			c.logger.Warnw("display capture failed", "error", capErr)
			return c.fail(fmt.Errorf("display capture: %w", capErr), "Screen share failed")
		}
		track := ports.FirstTrack(display, domain.TrackVideo)
		if track == nil {
			stopStream(display)
			return c.fail(errors.New("display capture: no video track"), "Screen share failed")
		}
		track.SetEnabled(true)

		wasVideo := c.local.VideoEnabled
		if err := c.pipeline.Swap(ctx, domain.TrackVideo, track); err != nil {
			stopStream(display)
			c.logger.Errorw("replace video track failed", "error", err)
			return c.fail(err, "Screen share failed")
		}

		c.screen.display = display
		c.screen.wasVideo = wasVideo
		c.screen.sharing = true
		c.screen.gen++
		c.local.ScreenSharing = true
		c.local.VideoEnabled = true
		c.pinned = domain.PinnedLocal

		gen := c.screen.gen
		track.OnEnded(func() {
			c.post(func() {
				if c.screen.sharing && c.screen.gen == gen {
					c.logger.Infow("display capture ended by the system")
					go func() { _ = c.StopScreenShare(context.Background()) }()
				}
			})
		})

		c.logger.Infow("screen share started", "remote_id", c.remoteID())
		c.pushStatus()
		return nil
	})
	if errors.Is(err, ErrLoopClosed) && capErr == nil {
		stopStream(display)
	}
	return err
}

// StopScreenShare restores the camera and microphone. The sharing flag is
// cleared before the devices are re-opened.
func (c *Client) StopScreenShare(ctx context.Context) error {
	var gen uint64
	err := c.do(func() error {
		if !c.screen.sharing {
			return domain.ErrNotSharing
		}
		c.endScreenShare()
		gen = c.screen.gen
		return nil
	})
	if err != nil {
		return err
	}
	return c.reacquireCamera(ctx, gen)
}

// endScreenShare releases the display capture and restores the pre-share
// flags. It runs on the loop; the camera comes back through reacquireCamera.
func (c *Client) endScreenShare() {
	if c.screen.display != nil {
		for _, t := range c.screen.display.Tracks() {
			c.pipeline.Drop(t)
		}
	}
	stopStream(c.screen.display)
	c.screen.display = nil
	c.screen.sharing = false
	c.screen.gen++
	c.local.ScreenSharing = false
	c.local.VideoEnabled = c.screen.wasVideo
	if c.pinned == domain.PinnedLocal {
		c.pinned = domain.PinnedNone
	}
	c.logger.Infow("screen share stopped", "video_enabled", c.local.VideoEnabled)
	c.pushStatus()
}

// reacquireCamera opens fresh capture devices and swaps them into the
// outbound slots.
func (c *Client) reacquireCamera(ctx context.Context, gen uint64) error {
	stream, capErr := c.devices.GetUserMedia(ctx, ports.MediaConstraints{Audio: true, Video: true})
	err := c.do(func() error {
		if capErr != nil {
			c.logger.Errorw("camera re-acquisition failed", "error", capErr)
			return c.fail(fmt.Errorf("%w: %v", domain.ErrMediaPermissionDenied, capErr), "Could not restore the camera")
		}
		if c.screen.sharing || c.screen.gen != gen || c.localStream == nil {
			stopStream(stream)
			return nil
		}

		if mic := ports.FirstTrack(stream, domain.TrackAudio); mic != nil {
			mic.SetEnabled(!c.local.Muted)
			if err := c.pipeline.Swap(ctx, domain.TrackAudio, mic); err != nil {
				c.logger.Warnw("replace audio track failed", "error", err)
				mic.Stop()
			}
		}
		if cam := ports.FirstTrack(stream, domain.TrackVideo); cam != nil {
			cam.SetEnabled(c.local.VideoEnabled)
			if err := c.pipeline.Swap(ctx, domain.TrackVideo, cam); err != nil {
				c.logger.Warnw("replace video track failed", "error", err)
				cam.Stop()
			}
		}
		c.localStream = stream

		if link := c.active(); link != nil && link.media != nil {
			c.startLocalSpeaking()
		}
		return nil
	})
	if errors.Is(err, ErrLoopClosed) && capErr == nil {
		stopStream(stream)
	}
	return err
}

func (c *Client) remoteID() domain.PeerID {
	if l := c.active(); l != nil {
		return l.info.RemoteID
	}
	return ""
}
