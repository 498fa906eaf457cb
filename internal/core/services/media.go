package services

import (
	"context"

	"peercord/internal/core/domain"
)

// ToggleMute flips the outgoing audio track. A disabled track sends nothing.
func (c *Client) ToggleMute() error {
	return c.do(func() error {
		track := c.pipeline.Track(domain.TrackAudio)
		if c.localStream == nil || track == nil {
			return domain.ErrNoLocalMedia
		}
		c.local.Muted = !c.local.Muted
		track.SetEnabled(!c.local.Muted)
		c.playToggleCue(c.local.Muted)
		c.pushStatus()
		return nil
	})
}

// ToggleDeafen silences rendering of the remote stream locally. Local audio
// keeps flowing; the peer only learns the flag.
func (c *Client) ToggleDeafen() error {
	return c.do(func() error {
		c.local.Deafened = !c.local.Deafened
		c.playToggleCue(c.local.Deafened)
		c.pushStatus()
		return nil
	})
}

// ToggleVideo flips the camera track. While screen sharing it stops the share instead.
func (c *Client) ToggleVideo() error {
	sharing := false
	err := c.do(func() error {
		if c.localStream == nil {
			return domain.ErrNoLocalMedia
		}
		if c.screen.sharing {
			sharing = true
			return nil
		}
		track := c.pipeline.Track(domain.TrackVideo)
		if track == nil {
			return domain.ErrNoLocalMedia
		}
		c.local.VideoEnabled = !c.local.VideoEnabled
		track.SetEnabled(c.local.VideoEnabled)
		c.pushStatus()
		return nil
	})
	if err != nil || !sharing {
		return err
	}
	return c.StopScreenShare(context.Background())
}

// SetRemoteVolume sets the local playback volume of the remote stream (0..1).
func (c *Client) SetRemoteVolume(v float64) error {
	return c.do(func() error {
		switch {
		case v < 0:
			v = 0
		case v > 1:
			v = 1
		}
		c.remoteVolume = v
		return nil
	})
}

// TogglePin pins view, or clears the pin when it is already pinned.
func (c *Client) TogglePin(view domain.PinnedView) error {
	return c.do(func() error {
		if c.pinned == view {
			c.pinned = domain.PinnedNone
		} else {
			c.pinned = view
		}
		return nil
	})
}

func (c *Client) playToggleCue(off bool) {
	if off {
		c.presenter.PlayCue(domain.CueMute)
	} else {
		c.presenter.PlayCue(domain.CueUnmute)
	}
}
