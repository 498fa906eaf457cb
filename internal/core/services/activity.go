package services

import (
	"fmt"
	"math"
	"time"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/core/protocol"
	"peercord/pkg/validation"
)

// activityState holds the local players behind the link's ActivitySession.
// gen increments whenever the players are replaced so callbacks from a
// released player are ignored.
type activityState struct {
	video         ports.VideoPlayer
	audio         ports.AudioPlayer
	loadedTrack   int
	suppressUntil time.Time
	gen           uint64
}

// StartYoutube starts a watch-together session for the video behind link.
func (c *Client) StartYoutube(link string) error {
	return c.do(func() error {
		videoID, err := validation.ExtractYouTubeID(link)
		if err != nil {
			return c.fail(fmt.Errorf("%w: %v", domain.ErrInvalidVideoLink, err), domain.ErrInvalidVideoLink.Error())
		}
		l, err := c.requireLink()
		if err != nil {
			return err
		}
		c.beginActivity(l, domain.NewYoutubeActivity(videoID))
		c.sendActivity(l, protocol.Activity{
			Action:       protocol.ActionStart,
			ActivityType: domain.ActivityYoutube,
			Data:         &protocol.ActivityData{VideoID: videoID},
		})
		return nil
	})
}

// StartMusic starts the shared radio at the first playlist track.
func (c *Client) StartMusic() error {
	return c.do(func() error {
		l, err := c.requireLink()
		if err != nil {
			return err
		}
		c.beginActivity(l, domain.NewMusicActivity())
		c.sendActivity(l, protocol.Activity{
			Action:       protocol.ActionStart,
			ActivityType: domain.ActivityMusic,
			Data:         &protocol.ActivityData{TrackIndex: protocol.IntPtr(0), IsPlaying: protocol.BoolPtr(true)},
		})
		return nil
	})
}

// StopActivity tears down whichever activity is running, on both peers.
func (c *Client) StopActivity() error {
	return c.do(func() error {
		l, err := c.requireLink()
		if err != nil {
			return err
		}
		current := l.info.Activity
		if current == nil {
			return domain.ErrNoActivity
		}
		c.stopActivity(l)
		c.sendActivity(l, protocol.Activity{Action: protocol.ActionStop, ActivityType: current.Kind})
		return nil
	})
}

// MusicControl applies a radio control locally and forwards it to the peer.
func (c *Client) MusicControl(action domain.MusicControl) error {
	return c.do(func() error {
		l, err := c.requireLink()
		if err != nil {
			return err
		}
		music := musicOf(l)
		if music == nil {
			return domain.ErrNoActivity
		}

		n := len(c.opts.Playlist)
		var wire protocol.Action
		switch action {
		case domain.MusicPlay:
			music.IsPlaying = true
			wire = protocol.ActionPlayMusic
		case domain.MusicPause:
			music.IsPlaying = false
			wire = protocol.ActionPauseMusic
		case domain.MusicNext:
			music.TrackIndex = domain.WrapTrackIndex(music.TrackIndex+1, n)
			music.IsPlaying = true
			wire = protocol.ActionChangeTrack
		case domain.MusicPrev:
			music.TrackIndex = domain.WrapTrackIndex(music.TrackIndex-1, n)
			music.IsPlaying = true
			wire = protocol.ActionChangeTrack
		default:
			return fmt.Errorf("unknown music control %q", action)
		}

		c.applyMusic(music)
		c.sendActivity(l, protocol.Activity{
			Action:       wire,
			ActivityType: domain.ActivityMusic,
			Data: &protocol.ActivityData{
				TrackIndex: protocol.IntPtr(music.TrackIndex),
				IsPlaying:  protocol.BoolPtr(music.IsPlaying),
			},
		})
		return nil
	})
}

// PlayVideo, PauseVideo and SeekVideo drive the local player. Play and pause
// reach the peer through the player's state-change events.
func (c *Client) PlayVideo() error {
	return c.withVideo(func(p ports.VideoPlayer) { p.Play() })
}

func (c *Client) PauseVideo() error {
	return c.withVideo(func(p ports.VideoPlayer) { p.Pause() })
}

func (c *Client) SeekVideo(seconds float64) error {
	return c.withVideo(func(p ports.VideoPlayer) { p.SeekTo(math.Max(0, seconds)) })
}

func (c *Client) withVideo(fn func(ports.VideoPlayer)) error {
	return c.do(func() error {
		if c.activity.video == nil {
			return domain.ErrNoActivity
		}
		fn(c.activity.video)
		return nil
	})
}

func (c *Client) requireLink() (*peerLink, error) {
	l := c.active()
	if l == nil || l.data == nil {
		return nil, c.fail(domain.ErrNoActiveCall, "Connect to a peer first")
	}
	return l, nil
}

func musicOf(l *peerLink) *domain.MusicActivity {
	if l.info.Activity == nil || l.info.Activity.Kind != domain.ActivityMusic {
		return nil
	}
	return l.info.Activity.Music
}

func (c *Client) sendActivity(l *peerLink, msg protocol.Activity) {
	msg.Seq = l.nextSeq()
	c.send(msg)
}

// beginActivity replaces the link's session wholesale and opens a fresh player.
func (c *Client) beginActivity(l *peerLink, session *domain.ActivitySession) {
	c.releasePlayers()
	l.info.Activity = session
	c.pinned = domain.PinnedActivity
	gen := c.activity.gen

	if c.players == nil {
		return
	}
	switch session.Kind {
	case domain.ActivityYoutube:
		player, err := c.players.NewVideoPlayer(session.Youtube.VideoID, func(state domain.PlayerState) {
			c.post(func() { c.onPlayerState(gen, state) })
		})
		if err != nil {
			c.logger.Debugw("video player unavailable", "video_id", session.Youtube.VideoID, "error", err)
			return
		}
		c.activity.video = player
	case domain.ActivityMusic:
		player, err := c.players.NewAudioPlayer(func() {
			c.post(func() { c.onTrackEnded(gen) })
		})
		if err != nil {
			c.logger.Debugw("audio player unavailable", "error", err)
			return
		}
		c.activity.audio = player
		c.applyMusic(session.Music)
	}
}

// stopActivity clears the link's session and releases its player. Repeated
// calls are no-ops.
func (c *Client) stopActivity(l *peerLink) {
	if l.info.Activity == nil && c.activity.video == nil && c.activity.audio == nil {
		return
	}
	c.releasePlayers()
	l.info.Activity = nil
	if c.pinned == domain.PinnedActivity {
		c.pinned = domain.PinnedNone
	}
	c.logger.Infow("activity stopped", "remote_id", l.info.RemoteID)
}

func (c *Client) releasePlayers() {
	if c.activity.video != nil {
		c.activity.video.Destroy()
		c.activity.video = nil
	}
	if c.activity.audio != nil {
		c.activity.audio.Release()
		c.activity.audio = nil
	}
	c.activity.loadedTrack = -1
	c.activity.suppressUntil = time.Time{}
	c.activity.gen++
}

// applyMusic makes the audio player follow the music record. A track change
// restarts playback from the beginning of the new track.
func (c *Client) applyMusic(m *domain.MusicActivity) {
	player := c.activity.audio
	if player == nil || m == nil || len(c.opts.Playlist) == 0 {
		return
	}
	if c.activity.loadedTrack != m.TrackIndex {
		track := c.opts.Playlist[domain.WrapTrackIndex(m.TrackIndex, len(c.opts.Playlist))]
		if err := player.Load(track.Src); err != nil {
			c.logger.Debugw("track load failed", "track", track.Title, "error", err)
			return
		}
		c.activity.loadedTrack = m.TrackIndex
	}
	if !m.IsPlaying {
		player.Pause()
		return
	}
	if err := player.Play(); err != nil {
		c.logger.Debugw("playback failed", "track_index", m.TrackIndex, "error", err)
	}
}

func (c *Client) onTrackEnded(gen uint64) {
	if gen != c.activity.gen {
		return
	}
	l := c.active()
	if l == nil || musicOf(l) == nil {
		return
	}
	music := musicOf(l)
	music.TrackIndex = domain.WrapTrackIndex(music.TrackIndex+1, len(c.opts.Playlist))
	music.IsPlaying = true
	c.applyMusic(music)
	c.sendActivity(l, protocol.Activity{
		Action:       protocol.ActionChangeTrack,
		ActivityType: domain.ActivityMusic,
		Data: &protocol.ActivityData{
			TrackIndex: protocol.IntPtr(music.TrackIndex),
			IsPlaying:  protocol.BoolPtr(true),
		},
	})
}

// onPlayerState broadcasts local play/pause transitions unless they fall
// inside the echo suppression window opened by a remote sync.
func (c *Client) onPlayerState(gen uint64, state domain.PlayerState) {
	if gen != c.activity.gen || c.activity.video == nil {
		return
	}
	l := c.active()
	if l == nil || l.info.Activity == nil || l.info.Activity.Youtube == nil {
		return
	}
	pos := c.activity.video.CurrentTime()
	yt := l.info.Activity.Youtube
	yt.LastKnownState = state
	yt.LastKnownPosSec = pos

	if state != domain.PlayerPlaying && state != domain.PlayerPaused {
		return
	}
	now := c.clock.Now()
	if now.Before(c.activity.suppressUntil) {
		c.metrics.EchoSuppressed()
		return
	}
	c.sendActivity(l, protocol.Activity{
		Action:       protocol.ActionSyncState,
		ActivityType: domain.ActivityYoutube,
		Data: &protocol.ActivityData{
			PlayerState: protocol.IntPtr(int(state)),
			CurrentTime: protocol.FloatPtr(pos),
			Timestamp:   now.UnixMilli(),
		},
	})
}

func (c *Client) receiveActivity(l *peerLink, m protocol.Activity) {
	if m.Seq != 0 {
		if m.Seq <= l.recvSeq {
			c.metrics.StaleActivityDropped()
			c.logger.Debugw("dropping stale activity message", "seq", m.Seq, "last_seq", l.recvSeq)
			return
		}
		l.recvSeq = m.Seq
	}

	switch m.Action {
	case protocol.ActionStart:
		c.receiveStart(l, m)
	case protocol.ActionStop:
		c.stopActivity(l)
	case protocol.ActionSyncState:
		if m.ActivityType == domain.ActivityYoutube && m.Data != nil {
			c.applySync(l, m.Data)
		}
	case protocol.ActionPlayMusic, protocol.ActionPauseMusic, protocol.ActionChangeTrack:
		c.receiveMusic(l, m)
	default:
		c.logger.Debugw("ignoring activity action", "action", m.Action)
	}
}

func (c *Client) receiveStart(l *peerLink, m protocol.Activity) {
	switch m.ActivityType {
	case domain.ActivityYoutube:
		if m.Data == nil || m.Data.VideoID == "" {
			c.logger.Warnw("youtube start without video id", "remote_id", l.info.RemoteID)
			return
		}
		c.beginActivity(l, domain.NewYoutubeActivity(m.Data.VideoID))
		c.notifier.Info(string(l.info.RemoteID) + " started a YouTube video")
	case domain.ActivityMusic:
		c.beginActivity(l, domain.NewMusicActivity())
		c.notifier.Info(string(l.info.RemoteID) + " started PeerRadio")
	default:
		c.logger.Debugw("ignoring unknown activity", "activity_type", m.ActivityType)
	}
}

// applySync reconciles the local player with a remote sync-state. Drift up to
// the tolerance is left alone.
func (c *Client) applySync(l *peerLink, data *protocol.ActivityData) {
	player := c.activity.video
	if player == nil || l.info.Activity == nil || l.info.Activity.Youtube == nil {
		return
	}
	c.activity.suppressUntil = c.clock.Now().Add(c.opts.EchoSuppression)

	var target float64
	if data.CurrentTime != nil {
		target = *data.CurrentTime
	}
	if math.Abs(player.CurrentTime()-target) > c.opts.SyncTolerance.Seconds() {
		player.SeekTo(target)
		c.metrics.SyncSeek()
	}

	yt := l.info.Activity.Youtube
	yt.LastKnownPosSec = target
	if data.PlayerState == nil {
		return
	}
	switch state := domain.PlayerState(*data.PlayerState); state {
	case domain.PlayerPlaying:
		if player.State() != domain.PlayerPlaying {
			player.Play()
		}
		yt.LastKnownState = state
	case domain.PlayerPaused:
		if player.State() != domain.PlayerPaused {
			player.Pause()
		}
		yt.LastKnownState = state
	}
}

func (c *Client) receiveMusic(l *peerLink, m protocol.Activity) {
	music := musicOf(l)
	if music == nil {
		c.logger.Debugw("music control without a running radio", "action", m.Action)
		return
	}
	switch m.Action {
	case protocol.ActionPlayMusic:
		music.IsPlaying = true
	case protocol.ActionPauseMusic:
		music.IsPlaying = false
	case protocol.ActionChangeTrack:
		idx := 0
		if m.Data != nil && m.Data.TrackIndex != nil {
			idx = *m.Data.TrackIndex
		}
		music.TrackIndex = domain.WrapTrackIndex(idx, len(c.opts.Playlist))
		music.IsPlaying = true
	}
	c.applyMusic(music)
}
