package ports

import "peercord/internal/core/domain"

// VideoPlayer is the embedded watch-together player.
type VideoPlayer interface {
	Play()
	Pause()
	SeekTo(seconds float64)
	State() domain.PlayerState
	CurrentTime() float64
	Destroy()
}

// AudioPlayer is the linear audio element used by the radio.
type AudioPlayer interface {
	Load(src string) error
	Play() error
	Pause()
	Release()
}

// ActivityMedia instantiates playback resources for shared activities.
type ActivityMedia interface {
	NewVideoPlayer(videoID string, onStateChange func(domain.PlayerState)) (VideoPlayer, error)
	NewAudioPlayer(onEnded func()) (AudioPlayer, error)
}
