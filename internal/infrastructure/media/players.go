package media

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

var (
	ErrNoVideoID      = errors.New("video id is required")
	ErrNoSource       = errors.New("audio source is required")
	ErrNothingLoaded  = errors.New("no track loaded")
	ErrPlayerReleased = errors.New("player released")
)

// Players provides clock-driven stand-ins for the embedded video player and
// the audio element. Nothing is decoded; positions advance with the clock.
type Players struct {
	clock       clock.Clock
	trackLength time.Duration
	logger      *zap.SugaredLogger
}

// NewPlayers creates the factory. Every audio source is treated as
// trackLength long.
func NewPlayers(clk clock.Clock, trackLength time.Duration, logger *zap.SugaredLogger) *Players {
	return &Players{clock: clk, trackLength: trackLength, logger: logger}
}

func (p *Players) NewVideoPlayer(videoID string, onStateChange func(domain.PlayerState)) (ports.VideoPlayer, error) {
	if videoID == "" {
		return nil, ErrNoVideoID
	}
	p.logger.Debugw("video player created", "video_id", videoID)
	return &videoPlayer{
		clock:    p.clock,
		videoID:  videoID,
		state:    domain.PlayerUnstarted,
		onChange: onStateChange,
	}, nil
}

func (p *Players) NewAudioPlayer(onEnded func()) (ports.AudioPlayer, error) {
	return &audioPlayer{
		clock:   p.clock,
		length:  p.trackLength,
		onEnded: onEnded,
		logger:  p.logger,
	}, nil
}

type videoPlayer struct {
	clock   clock.Clock
	videoID string

	mu        sync.Mutex
	state     domain.PlayerState
	position  float64
	startedAt time.Time
	destroyed bool
	onChange  func(domain.PlayerState)
}

func (v *videoPlayer) Play() {
	v.mu.Lock()
	if v.destroyed || v.state == domain.PlayerPlaying {
		v.mu.Unlock()
		return
	}
	v.state = domain.PlayerPlaying
	v.startedAt = v.clock.Now()
	fn := v.onChange
	v.mu.Unlock()

	if fn != nil {
		fn(domain.PlayerPlaying)
	}
}

func (v *videoPlayer) Pause() {
	v.mu.Lock()
	if v.destroyed || v.state != domain.PlayerPlaying {
		v.mu.Unlock()
		return
	}
	v.position = v.currentLocked()
	v.state = domain.PlayerPaused
	fn := v.onChange
	v.mu.Unlock()

	if fn != nil {
		fn(domain.PlayerPaused)
	}
}

func (v *videoPlayer) SeekTo(seconds float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	v.position = seconds
	v.startedAt = v.clock.Now()
}

func (v *videoPlayer) State() domain.PlayerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *videoPlayer) CurrentTime() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentLocked()
}

func (v *videoPlayer) currentLocked() float64 {
	if v.state != domain.PlayerPlaying {
		return v.position
	}
	return v.position + v.clock.Since(v.startedAt).Seconds()
}

func (v *videoPlayer) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.destroyed = true
	v.onChange = nil
}

type audioPlayer struct {
	clock   clock.Clock
	length  time.Duration
	logger  *zap.SugaredLogger
	onEnded func()

	mu        sync.Mutex
	src       string
	played    time.Duration
	startedAt time.Time
	playing   bool
	released  bool
	timer     *clock.Timer
	gen       uint64
}

// Load replaces the source and rewinds to the start.
func (a *audioPlayer) Load(src string) error {
	if src == "" {
		return ErrNoSource
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return ErrPlayerReleased
	}
	a.stopLocked()
	a.src = src
	a.played = 0
	a.logger.Debugw("audio source loaded", "src", src)
	return nil
}

func (a *audioPlayer) Play() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.released:
		return ErrPlayerReleased
	case a.src == "":
		return ErrNothingLoaded
	case a.playing:
		return nil
	}

	a.playing = true
	a.startedAt = a.clock.Now()
	a.gen++
	gen := a.gen
	a.timer = a.clock.AfterFunc(a.length-a.played, func() { a.ended(gen) })
	return nil
}

func (a *audioPlayer) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.playing {
		return
	}
	a.played += a.clock.Since(a.startedAt)
	a.stopLocked()
}

func (a *audioPlayer) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.released = true
	a.onEnded = nil
}

func (a *audioPlayer) stopLocked() {
	a.playing = false
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *audioPlayer) ended(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.released {
		a.mu.Unlock()
		return
	}
	a.playing = false
	a.played = 0
	a.timer = nil
	fn := a.onEnded
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
}
