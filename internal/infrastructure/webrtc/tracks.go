package webrtc

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

// ErrTrackEnded is returned when writing to a stopped track.
var ErrTrackEnded = errors.New("track ended")

// LevelSource reports a coarse audio level in 0..255.
type LevelSource interface {
	AudioLevel() uint8
}

// trackLocal is implemented by tracks that can be attached to an RTP sender.
type trackLocal interface {
	TrackLocal() webrtc.TrackLocal
}

// silentFrameMax is the largest Opus frame treated as silence. Encoders in
// DTX mode and comfort-noise generators emit frames at or below this size.
const silentFrameMax = 3

// levelFromFrame maps an encoded frame size to a level. Speech frames are
// considerably larger than silence frames, which is enough for a
// speaking indicator without decoding.
func levelFromFrame(size int) uint8 {
	if size <= silentFrameMax {
		return 0
	}
	if size-silentFrameMax > 255 {
		return 255
	}
	return uint8(size - silentFrameMax)
}

// LocalTrack is an outbound capture track. Samples written while the track is
// disabled are discarded, so a muted microphone sends nothing.
type LocalTrack struct {
	kind domain.TrackKind
	rtp  *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	ended   bool
	level   uint8
	onEnded func()
	done    chan struct{}
}

func codecFor(kind domain.TrackKind) webrtc.RTPCodecCapability {
	if kind == domain.TrackVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func NewLocalTrack(kind domain.TrackKind, streamID string) (*LocalTrack, error) {
	rtp, err := webrtc.NewTrackLocalStaticSample(codecFor(kind), string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{
		kind:    kind,
		rtp:     rtp,
		enabled: true,
		done:    make(chan struct{}),
	}, nil
}

func (t *LocalTrack) ID() string                    { return t.rtp.ID() }
func (t *LocalTrack) Kind() domain.TrackKind        { return t.kind }
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.rtp }
func (t *LocalTrack) Done() <-chan struct{}         { return t.done }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LocalTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if !enabled {
		t.level = 0
	}
}

func (t *LocalTrack) AudioLevel() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// WriteSample sends one encoded frame to every bound sender.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return ErrTrackEnded
	}
	if !t.enabled {
		t.mu.Unlock()
		return nil
	}
	if t.kind == domain.TrackAudio {
		t.level = levelFromFrame(len(s.Data))
	}
	t.mu.Unlock()

	return t.rtp.WriteSample(s)
}

// Stop releases the capture. It does not fire OnEnded.
func (t *LocalTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.ended = true
	t.level = 0
	close(t.done)
}

func (t *LocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

// End marks the capture as ended by its source and fires OnEnded.
func (t *LocalTrack) End() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.level = 0
	close(t.done)
	fn := t.onEnded
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Stream is a fixed set of tracks.
type Stream struct {
	id     string
	tracks []ports.Track
}

func NewStream(id string, tracks ...ports.Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string            { return s.id }
func (s *Stream) Tracks() []ports.Track { return s.tracks }
