package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/infrastructure/webrtc"
)

var ErrNoConstraints = errors.New("at least one of audio or video must be requested")

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = time.Second / 15
)

// Opus TOC byte for a 20 ms CELT frame followed by an empty payload. Decoders
// render it as silence.
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

// talkingFrameSize is the size of the frames sent while talking is simulated.
const talkingFrameSize = 80

// vp8Frame is a placeholder 320x240 VP8 key frame header padded to a
// plausible size.
var vp8Frame = func() []byte {
	frame := make([]byte, 256)
	copy(frame, []byte{0x50, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01, 0xf0, 0x00})
	return frame
}()

// Devices is a headless capture source. Audio tracks carry silence unless
// talking is switched on; video tracks carry placeholder key frames.
type Devices struct {
	clock  clock.Clock
	logger *zap.SugaredLogger

	mu      sync.Mutex
	talking bool
	display []*webrtc.LocalTrack
}

func NewDevices(clk clock.Clock, logger *zap.SugaredLogger) *Devices {
	return &Devices{clock: clk, logger: logger}
}

func (d *Devices) GetUserMedia(ctx context.Context, c ports.MediaConstraints) (ports.MediaStream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNoConstraints
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "camera-" + uuid.NewString()
	var tracks []ports.Track
	if c.Audio {
		track, err := webrtc.NewLocalTrack(domain.TrackAudio, streamID)
		if err != nil {
			return nil, err
		}
		go d.generate(track, audioFrameInterval, d.audioFrame)
		tracks = append(tracks, track)
	}
	if c.Video {
		track, err := webrtc.NewLocalTrack(domain.TrackVideo, streamID)
		if err != nil {
			stopAll(tracks)
			return nil, err
		}
		go d.generate(track, videoFrameInterval, videoFrame)
		tracks = append(tracks, track)
	}

	d.logger.Infow("capture started", "stream_id", streamID, "audio", c.Audio, "video", c.Video)
	return webrtc.NewStream(streamID, tracks...), nil
}

// GetDisplayMedia returns a single video track standing in for a screen
// capture. EndDisplayCapture ends it the way the OS picker would.
func (d *Devices) GetDisplayMedia(ctx context.Context) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "screen-" + uuid.NewString()
	track, err := webrtc.NewLocalTrack(domain.TrackVideo, streamID)
	if err != nil {
		return nil, err
	}
	go d.generate(track, videoFrameInterval, videoFrame)

	d.mu.Lock()
	d.display = append(d.display, track)
	d.mu.Unlock()

	d.logger.Infow("display capture started", "stream_id", streamID)
	return webrtc.NewStream(streamID, track), nil
}

// EndDisplayCapture ends every live display track and fires their ended
// handlers. It reports how many captures were ended.
func (d *Devices) EndDisplayCapture() int {
	d.mu.Lock()
	display := d.display
	d.display = nil
	d.mu.Unlock()

	n := 0
	for _, track := range display {
		select {
		case <-track.Done():
			continue
		default:
		}
		track.End()
		n++
	}
	return n
}

// SetTalking switches audio tracks between silence and speech-sized frames.
func (d *Devices) SetTalking(talking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.talking = talking
}

func (d *Devices) audioFrame() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.talking {
		return make([]byte, talkingFrameSize)
	}
	return silentOpusFrame
}

func videoFrame() []byte { return vp8Frame }

// generate writes one frame per interval until the track stops.
func (d *Devices) generate(track *webrtc.LocalTrack, interval time.Duration, frame func() []byte) {
	ticker := d.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-track.Done():
			return
		case <-ticker.C:
			err := track.WriteSample(pionmedia.Sample{Data: frame(), Duration: interval})
			if errors.Is(err, webrtc.ErrTrackEnded) {
				return
			}
			if err != nil {
				d.logger.Debugw("error writing sample", "track_id", track.ID(), "error", err)
			}
		}
	}
}

func stopAll(tracks []ports.Track) {
	for _, t := range tracks {
		t.Stop()
	}
}
